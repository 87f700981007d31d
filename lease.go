// Copyright 2024-2026 Nexus HTTP Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package connpool

import "github.com/nexushttp/connpool/conn"

// Lease is a claim on one unit of a pooled connection's capacity. It is
// the sole handle through which that unit is given back: Release it
// exactly once, from any goroutine, when the logical exchange is done.
type Lease struct {
	pool  *Pool
	entry *entry

	// guarded by pool.mu
	released bool
}

// Conn returns the connection serving this lease. The caller may drive
// protocol exchanges on it up to its concurrency but must not close it;
// lifecycle stays with the pool.
func (l *Lease) Conn() conn.Conn {
	return l.entry.conn
}

// Slot returns the index of the slot the serving connection belongs to.
func (l *Lease) Slot() int {
	return l.entry.slot
}

// Release returns the capacity unit to the pool, which immediately
// offers it to the oldest compatible waiter. Releasing twice returns
// ErrLeaseReleased and leaves the accounting untouched.
func (l *Lease) Release() error {
	return l.pool.release(l)
}
