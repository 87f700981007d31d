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

import "time"

//nolint:gochecknoglobals
var (
	// NopMetrics is a Metrics implementation that discards everything.
	NopMetrics Metrics = nopMetrics{}
)

// Metrics receives pool observability signals. Implementations export
// them however they like; the pool only emits. Methods are invoked from
// the pool's serialization point and must return quickly and must not
// call back into the pool.
type Metrics interface {
	// Connections reports the current number of live connections.
	Connections(n int)
	// Leases reports the current number of active leases.
	Leases(n int)
	// AcquireLatency reports how long a served acquisition waited
	// between its first enqueue and being granted a lease.
	AcquireLatency(d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) Connections(int)                {}
func (nopMetrics) Leases(int)                     {}
func (nopMetrics) AcquireLatency(_ time.Duration) {}
