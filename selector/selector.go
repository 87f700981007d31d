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

// Package selector provides functionality for selecting which pooled
// connection serves the next acquisition. Policies only ever see
// connections that are valid and have spare capacity; which policy is
// used is configurable on the pool.
package selector

import "github.com/nexushttp/connpool/conn"

// Candidate is the pool's view of one eligible connection offered to a
// Selector. Every candidate has Available() > 0.
type Candidate interface {
	// Conn returns the underlying connection.
	Conn() conn.Conn
	// Capacity returns the maximum number of concurrent exchanges
	// the connection can currently carry.
	Capacity() int
	// Available returns the number of capacity units not yet leased.
	Available() int
}

// Selector chooses which candidate serves the next acquisition. A
// Selector belongs to a single pool and is always invoked from the
// pool's serialization point, so implementations do not need to be
// safe for concurrent use by multiple pools.
type Selector interface {
	// Select returns one of the given candidates, or nil to decline.
	// The candidates slice is never empty.
	Select(candidates []Candidate) Candidate
}

// SelectorFunc adapts a function to the Selector interface.
type SelectorFunc func(candidates []Candidate) Candidate

func (f SelectorFunc) Select(candidates []Candidate) Candidate {
	return f(candidates)
}
