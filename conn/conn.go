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

// Package conn provides the representation of a physical connection as
// seen by the pool in [github.com/nexushttp/connpool]. A connection
// carries one (HTTP/1) or many (HTTP/2) concurrent logical exchanges;
// the pool only observes its validity and concurrency, it never drives
// the protocol itself.
package conn

import (
	"context"
	"time"
)

// Well-known slot indexes. A slot is a protocol-class partition of the
// pool with its own connection-count limit. Pools are not limited to
// these two slots; connectors may define additional classes.
const (
	// AnySlot indicates no slot preference: an acquisition may be
	// served by a connection from any slot.
	AnySlot = -1
	// SlotHTTP1 is the conventional slot for HTTP/1.x connections.
	SlotHTTP1 = 0
	// SlotHTTP2 is the conventional slot for HTTP/2 connections.
	SlotHTTP2 = 1
)

// Conn represents a physical connection held by a pool. The protocol
// layer that performs I/O shares the same value; the pool only reads
// its state and registers observers.
type Conn interface {
	// IsValid reports whether the connection can still carry new
	// exchanges. The pool re-checks this on every use and never
	// caches the result.
	IsValid() bool
	// Concurrency returns the current maximum number of concurrent
	// logical exchanges this connection can carry. It is 1 for
	// HTTP/1 connections and the negotiated stream limit for HTTP/2,
	// which can change at runtime (see OnConcurrencyChange).
	Concurrency() int
	// LastActive returns the time the connection last completed a
	// response, or the zero time if it never has. Selection policies
	// use this to prefer recently active connections.
	LastActive() time.Time
	// OnEvict registers a callback invoked when the transport
	// unilaterally drops the connection. The returned function
	// removes the registration.
	OnEvict(fn func()) (remove func())
	// OnConcurrencyChange registers a callback invoked when the
	// connection's concurrency changes (e.g. an HTTP/2 settings
	// update). The returned function removes the registration.
	OnConcurrencyChange(fn func(concurrency int)) (remove func())
	// Close releases the transport resources. Closing an evicted or
	// already-closed connection is a no-op.
	Close() error
}

// ConnectResult is the outcome of a successful connection attempt.
type ConnectResult struct {
	// Conn is the newly established connection.
	Conn Conn
	// Concurrency is the connection's initial capacity; it must be
	// at least 1.
	Concurrency int
	// Slot classifies the connection into one of the pool's slots.
	// The classification must be consistent for a connection's
	// lifetime.
	Slot int
}

// Connector establishes new physical connections on demand. The pool
// invokes Connect from its own goroutine; implementations may block
// until the connection is established or ctx is done.
type Connector interface {
	Connect(ctx context.Context) (ConnectResult, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context) (ConnectResult, error)

func (f ConnectorFunc) Connect(ctx context.Context) (ConnectResult, error) {
	return f(ctx)
}
