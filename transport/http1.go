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

package transport

import (
	"net"
	"sync"
	"time"

	"github.com/nexushttp/connpool/conn"
)

var _ conn.Conn = (*HTTP1Conn)(nil)

// HTTP1Conn is a pooled HTTP/1.x connection: one logical exchange at a
// time, concurrency fixed at 1. The protocol layer performs I/O on
// NetConn and reports response completions through Touch.
type HTTP1Conn struct {
	netConn net.Conn
	evict   evictHooks

	mu sync.Mutex
	// +checklocks:mu
	closed bool
	// +checklocks:mu
	lastActive time.Time
}

func newHTTP1Conn(netConn net.Conn) *HTTP1Conn {
	return &HTTP1Conn{netConn: netConn}
}

// NetConn returns the underlying network connection for the protocol
// layer to drive.
func (c *HTTP1Conn) NetConn() net.Conn {
	return c.netConn
}

func (c *HTTP1Conn) IsValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *HTTP1Conn) Concurrency() int {
	return 1
}

func (c *HTTP1Conn) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

// Touch records that a response just completed on this connection,
// feeding recency-based selection.
func (c *HTTP1Conn) Touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

func (c *HTTP1Conn) OnEvict(fn func()) (remove func()) {
	return c.evict.add(fn)
}

// OnConcurrencyChange registers a callback that will never fire: an
// HTTP/1 connection's concurrency is fixed.
func (c *HTTP1Conn) OnConcurrencyChange(func(int)) (remove func()) {
	return func() {}
}

func (c *HTTP1Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	err := c.netConn.Close()
	c.evict.fire()
	return err
}
