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
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/nexushttp/connpool/conn"
)

var _ conn.Conn = (*HTTP2Conn)(nil)

// HTTP2Conn is a pooled HTTP/2 connection backed by an
// [http2.ClientConn]. Its concurrency starts at the connector's
// configured cap and follows the server's SETTINGS as they are
// observed (see RefreshConcurrency).
type HTTP2Conn struct {
	cc          *http2.ClientConn
	evict       evictHooks
	concurrency concurrencyHooks

	mu sync.Mutex
	// +checklocks:mu
	closed bool
	// +checklocks:mu
	streams int
	// +checklocks:mu
	lastActive time.Time
}

func (c *connector) newHTTP2Conn(netConn net.Conn) (conn.ConnectResult, error) {
	t := &http2.Transport{}
	if c.tlsConfig == nil {
		// h2c prior knowledge
		t.AllowHTTP = true
	}
	cc, err := t.NewClientConn(netConn)
	if err != nil {
		_ = netConn.Close()
		return conn.ConnectResult{}, err
	}
	h2 := &HTTP2Conn{cc: cc, streams: c.maxStreams}
	return conn.ConnectResult{
		Conn:        h2,
		Concurrency: c.maxStreams,
		Slot:        conn.SlotHTTP2,
	}, nil
}

// RoundTrip sends a request over this connection and records the
// response completion for recency-based selection.
func (c *HTTP2Conn) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := c.cc.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	c.Touch()
	return resp, nil
}

func (c *HTTP2Conn) IsValid() bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return false
	}
	state := c.cc.State()
	return !state.Closed && !state.Closing
}

func (c *HTTP2Conn) Concurrency() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams
}

// RefreshConcurrency re-reads the stream limit advertised by the
// server and notifies observers if it changed. The protocol layer
// calls this after processing a SETTINGS frame; the pool then adjusts
// the entry's capacity.
func (c *HTTP2Conn) RefreshConcurrency() {
	state := c.cc.State()
	advertised := int(state.MaxConcurrentStreams)
	if advertised < 1 {
		return
	}
	c.mu.Lock()
	changed := advertised != c.streams
	c.streams = advertised
	c.mu.Unlock()
	if changed {
		c.concurrency.fire(advertised)
	}
}

func (c *HTTP2Conn) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

// Touch records that a response just completed on this connection.
func (c *HTTP2Conn) Touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

func (c *HTTP2Conn) OnEvict(fn func()) (remove func()) {
	return c.evict.add(fn)
}

func (c *HTTP2Conn) OnConcurrencyChange(fn func(int)) (remove func()) {
	return c.concurrency.add(fn)
}

func (c *HTTP2Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	err := c.cc.Close()
	c.evict.fire()
	return err
}
