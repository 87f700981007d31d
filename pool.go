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

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nexushttp/connpool/conn"
	"github.com/nexushttp/connpool/internal"
	"github.com/nexushttp/connpool/selector"
)

// DefaultQueueSize is the maximum number of queued waiters when no
// WithQueueSize option is used.
const DefaultQueueSize = 32

// Slot describes one protocol-class partition of a pool. Each slot has
// an independent connection-count limit; a connection belongs to
// exactly one slot for its lifetime.
type Slot struct {
	// Name identifies the slot, e.g. "http/1.1" or "h2".
	Name string
	// MaxConnections bounds how many connections (established plus
	// in flight) the slot may hold.
	MaxConnections int
}

// DefaultSlots returns the conventional two-slot topology: up to five
// HTTP/1.1 connections and one HTTP/2 connection.
func DefaultSlots() []Slot {
	return []Slot{
		{Name: "http/1.1", MaxConnections: 5},
		{Name: "h2", MaxConnections: 1},
	}
}

// AcquireListener observes lifecycle transitions of a pending
// acquisition. OnConnect is invoked when the acquisition triggers a new
// connection attempt; OnEnqueue when it is parked in the waiter queue.
// Endpoint uses these to arm the lease timeout exactly once.
type AcquireListener interface {
	OnEnqueue(w *Waiter)
	OnConnect(w *Waiter)
}

// Waiter is the handle for a not-yet-served acquisition. It can be
// cancelled via [Pool.Cancel].
type Waiter struct {
	// immutable after Acquire
	slot     int
	listener AcquireListener
	deliver  func(*Lease, error)
	//nolint:containedctx // retained for connect attempts made on this waiter's behalf
	ctx context.Context

	// remaining fields guarded by the owning pool's mu
	enqueuedAt time.Time
	connecting bool
	done       bool
}

// PoolOption configures a Pool.
type PoolOption interface {
	applyPool(*Pool)
}

// WithSlots configures the pool's slot topology. If not used,
// DefaultSlots() applies.
func WithSlots(slots ...Slot) PoolOption {
	return poolOptionFunc(func(p *Pool) {
		p.slotConfig = slots
	})
}

// WithQueueSize bounds the number of queued waiters. Acquisitions
// beyond the bound fail immediately with ErrQueueFull; the queue never
// grows without limit.
func WithQueueSize(n int) PoolOption {
	return poolOptionFunc(func(p *Pool) {
		p.queueMax = n
	})
}

// WithSelector configures the policy that picks which eligible
// connection serves an acquisition. The default is
// [selector.NewMostRecent].
func WithSelector(sel selector.Selector) PoolOption {
	return poolOptionFunc(func(p *Pool) {
		p.sel = sel
	})
}

// WithMetrics configures where the pool reports its gauges and
// latencies. The default discards them.
func WithMetrics(metrics Metrics) PoolOption {
	return poolOptionFunc(func(p *Pool) {
		p.metrics = metrics
	})
}

type poolOptionFunc func(*Pool)

func (f poolOptionFunc) applyPool(p *Pool) {
	f(p)
}

// Pool multiplexes logical acquisitions onto a bounded set of physical
// connections, partitioned into protocol-class slots. All mutating
// operations funnel through one mutex, so the accounting invariants
// (at most one lease per capacity unit, FIFO fairness among waiters)
// hold without any locking by callers. Completion callbacks are always
// invoked outside that mutex.
type Pool struct {
	connector  conn.Connector
	sel        selector.Selector
	metrics    Metrics
	clock      internal.Clock
	queueMax   int
	slotConfig []Slot

	mu sync.Mutex
	// +checklocks:mu
	slots []*poolSlot
	// +checklocks:mu
	waiters []*Waiter
	// +checklocks:mu
	leases int
	// +checklocks:mu
	closed bool
}

type poolSlot struct {
	index int
	name  string
	max   int
	// remaining fields guarded by the owning pool's mu
	entries    []*entry
	connecting int
}

// entry wraps one live connection with its capacity accounting. It
// implements selector.Candidate.
type entry struct {
	conn                  conn.Conn
	slot                  int
	removeEvictHook       func()
	removeConcurrencyHook func()

	// remaining fields guarded by the owning pool's mu
	capacity int
	leased   int
	removed  bool
}

func (e *entry) Conn() conn.Conn { return e.conn }
func (e *entry) Capacity() int   { return e.capacity }
func (e *entry) Available() int  { return e.capacity - e.leased }

// New creates a pool that obtains connections from the given connector.
func New(connector conn.Connector, options ...PoolOption) *Pool {
	pool := &Pool{
		connector: connector,
		clock:     internal.NewRealClock(),
	}
	for _, opt := range options {
		opt.applyPool(pool)
	}
	pool.applyDefaults()
	pool.slots = make([]*poolSlot, len(pool.slotConfig))
	for i, cfg := range pool.slotConfig {
		pool.slots[i] = &poolSlot{index: i, name: cfg.Name, max: cfg.MaxConnections}
	}
	return pool
}

func (p *Pool) applyDefaults() {
	if p.slotConfig == nil {
		p.slotConfig = DefaultSlots()
	}
	if p.queueMax == 0 {
		p.queueMax = DefaultQueueSize
	}
	if p.sel == nil {
		p.sel = selector.NewMostRecent()
	}
	if p.metrics == nil {
		p.metrics = NopMetrics
	}
}

// completion is a deferred callback invocation, queued while the pool
// mutex is held and run after it is released.
type completion struct {
	deliver func(*Lease, error)
	lease   *Lease
	err     error
}

func runCompletions(completions []completion) {
	for _, c := range completions {
		c.deliver(c.lease, c.err)
	}
}

// Acquire requests one unit of connection capacity. slot names the
// preferred protocol slot, or [conn.AnySlot] for no preference. The
// deliver callback is invoked exactly once, from outside the pool's
// lock, with either a lease or an error. The returned waiter can be
// passed to Cancel until deliver has run.
//
// ctx is retained only for connection attempts made on this waiter's
// behalf; cancelling it does not by itself cancel the acquisition.
func (p *Pool) Acquire(ctx context.Context, slot int, listener AcquireListener, deliver func(*Lease, error)) *Waiter {
	waiter := &Waiter{slot: slot, listener: listener, deliver: deliver, ctx: ctx}

	p.mu.Lock()
	waiter.enqueuedAt = p.clock.Now()
	switch {
	case p.closed:
		waiter.done = true
		p.mu.Unlock()
		deliver(nil, ErrPoolClosed)

	case slot < conn.AnySlot || slot >= len(p.slots):
		waiter.done = true
		p.mu.Unlock()
		deliver(nil, fmt.Errorf("unknown slot %d", slot))

	default:
		p.acquireLocked(waiter)
	}
	return waiter
}

// acquireLocked runs the admission state machine for a new waiter. It
// releases p.mu before returning.
func (p *Pool) acquireLocked(waiter *Waiter) {
	if e := p.selectLocked(waiter); e != nil {
		lease := p.grantLocked(e, waiter)
		p.mu.Unlock()
		waiter.deliver(lease, nil)
		return
	}
	if target := p.connectTargetLocked(waiter); target != nil {
		target.connecting++
		waiter.connecting = true
		p.waiters = append(p.waiters, waiter)
		p.mu.Unlock()
		// The timer must be armed before the attempt can complete.
		if waiter.listener != nil {
			waiter.listener.OnConnect(waiter)
		}
		go p.runConnect(target.index, waiter)
		return
	}
	if p.queuedCountLocked() >= p.queueMax {
		waiter.done = true
		p.mu.Unlock()
		waiter.deliver(nil, ErrQueueFull)
		return
	}
	p.waiters = append(p.waiters, waiter)
	p.mu.Unlock()
	if waiter.listener != nil {
		waiter.listener.OnEnqueue(waiter)
	}
}

// selectLocked offers the eligible entries to the selection policy and
// returns the chosen one, or nil when no entry can serve the waiter.
//
// +checklocks:p.mu
func (p *Pool) selectLocked(waiter *Waiter) *entry {
	var candidates []selector.Candidate
	for _, s := range p.slots {
		if waiter.slot != conn.AnySlot && waiter.slot != s.index {
			continue
		}
		for _, e := range s.entries {
			if e.Available() > 0 && e.conn.IsValid() {
				candidates = append(candidates, e)
			}
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	selected := p.sel.Select(candidates)
	if selected == nil {
		return nil
	}
	return selected.(*entry) //nolint:forcetypeassert // candidates are always entries
}

// +checklocks:p.mu
func (p *Pool) connectTargetLocked(waiter *Waiter) *poolSlot {
	for _, s := range p.slots {
		if waiter.slot != conn.AnySlot && waiter.slot != s.index {
			continue
		}
		if len(s.entries)+s.connecting < s.max {
			return s
		}
	}
	return nil
}

// +checklocks:p.mu
func (p *Pool) queuedCountLocked() int {
	n := 0
	for _, w := range p.waiters {
		if !w.connecting {
			n++
		}
	}
	return n
}

// +checklocks:p.mu
func (p *Pool) grantLocked(e *entry, waiter *Waiter) *Lease {
	e.leased++
	p.leases++
	waiter.done = true
	p.metrics.Leases(p.leases)
	p.metrics.AcquireLatency(p.clock.Since(waiter.enqueuedAt))
	return &Lease{pool: p, entry: e}
}

func (p *Pool) runConnect(slotIndex int, waiter *Waiter) {
	result, err := p.connector.Connect(waiter.ctx)
	p.connectDone(slotIndex, waiter, result, err)
}

// connectDone folds the outcome of a connection attempt back into the
// pool. The attempt was attributed to waiter, but the new capacity may
// serve older waiters first if waiter was concurrently served or
// cancelled.
func (p *Pool) connectDone(slotIndex int, waiter *Waiter, result conn.ConnectResult, err error) {
	var newEntry *entry
	if err == nil {
		capacity := result.Concurrency
		if capacity < 1 {
			capacity = 1
		}
		e := &entry{conn: result.Conn, slot: result.Slot, capacity: capacity}
		// Hooks are registered before taking p.mu so a connection
		// firing them from its own lock cannot deadlock with the
		// pool. An eviction arriving before the entry is admitted
		// just marks it removed.
		e.removeEvictHook = result.Conn.OnEvict(func() { p.entryEvicted(e) })
		e.removeConcurrencyHook = result.Conn.OnConcurrencyChange(func(n int) { p.entryConcurrencyChanged(e, n) })
		newEntry = e
	}

	var completions []completion
	var closeConn conn.Conn
	var deregister []func()

	p.mu.Lock()
	p.slots[slotIndex].connecting--
	switch {
	case err != nil:
		if !waiter.done {
			p.removeWaiterLocked(waiter)
			waiter.done = true
			completions = append(completions, completion{deliver: waiter.deliver, err: err})
		}
		// The freed headroom may admit a new attempt for another
		// queued waiter. That is their own attempt, not a retry of
		// this one.
		p.checkPendingLocked()

	case p.closed:
		// Waiters were already failed when the pool closed.
		closeConn = result.Conn
		deregister = append(deregister, newEntry.removeEvictHook, newEntry.removeConcurrencyHook)

	case newEntry.removed || result.Slot < 0 || result.Slot >= len(p.slots):
		// Evicted before admission, or the connector misclassified.
		closeConn = result.Conn
		deregister = append(deregister, newEntry.removeEvictHook, newEntry.removeConcurrencyHook)
		if !waiter.done {
			p.removeWaiterLocked(waiter)
			waiter.done = true
			failure := fmt.Errorf("connector reported unknown slot %d", result.Slot)
			if newEntry.removed {
				failure = errConnEvicted
			}
			completions = append(completions, completion{deliver: waiter.deliver, err: failure})
		}
		p.checkPendingLocked()

	default:
		s := p.slots[result.Slot]
		s.entries = append(s.entries, newEntry)
		p.metrics.Connections(p.connectionCountLocked())
		if !waiter.done && p.eligibleLocked(waiter, newEntry) {
			// The attributed waiter is served by its own connection
			// before older waiters share the rest of its capacity.
			p.removeWaiterLocked(waiter)
			lease := p.grantLocked(newEntry, waiter)
			completions = append(completions, completion{deliver: waiter.deliver, lease: lease})
		} else if !waiter.done {
			// Connector classified the connection into a slot the
			// waiter cannot use; allow the waiter another attempt.
			waiter.connecting = false
			p.checkPendingLocked()
		}
		p.serveWaitersLocked(&completions)
	}
	p.mu.Unlock()

	for _, dereg := range deregister {
		dereg()
	}
	runCompletions(completions)
	if closeConn != nil {
		_ = closeConn.Close()
	}
}

// +checklocks:p.mu
func (p *Pool) eligibleLocked(waiter *Waiter, e *entry) bool {
	return waiter.slot == conn.AnySlot || waiter.slot == e.slot
}

// serveWaitersLocked hands spare capacity to queued waiters, oldest
// first, until no pending waiter can be served.
//
// +checklocks:p.mu
func (p *Pool) serveWaitersLocked(completions *[]completion) {
	for {
		served := false
		for _, waiter := range p.waiters {
			if e := p.selectLocked(waiter); e != nil {
				p.removeWaiterLocked(waiter)
				lease := p.grantLocked(e, waiter)
				*completions = append(*completions, completion{deliver: waiter.deliver, lease: lease})
				served = true
				break
			}
		}
		if !served {
			return
		}
	}
}

// checkPendingLocked starts connection attempts for queued waiters when
// slot headroom has appeared (a connection was removed or an attempt
// failed). Each waiter gets at most one attributed attempt. Listener
// notification and the attempt itself run on a fresh goroutine, off the
// pool's lock.
//
// +checklocks:p.mu
func (p *Pool) checkPendingLocked() {
	for _, waiter := range p.waiters {
		if waiter.connecting {
			continue
		}
		target := p.connectTargetLocked(waiter)
		if target == nil {
			continue
		}
		target.connecting++
		waiter.connecting = true
		go func(slotIndex int, waiter *Waiter) {
			if waiter.listener != nil {
				waiter.listener.OnConnect(waiter)
			}
			p.runConnect(slotIndex, waiter)
		}(target.index, waiter)
	}
}

// +checklocks:p.mu
func (p *Pool) removeWaiterLocked(waiter *Waiter) {
	for i, w := range p.waiters {
		if w == waiter {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

// +checklocks:p.mu
func (p *Pool) removeEntryLocked(e *entry) {
	e.removed = true
	s := p.slots[e.slot]
	for i, other := range s.entries {
		if other == e {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			break
		}
	}
	p.metrics.Connections(p.connectionCountLocked())
}

// +checklocks:p.mu
func (p *Pool) connectionCountLocked() int {
	n := 0
	for _, s := range p.slots {
		n += len(s.entries)
	}
	return n
}

// entryEvicted handles a connection's eviction notification: the
// transport dropped the connection, so its entry leaves the pool
// regardless of outstanding leases (those leases release as no-ops).
// The freed slot may admit new connection attempts.
func (p *Pool) entryEvicted(e *entry) {
	p.mu.Lock()
	if e.removed {
		p.mu.Unlock()
		return
	}
	p.removeEntryLocked(e)
	p.checkPendingLocked()
	p.mu.Unlock()
}

// entryConcurrencyChanged adjusts an entry's capacity after the
// connection renegotiated its concurrency (HTTP/2 settings update).
// Growth may serve queued waiters; shrinking below the current lease
// count only blocks new leases until the excess drains.
func (p *Pool) entryConcurrencyChanged(e *entry, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	var completions []completion
	p.mu.Lock()
	if !e.removed {
		grew := concurrency > e.capacity
		e.capacity = concurrency
		if grew {
			p.serveWaitersLocked(&completions)
		}
	}
	p.mu.Unlock()
	runCompletions(completions)
}

// release gives back one capacity unit and immediately offers it to the
// oldest compatible waiter. After the pool has closed, an entry whose
// last lease is released is removed and its connection closed.
func (p *Pool) release(lease *Lease) error {
	var completions []completion
	var closeConn conn.Conn
	var deregister []func()

	p.mu.Lock()
	if lease.released {
		p.mu.Unlock()
		return ErrLeaseReleased
	}
	lease.released = true
	p.leases--
	p.metrics.Leases(p.leases)
	e := lease.entry
	if !e.removed {
		e.leased--
		if p.closed && e.leased == 0 {
			p.removeEntryLocked(e)
			closeConn = e.conn
			deregister = append(deregister, e.removeEvictHook, e.removeConcurrencyHook)
		} else {
			p.serveWaitersLocked(&completions)
		}
	}
	p.mu.Unlock()

	for _, dereg := range deregister {
		dereg()
	}
	runCompletions(completions)
	if closeConn != nil {
		_ = closeConn.Close()
	}
	return nil
}

// Cancel removes a waiter from the pool if it is still pending. It
// reports whether the waiter was actually removed: false means the
// waiter was concurrently served (or failed), and the cancellation is a
// no-op. A connection attempt already in flight for the waiter is not
// aborted; its capacity will serve other waiters.
func (p *Pool) Cancel(waiter *Waiter) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if waiter.done {
		return false
	}
	waiter.done = true
	p.removeWaiterLocked(waiter)
	return true
}

// Evict removes every idle entry whose connection tests true with
// shouldEvict and returns the removed connections for the caller to
// close. Entries with active leases are never evicted mid-use; they
// become evictable only after their last lease is released.
func (p *Pool) Evict(shouldEvict func(conn.Conn) bool) []conn.Conn {
	var evicted []conn.Conn
	var deregister []func()

	p.mu.Lock()
	for _, s := range p.slots {
		for _, e := range append([]*entry(nil), s.entries...) {
			if e.leased == 0 && shouldEvict(e.conn) {
				p.removeEntryLocked(e)
				evicted = append(evicted, e.conn)
				deregister = append(deregister, e.removeEvictHook, e.removeConcurrencyHook)
			}
		}
	}
	if len(evicted) > 0 {
		p.checkPendingLocked()
	}
	p.mu.Unlock()

	for _, dereg := range deregister {
		dereg()
	}
	return evicted
}

// Close marks the pool closed. Every pending waiter fails with
// ErrPoolClosed, no new acquisitions or connections are accepted, and
// the currently idle connections are returned for the caller to close.
// Active leases keep working until individually released; their
// connections are closed as they drain. Closing twice returns nil.
func (p *Pool) Close() []conn.Conn {
	var completions []completion
	var idle []conn.Conn
	var deregister []func()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, waiter := range p.waiters {
		waiter.done = true
		completions = append(completions, completion{deliver: waiter.deliver, err: ErrPoolClosed})
	}
	p.waiters = nil
	for _, s := range p.slots {
		for _, e := range append([]*entry(nil), s.entries...) {
			if e.leased == 0 {
				p.removeEntryLocked(e)
				idle = append(idle, e.conn)
				deregister = append(deregister, e.removeEvictHook, e.removeConcurrencyHook)
			}
		}
	}
	p.mu.Unlock()

	for _, dereg := range deregister {
		dereg()
	}
	runCompletions(completions)
	return idle
}

// Stats is a point-in-time snapshot of the pool's accounting.
type Stats struct {
	// Connections is the number of live connections across all slots.
	Connections int
	// Leases is the number of active leases.
	Leases int
	// Waiting is the number of pending waiters, including ones with a
	// connection attempt in flight.
	Waiting int
}

// Stats returns a snapshot of the pool's accounting, suitable for
// gauges and tests.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Connections: p.connectionCountLocked(),
		Leases:      p.leases,
		Waiting:     len(p.waiters),
	}
}
