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

package connpool_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexushttp/connpool"
	"github.com/nexushttp/connpool/conn"
)

type fakeConn struct {
	mu          sync.Mutex
	valid       bool
	closed      bool
	evicted     bool
	concurrency int
	lastActive  time.Time
	evictSeq    int
	evictFns    map[int]func()
	concSeq     int
	concFns     map[int]func(int)
}

func newFakeConn(concurrency int) *fakeConn {
	return &fakeConn{valid: true, concurrency: concurrency}
}

func (c *fakeConn) IsValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.valid
}

func (c *fakeConn) Concurrency() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.concurrency
}

func (c *fakeConn) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

func (c *fakeConn) OnEvict(fn func()) (remove func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.evictFns == nil {
		c.evictFns = map[int]func(){}
	}
	id := c.evictSeq
	c.evictSeq++
	c.evictFns[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.evictFns, id)
		c.mu.Unlock()
	}
}

func (c *fakeConn) OnConcurrencyChange(fn func(int)) (remove func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.concFns == nil {
		c.concFns = map[int]func(int){}
	}
	id := c.concSeq
	c.concSeq++
	c.concFns[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.concFns, id)
		c.mu.Unlock()
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.valid = false
	c.mu.Unlock()
	c.fireEvict()
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}

// drop simulates the transport unilaterally dropping the connection.
func (c *fakeConn) drop() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
	c.fireEvict()
}

func (c *fakeConn) fireEvict() {
	c.mu.Lock()
	if c.evicted {
		c.mu.Unlock()
		return
	}
	c.evicted = true
	fns := make([]func(), 0, len(c.evictFns))
	for _, fn := range c.evictFns {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (c *fakeConn) setConcurrency(concurrency int) {
	c.mu.Lock()
	c.concurrency = concurrency
	fns := make([]func(int), 0, len(c.concFns))
	for _, fn := range c.concFns {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(concurrency)
	}
}

type connectOutcome struct {
	result conn.ConnectResult
	err    error
}

// stubConnector blocks each Connect until the test supplies an outcome.
type stubConnector struct {
	outcomes chan connectOutcome
	attempts atomic.Int32
}

func newStubConnector() *stubConnector {
	return &stubConnector{outcomes: make(chan connectOutcome, 16)}
}

func (s *stubConnector) Connect(ctx context.Context) (conn.ConnectResult, error) {
	s.attempts.Add(1)
	select {
	case outcome := <-s.outcomes:
		return outcome.result, outcome.err
	case <-ctx.Done():
		return conn.ConnectResult{}, ctx.Err()
	}
}

func (s *stubConnector) succeed(c *fakeConn, slot int) {
	s.outcomes <- connectOutcome{result: conn.ConnectResult{Conn: c, Concurrency: c.Concurrency(), Slot: slot}}
}

func (s *stubConnector) fail(err error) {
	s.outcomes <- connectOutcome{err: err}
}

type acquired struct {
	lease *connpool.Lease
	err   error
}

func acquireAsync(p *connpool.Pool, slot int) (<-chan acquired, *connpool.Waiter) {
	results := make(chan acquired, 1)
	waiter := p.Acquire(context.Background(), slot, nil, func(lease *connpool.Lease, err error) {
		results <- acquired{lease: lease, err: err}
	})
	return results, waiter
}

func mustLease(t *testing.T, results <-chan acquired) *connpool.Lease {
	t.Helper()
	select {
	case result := <-results:
		require.NoError(t, result.err)
		require.NotNil(t, result.lease)
		return result.lease
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for lease")
		return nil
	}
}

func mustErr(t *testing.T, results <-chan acquired) error {
	t.Helper()
	select {
	case result := <-results:
		require.Error(t, result.err)
		require.Nil(t, result.lease)
		return result.err
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for error")
		return nil
	}
}

func assertPending(t *testing.T, results <-chan acquired) {
	t.Helper()
	select {
	case result := <-results:
		t.Fatalf("acquisition unexpectedly completed: %+v", result)
	case <-time.After(20 * time.Millisecond):
	}
}

func singleSlot(maxConns int) connpool.PoolOption {
	return connpool.WithSlots(connpool.Slot{Name: "http/1.1", MaxConnections: maxConns})
}

func TestDefaultConfiguration(t *testing.T) {
	t.Parallel()

	connector := conn.ConnectorFunc(func(context.Context) (conn.ConnectResult, error) {
		return conn.ConnectResult{Conn: newFakeConn(1), Concurrency: 1, Slot: conn.SlotHTTP1}, nil
	})
	pool := connpool.New(connector)

	results, _ := acquireAsync(pool, conn.AnySlot)
	lease := mustLease(t, results)
	assert.Equal(t, conn.SlotHTTP1, lease.Slot())
	require.NoError(t, lease.Release())
	assert.Equal(t, 1, pool.Stats().Connections)
}

func TestAcquireSharesSpareCapacity(t *testing.T) {
	t.Parallel()

	connector := newStubConnector()
	pool := connpool.New(connector, singleSlot(1))
	connector.succeed(newFakeConn(4), 0)

	first, _ := acquireAsync(pool, 0)
	lease1 := mustLease(t, first)

	// no second connection attempt: spare capacity serves it directly
	second, _ := acquireAsync(pool, 0)
	lease2 := mustLease(t, second)
	assert.Same(t, lease1.Conn(), lease2.Conn())
	assert.Equal(t, int32(1), connector.attempts.Load())

	stats := pool.Stats()
	assert.Equal(t, 1, stats.Connections)
	assert.Equal(t, 2, stats.Leases)

	require.NoError(t, lease1.Release())
	require.NoError(t, lease2.Release())
	assert.Equal(t, 0, pool.Stats().Leases)
}

func TestSlotLimitQueuesAndServesInOrder(t *testing.T) {
	t.Parallel()

	connector := newStubConnector()
	pool := connpool.New(connector,
		connpool.WithSlots(
			connpool.Slot{Name: "http/1.1", MaxConnections: 1},
			connpool.Slot{Name: "h2", MaxConnections: 1},
		),
		connpool.WithQueueSize(2),
	)
	connector.succeed(newFakeConn(1), 0)

	first, _ := acquireAsync(pool, conn.SlotHTTP1)
	lease1 := mustLease(t, first)

	second, _ := acquireAsync(pool, conn.SlotHTTP1)
	third, _ := acquireAsync(pool, conn.SlotHTTP1)
	assertPending(t, second)
	assertPending(t, third)
	assert.Equal(t, 2, pool.Stats().Waiting)

	// the queue bound is hard: one more fails immediately
	fourth, _ := acquireAsync(pool, conn.SlotHTTP1)
	assert.ErrorIs(t, mustErr(t, fourth), connpool.ErrQueueFull)

	// releasing serves the oldest queued waiter
	require.NoError(t, lease1.Release())
	lease2 := mustLease(t, second)
	assertPending(t, third)

	require.NoError(t, lease2.Release())
	lease3 := mustLease(t, third)
	require.NoError(t, lease3.Release())

	assert.Equal(t, int32(1), connector.attempts.Load())
}

func TestAcquireFIFOFairness(t *testing.T) {
	t.Parallel()

	connector := newStubConnector()
	pool := connpool.New(connector, singleSlot(1), connpool.WithQueueSize(8))
	connector.succeed(newFakeConn(1), 0)

	head, _ := acquireAsync(pool, 0)
	lease := mustLease(t, head)

	var queued []<-chan acquired
	for range 3 {
		results, _ := acquireAsync(pool, 0)
		queued = append(queued, results)
	}

	for i, results := range queued {
		require.NoError(t, lease.Release())
		lease = mustLease(t, results)
		for _, later := range queued[i+1:] {
			assertPending(t, later)
		}
	}
	require.NoError(t, lease.Release())
}

func TestCancelPendingWaiter(t *testing.T) {
	t.Parallel()

	connector := newStubConnector()
	pool := connpool.New(connector, singleSlot(1))
	connector.succeed(newFakeConn(1), 0)

	first, _ := acquireAsync(pool, 0)
	lease := mustLease(t, first)

	second, waiter := acquireAsync(pool, 0)
	assertPending(t, second)

	assert.True(t, pool.Cancel(waiter))
	assert.Equal(t, 0, pool.Stats().Waiting)
	// cancelling again is a no-op
	assert.False(t, pool.Cancel(waiter))

	// the freed capacity does not go to the cancelled waiter
	require.NoError(t, lease.Release())
	assertPending(t, second)
}

func TestCancelAfterServedIsNoop(t *testing.T) {
	t.Parallel()

	connector := newStubConnector()
	pool := connpool.New(connector, singleSlot(1))
	connector.succeed(newFakeConn(1), 0)

	results, waiter := acquireAsync(pool, 0)
	lease := mustLease(t, results)

	assert.False(t, pool.Cancel(waiter))
	require.NoError(t, lease.Release())
}

func TestConnectFailureFailsOnlyThatWaiter(t *testing.T) {
	t.Parallel()

	connErr := errors.New("connection refused")
	connector := newStubConnector()
	pool := connpool.New(connector, singleSlot(1))

	connector.fail(connErr)
	first, _ := acquireAsync(pool, 0)
	assert.ErrorIs(t, mustErr(t, first), connErr)
	assert.Equal(t, 0, pool.Stats().Waiting)

	// accounting is intact: the slot admits a fresh attempt
	connector.succeed(newFakeConn(1), 0)
	second, _ := acquireAsync(pool, 0)
	lease := mustLease(t, second)
	require.NoError(t, lease.Release())
	assert.Equal(t, int32(2), connector.attempts.Load())
}

func TestConnectFailureAdmitsNextQueuedWaiter(t *testing.T) {
	t.Parallel()

	connErr := errors.New("connection refused")
	connector := newStubConnector()
	pool := connpool.New(connector, singleSlot(1))

	first, _ := acquireAsync(pool, 0)
	second, _ := acquireAsync(pool, 0)
	assertPending(t, second)

	// first attempt fails; the queued waiter gets its own attempt
	connector.fail(connErr)
	assert.ErrorIs(t, mustErr(t, first), connErr)

	connector.succeed(newFakeConn(1), 0)
	lease := mustLease(t, second)
	require.NoError(t, lease.Release())
	assert.Equal(t, int32(2), connector.attempts.Load())
}

func TestLeaseDoubleRelease(t *testing.T) {
	t.Parallel()

	connector := newStubConnector()
	pool := connpool.New(connector, singleSlot(1))
	connector.succeed(newFakeConn(1), 0)

	results, _ := acquireAsync(pool, 0)
	lease := mustLease(t, results)

	require.NoError(t, lease.Release())
	assert.ErrorIs(t, lease.Release(), connpool.ErrLeaseReleased)
	assert.Equal(t, 0, pool.Stats().Leases)
}

func TestEvictSparesLeasedEntries(t *testing.T) {
	t.Parallel()

	fc := newFakeConn(1)
	connector := newStubConnector()
	pool := connpool.New(connector, singleSlot(1))
	connector.succeed(fc, 0)

	results, _ := acquireAsync(pool, 0)
	lease := mustLease(t, results)
	fc.invalidate()

	// never evicted mid-use
	assert.Empty(t, pool.Evict(func(c conn.Conn) bool { return !c.IsValid() }))
	assert.Equal(t, 1, pool.Stats().Connections)

	// evictable only once idle again
	require.NoError(t, lease.Release())
	evicted := pool.Evict(func(c conn.Conn) bool { return !c.IsValid() })
	require.Len(t, evicted, 1)
	assert.Same(t, conn.Conn(fc), evicted[0])
	assert.Equal(t, 0, pool.Stats().Connections)
}

func TestInvalidConnExcludedFromSelection(t *testing.T) {
	t.Parallel()

	fc := newFakeConn(1)
	connector := newStubConnector()
	pool := connpool.New(connector, singleSlot(2))
	connector.succeed(fc, 0)

	first, _ := acquireAsync(pool, 0)
	lease := mustLease(t, first)
	require.NoError(t, lease.Release())
	fc.invalidate()

	// the invalid idle conn is silently skipped; a new one is opened
	replacement := newFakeConn(1)
	connector.succeed(replacement, 0)
	second, _ := acquireAsync(pool, 0)
	lease = mustLease(t, second)
	assert.Same(t, conn.Conn(replacement), lease.Conn())
	require.NoError(t, lease.Release())
}

func TestTransportDropAdmitsQueuedWaiter(t *testing.T) {
	t.Parallel()

	fc := newFakeConn(1)
	connector := newStubConnector()
	pool := connpool.New(connector, singleSlot(1))
	connector.succeed(fc, 0)

	first, _ := acquireAsync(pool, 0)
	lease := mustLease(t, first)

	second, _ := acquireAsync(pool, 0)
	assertPending(t, second)

	// the transport drops the connection out from under its lease;
	// the freed slot admits a new attempt for the queued waiter
	replacement := newFakeConn(1)
	connector.succeed(replacement, 0)
	fc.drop()

	lease2 := mustLease(t, second)
	assert.Same(t, conn.Conn(replacement), lease2.Conn())

	// releasing the dropped connection's lease is still a clean no-op
	require.NoError(t, lease.Release())
	require.NoError(t, lease2.Release())
	assert.Equal(t, 1, pool.Stats().Connections)
}

func TestConcurrencyGrowthServesWaiter(t *testing.T) {
	t.Parallel()

	fc := newFakeConn(1)
	connector := newStubConnector()
	pool := connpool.New(connector, singleSlot(1))
	connector.succeed(fc, 0)

	first, _ := acquireAsync(pool, 0)
	lease1 := mustLease(t, first)

	second, _ := acquireAsync(pool, 0)
	assertPending(t, second)

	// an HTTP/2 settings update raises the stream limit
	fc.setConcurrency(2)
	lease2 := mustLease(t, second)
	assert.Same(t, lease1.Conn(), lease2.Conn())

	require.NoError(t, lease1.Release())
	require.NoError(t, lease2.Release())
}

func TestCloseFailsWaitersAndKeepsLeases(t *testing.T) {
	t.Parallel()

	fc := newFakeConn(1)
	connector := newStubConnector()
	pool := connpool.New(connector, singleSlot(1), connpool.WithQueueSize(4))
	connector.succeed(fc, 0)

	first, _ := acquireAsync(pool, 0)
	lease := mustLease(t, first)

	second, _ := acquireAsync(pool, 0)
	third, _ := acquireAsync(pool, 0)
	assertPending(t, second)
	assertPending(t, third)

	idle := pool.Close()
	assert.Empty(t, idle)
	assert.ErrorIs(t, mustErr(t, second), connpool.ErrPoolClosed)
	assert.ErrorIs(t, mustErr(t, third), connpool.ErrPoolClosed)

	// the active lease keeps working until released, then the
	// connection is closed because the pool has shut down
	require.NoError(t, lease.Release())
	assert.True(t, fc.isClosed())
	assert.Equal(t, 0, pool.Stats().Connections)

	// acquisitions after close fail immediately
	late, _ := acquireAsync(pool, 0)
	assert.ErrorIs(t, mustErr(t, late), connpool.ErrPoolClosed)

	// closing twice is a no-op
	assert.Empty(t, pool.Close())
}

func TestCloseReturnsIdleConns(t *testing.T) {
	t.Parallel()

	fc := newFakeConn(1)
	connector := newStubConnector()
	pool := connpool.New(connector, singleSlot(1))
	connector.succeed(fc, 0)

	results, _ := acquireAsync(pool, 0)
	lease := mustLease(t, results)
	require.NoError(t, lease.Release())

	idle := pool.Close()
	require.Len(t, idle, 1)
	assert.Same(t, conn.Conn(fc), idle[0])
}

func TestAcquireUnknownSlot(t *testing.T) {
	t.Parallel()

	pool := connpool.New(newStubConnector(), singleSlot(1))
	results, _ := acquireAsync(pool, 5)
	assert.Error(t, mustErr(t, results))
}

type gaugeMetrics struct {
	mu          sync.Mutex
	connections int
	leases      int
	latencies   int
}

func (m *gaugeMetrics) Connections(n int) {
	m.mu.Lock()
	m.connections = n
	m.mu.Unlock()
}

func (m *gaugeMetrics) Leases(n int) {
	m.mu.Lock()
	m.leases = n
	m.mu.Unlock()
}

func (m *gaugeMetrics) AcquireLatency(time.Duration) {
	m.mu.Lock()
	m.latencies++
	m.mu.Unlock()
}

func (m *gaugeMetrics) snapshot() (connections, leases, latencies int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connections, m.leases, m.latencies
}

func TestMetricsEmission(t *testing.T) {
	t.Parallel()

	metrics := &gaugeMetrics{}
	connector := newStubConnector()
	pool := connpool.New(connector, singleSlot(1), connpool.WithMetrics(metrics))
	connector.succeed(newFakeConn(2), 0)

	first, _ := acquireAsync(pool, 0)
	lease1 := mustLease(t, first)
	second, _ := acquireAsync(pool, 0)
	lease2 := mustLease(t, second)

	connections, leases, latencies := metrics.snapshot()
	assert.Equal(t, 1, connections)
	assert.Equal(t, 2, leases)
	assert.Equal(t, 2, latencies)

	require.NoError(t, lease1.Release())
	require.NoError(t, lease2.Release())
	_, leases, _ = metrics.snapshot()
	assert.Equal(t, 0, leases)
}
