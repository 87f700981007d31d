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

	"golang.org/x/sync/errgroup"

	"github.com/nexushttp/connpool/conn"
	"github.com/nexushttp/connpool/internal"
)

// EndpointOption configures an Endpoint.
type EndpointOption interface {
	applyEndpoint(*Endpoint)
}

// WithPoolOptions passes options through to the endpoint's pool.
func WithPoolOptions(options ...PoolOption) EndpointOption {
	return endpointOptionFunc(func(e *Endpoint) {
		e.poolOptions = append(e.poolOptions, options...)
	})
}

// WithLeaseTimeout bounds how long each RequestConnection call may wait
// for a lease. Zero (the default) means no timeout beyond the caller's
// context.
func WithLeaseTimeout(timeout time.Duration) EndpointOption {
	return endpointOptionFunc(func(e *Endpoint) {
		e.leaseTimeout = timeout
	})
}

// WithPreferredSlot restricts acquisitions to the given protocol slot,
// e.g. [conn.SlotHTTP2] when the client is configured to force HTTP/2.
// The default is [conn.AnySlot].
func WithPreferredSlot(slot int) EndpointOption {
	return endpointOptionFunc(func(e *Endpoint) {
		e.preferredSlot = slot
	})
}

// WithExpirationInterval runs eviction of invalid connections on the
// given period. Zero (the default) disables the background pass; the
// owner then drives CheckExpired itself.
func WithExpirationInterval(interval time.Duration) EndpointOption {
	return endpointOptionFunc(func(e *Endpoint) {
		e.expirationInterval = interval
	})
}

// WithDisposeFunc registers a callback invoked exactly once, after the
// endpoint has been closed and its last connection is gone. Owning
// registries use it to drop the endpoint entirely.
func WithDisposeFunc(dispose func()) EndpointOption {
	return endpointOptionFunc(func(e *Endpoint) {
		e.disposeFn = dispose
	})
}

// WithConnectionObserver registers a callback invoked for every new
// connection the endpoint establishes, before the pool starts handing
// out its capacity.
func WithConnectionObserver(observer func(conn.Conn)) EndpointOption {
	return endpointOptionFunc(func(e *Endpoint) {
		e.onConnection = observer
	})
}

type endpointOptionFunc func(*Endpoint)

func (f endpointOptionFunc) applyEndpoint(e *Endpoint) {
	f(e)
}

// Endpoint owns the pool for one logical destination. It bridges the
// pool to a raw connector, counts live connections, and disposes of
// itself once closed and drained.
type Endpoint struct {
	pool               *Pool
	clock              internal.Clock
	leaseTimeout       time.Duration
	preferredSlot      int
	expirationInterval time.Duration
	onConnection       func(conn.Conn)
	disposeFn          func()
	poolOptions        []PoolOption

	reaperStop chan struct{}
	reaperDone chan struct{}

	mu sync.Mutex
	// +checklocks:mu
	refs int
	// +checklocks:mu
	closed bool
	// +checklocks:mu
	disposed bool
}

// NewEndpoint creates an endpoint that establishes connections through
// the given connector.
func NewEndpoint(connector conn.Connector, options ...EndpointOption) *Endpoint {
	endpoint := &Endpoint{
		clock:         internal.NewRealClock(),
		preferredSlot: conn.AnySlot,
	}
	for _, opt := range options {
		opt.applyEndpoint(endpoint)
	}
	endpoint.pool = New(&endpointConnector{endpoint: endpoint, raw: connector}, endpoint.poolOptions...)
	if endpoint.expirationInterval > 0 {
		endpoint.startReaper(endpoint.expirationInterval)
	}
	return endpoint
}

// Pool returns the endpoint's pool, e.g. for Stats.
func (e *Endpoint) Pool() *Pool {
	return e.pool
}

// endpointConnector wraps the raw connector: every established
// connection bumps the endpoint's reference count and registers an
// eviction hook that drops it again. The pool registers its own hooks
// for entry accounting.
type endpointConnector struct {
	endpoint *Endpoint
	raw      conn.Connector
}

func (c *endpointConnector) Connect(ctx context.Context) (conn.ConnectResult, error) {
	result, err := c.raw.Connect(ctx)
	if err != nil {
		return result, err
	}
	e := c.endpoint
	e.retain()
	result.Conn.OnEvict(e.release)
	if e.onConnection != nil {
		e.onConnection(result.Conn)
	}
	return result, nil
}

// request wires one acquisition's timeout: armed at most once, on the
// first enqueue or connect notification, and a firing timer only fails
// the acquisition if cancelling the waiter actually removed it.
type request struct {
	endpoint *Endpoint
	results  chan acquireResult
	timeout  time.Duration

	mu sync.Mutex
	// +checklocks:mu
	timer internal.Timer
}

type acquireResult struct {
	lease *Lease
	err   error
}

func (r *request) OnEnqueue(waiter *Waiter) { r.arm(waiter) }

func (r *request) OnConnect(waiter *Waiter) { r.arm(waiter) }

func (r *request) arm(waiter *Waiter) {
	if r.timeout <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		return
	}
	r.timer = r.endpoint.clock.AfterFunc(r.timeout, func() {
		if r.endpoint.pool.Cancel(waiter) {
			r.results <- acquireResult{err: fmt.Errorf("%w: %v elapsed", ErrAcquireTimeout, r.timeout)}
		}
	})
}

func (r *request) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
}

// RequestConnection acquires a lease from the endpoint's pool, waiting
// until capacity is granted, the configured lease timeout fires, ctx is
// done, or the pool closes.
func (e *Endpoint) RequestConnection(ctx context.Context) (*Lease, error) {
	req := &request{
		endpoint: e,
		results:  make(chan acquireResult, 1),
		timeout:  e.leaseTimeout,
	}
	waiter := e.pool.Acquire(ctx, e.preferredSlot, req, func(lease *Lease, err error) {
		req.results <- acquireResult{lease: lease, err: err}
	})
	defer req.stop()

	select {
	case result := <-req.results:
		return result.lease, result.err
	case <-ctx.Done():
		if e.pool.Cancel(waiter) {
			return nil, ctx.Err()
		}
		// Lost the race: a completion is already on its way.
		result := <-req.results
		return result.lease, result.err
	}
}

// CheckExpired evicts connections that are no longer valid and closes
// them, releasing their transport resources. The endpoint invokes it
// periodically when WithExpirationInterval is set; owners with their
// own timer can call it directly.
func (e *Endpoint) CheckExpired() {
	closeConns(e.pool.Evict(func(c conn.Conn) bool {
		return !c.IsValid()
	}))
}

// Close closes the endpoint's pool: pending waiters fail, idle
// connections are closed, and leased connections are closed as their
// leases are released. Disposal fires once the last connection is gone.
func (e *Endpoint) Close() {
	e.mu.Lock()
	alreadyClosed := e.closed
	e.closed = true
	e.mu.Unlock()
	if alreadyClosed {
		return
	}
	e.stopReaper()
	closeConns(e.pool.Close())
	e.maybeDispose()
}

func (e *Endpoint) retain() {
	e.mu.Lock()
	e.refs++
	e.mu.Unlock()
}

func (e *Endpoint) release() {
	e.mu.Lock()
	e.refs--
	e.mu.Unlock()
	e.maybeDispose()
}

// maybeDispose runs the terminal transition: at most one caller ever
// observes closed with zero references and an unset disposed flag, even
// when Close races with the last eviction.
func (e *Endpoint) maybeDispose() {
	e.mu.Lock()
	if !e.closed || e.refs > 0 || e.disposed {
		e.mu.Unlock()
		return
	}
	e.disposed = true
	dispose := e.disposeFn
	e.mu.Unlock()
	if dispose != nil {
		dispose()
	}
}

func (e *Endpoint) startReaper(interval time.Duration) {
	e.reaperStop = make(chan struct{})
	e.reaperDone = make(chan struct{})
	go e.reap(interval)
}

func (e *Endpoint) stopReaper() {
	if e.reaperStop == nil {
		return
	}
	close(e.reaperStop)
	<-e.reaperDone
}

func (e *Endpoint) reap(interval time.Duration) {
	defer close(e.reaperDone)
	ticker := e.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			e.CheckExpired()
		case <-e.reaperStop:
			return
		}
	}
}

func closeConns(conns []conn.Conn) {
	if len(conns) == 0 {
		return
	}
	grp, _ := errgroup.WithContext(context.Background())
	for _, c := range conns {
		grp.Go(func() error {
			_ = c.Close()
			return nil
		})
	}
	_ = grp.Wait()
}
