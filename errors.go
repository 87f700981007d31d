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

import "errors"

var (
	// ErrPoolClosed is returned for acquisitions attempted after the
	// pool is closed, and delivered to every waiter still pending
	// when the pool closes.
	ErrPoolClosed = errors.New("pool is closed")
	// ErrQueueFull is returned when an acquisition cannot be queued
	// because the pool already has the configured maximum number of
	// queued waiters. The pool never retries on the caller's behalf.
	ErrQueueFull = errors.New("acquisition queue is full")
	// ErrAcquireTimeout is returned when a waiter's deadline elapses
	// before it is served. It is always delivered wrapped with the
	// configured timeout; test with [errors.Is].
	ErrAcquireTimeout = errors.New("timed out waiting for a connection")
	// ErrLeaseReleased is returned when a lease is released more than
	// once. The duplicate release does not affect pool accounting.
	ErrLeaseReleased = errors.New("lease already released")
)

// errConnEvicted fails a waiter whose attributed connection was
// evicted by the transport before the pool could admit it.
var errConnEvicted = errors.New("connection evicted before admission")
