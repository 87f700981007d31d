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

import "sync"

// evictHooks is an observer registry for eviction notifications. It
// fires at most once, and always invokes callbacks after releasing its
// own lock so observers may re-enter pool code freely.
type evictHooks struct {
	mu    sync.Mutex
	seq   int
	fns   map[int]func()
	fired bool
}

func (h *evictHooks) add(fn func()) (remove func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fired {
		return func() {}
	}
	if h.fns == nil {
		h.fns = map[int]func(){}
	}
	id := h.seq
	h.seq++
	h.fns[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.fns, id)
		h.mu.Unlock()
	}
}

func (h *evictHooks) fire() {
	h.mu.Lock()
	if h.fired {
		h.mu.Unlock()
		return
	}
	h.fired = true
	fns := make([]func(), 0, len(h.fns))
	for _, fn := range h.fns {
		fns = append(fns, fn)
	}
	h.fns = nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// concurrencyHooks is an observer registry for concurrency changes.
// Like evictHooks, callbacks run off the registry's lock.
type concurrencyHooks struct {
	mu  sync.Mutex
	seq int
	fns map[int]func(int)
}

func (h *concurrencyHooks) add(fn func(int)) (remove func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fns == nil {
		h.fns = map[int]func(int){}
	}
	id := h.seq
	h.seq++
	h.fns[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.fns, id)
		h.mu.Unlock()
	}
}

func (h *concurrencyHooks) fire(concurrency int) {
	h.mu.Lock()
	fns := make([]func(int), 0, len(h.fns))
	for _, fn := range h.fns {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(concurrency)
	}
}
