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
	"time"

	"github.com/nexushttp/connpool/internal"
)

// SetPoolClock replaces the pool's clock, for tests that control time.
func SetPoolClock(p *Pool, clock internal.Clock) {
	p.clock = clock
}

// SetEndpointClock replaces the endpoint's clock, for tests that
// control time. It must be called before any acquisition or reaper
// start.
func SetEndpointClock(e *Endpoint, clock internal.Clock) {
	e.clock = clock
}

// StartReaper starts the background eviction pass with the endpoint's
// current clock, so tests can inject a fake clock first.
func StartReaper(e *Endpoint, interval time.Duration) {
	e.startReaper(interval)
}
