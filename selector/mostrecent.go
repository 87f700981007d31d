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

package selector

// NewMostRecent creates a selector that picks the connection that most
// recently completed a response. Reusing "warm" connections keeps
// keep-alive timers, server-side caches, and congestion windows alive,
// at the cost of letting idle connections age out instead of spreading
// load round-robin style. Connections with equal recency (including
// ones that have never carried a response) tie-break to the first
// candidate offered, which keeps selection deterministic.
//
// This is the default policy.
func NewMostRecent() Selector {
	return SelectorFunc(func(candidates []Candidate) Candidate {
		selected := candidates[0]
		last := selected.Conn().LastActive()
		for _, candidate := range candidates[1:] {
			if t := candidate.Conn().LastActive(); t.After(last) {
				selected = candidate
				last = t
			}
		}
		return selected
	})
}
