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

// NewRoundRobin creates a selector that cycles through the eligible
// connections in order. It spreads load evenly but gives up the warm
// connection reuse that NewMostRecent provides.
func NewRoundRobin() Selector {
	return &roundRobin{}
}

type roundRobin struct {
	counter uint64
}

func (r *roundRobin) Select(candidates []Candidate) Candidate {
	selected := candidates[r.counter%uint64(len(candidates))]
	r.counter++
	return selected
}
