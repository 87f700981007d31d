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

// NewLeastLeased creates a selector that picks the connection with the
// fewest leased capacity units. Ties go to the first candidate offered.
func NewLeastLeased() Selector {
	return SelectorFunc(func(candidates []Candidate) Candidate {
		selected := candidates[0]
		leased := selected.Capacity() - selected.Available()
		for _, candidate := range candidates[1:] {
			if n := candidate.Capacity() - candidate.Available(); n < leased {
				selected = candidate
				leased = n
			}
		}
		return selected
	})
}
