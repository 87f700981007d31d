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

package selector_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nexushttp/connpool/conn"
	"github.com/nexushttp/connpool/selector"
)

type staticConn struct {
	lastActive time.Time
}

func (c *staticConn) IsValid() bool         { return true }
func (c *staticConn) Concurrency() int      { return 1 }
func (c *staticConn) LastActive() time.Time { return c.lastActive }

func (c *staticConn) OnEvict(func()) (remove func()) { return func() {} }

func (c *staticConn) OnConcurrencyChange(func(int)) (remove func()) { return func() {} }

func (c *staticConn) Close() error { return nil }

var _ conn.Conn = (*staticConn)(nil)

type candidate struct {
	conn      *staticConn
	capacity  int
	available int
}

func (c *candidate) Conn() conn.Conn { return c.conn }
func (c *candidate) Capacity() int   { return c.capacity }
func (c *candidate) Available() int  { return c.available }

func candidates(cands ...*candidate) []selector.Candidate {
	result := make([]selector.Candidate, len(cands))
	for i, c := range cands {
		result[i] = c
	}
	return result
}

func TestMostRecent(t *testing.T) {
	t.Parallel()

	base := time.Now()
	cold := &candidate{conn: &staticConn{lastActive: base}, capacity: 1, available: 1}
	warm := &candidate{conn: &staticConn{lastActive: base.Add(time.Minute)}, capacity: 1, available: 1}
	warmer := &candidate{conn: &staticConn{lastActive: base.Add(time.Hour)}, capacity: 1, available: 1}

	sel := selector.NewMostRecent()
	assert.Same(t, warmer, sel.Select(candidates(cold, warmer, warm)))
	assert.Same(t, warmer, sel.Select(candidates(warmer, cold, warm)))
}

func TestMostRecentTies(t *testing.T) {
	t.Parallel()

	// never-used connections have a zero LastActive; ties go to the
	// first candidate offered
	first := &candidate{conn: &staticConn{}, capacity: 1, available: 1}
	second := &candidate{conn: &staticConn{}, capacity: 1, available: 1}

	sel := selector.NewMostRecent()
	assert.Same(t, first, sel.Select(candidates(first, second)))
	assert.Same(t, second, sel.Select(candidates(second, first)))
}

func TestRoundRobin(t *testing.T) {
	t.Parallel()

	one := &candidate{conn: &staticConn{}, capacity: 1, available: 1}
	two := &candidate{conn: &staticConn{}, capacity: 1, available: 1}
	three := &candidate{conn: &staticConn{}, capacity: 1, available: 1}

	sel := selector.NewRoundRobin()
	cands := candidates(one, two, three)
	assert.Same(t, one, sel.Select(cands))
	assert.Same(t, two, sel.Select(cands))
	assert.Same(t, three, sel.Select(cands))
	assert.Same(t, one, sel.Select(cands))

	// the cursor keeps moving even when the candidate set shrinks
	assert.Same(t, one, sel.Select(candidates(one, two)))
}

func TestLeastLeased(t *testing.T) {
	t.Parallel()

	busy := &candidate{conn: &staticConn{}, capacity: 4, available: 1}
	quiet := &candidate{conn: &staticConn{}, capacity: 4, available: 3}
	idle := &candidate{conn: &staticConn{}, capacity: 2, available: 2}

	sel := selector.NewLeastLeased()
	assert.Same(t, idle, sel.Select(candidates(busy, quiet, idle)))
	assert.Same(t, idle, sel.Select(candidates(idle, quiet, busy)))

	// ties go to the first candidate offered
	alsoIdle := &candidate{conn: &staticConn{}, capacity: 8, available: 8}
	assert.Same(t, alsoIdle, sel.Select(candidates(alsoIdle, idle, busy)))
}
