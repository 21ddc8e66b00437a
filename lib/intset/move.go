//Copyright (c) 2020 Uber Technologies, Inc.
//
//Licensed under the Uber Non-Commercial License (the "License");
//you may not use this file except in compliance with the License.
//You may obtain a copy of the License at the root directory of this project.
//
//See the License for the specific language governing permissions and
//limitations under the License.
package intset

import "go.uber.org/zap"

// position is one end of a move: where the old value sits, or where the
// new value sits or would be inserted.
type position struct {
	idx   int
	b     *bucket
	value int64
	old   bool
	prev  *node
	next  *node
}

type claimed struct {
	n *node
	b *bucket
}

// mover carries the claims of one Move across its critical sections.
type mover struct {
	s    *Set
	c    *claim
	held [4]claimed
	n    int
}

// Move removes oldValue and makes newValue present as one atomic step. It
// reports false, leaving the set unchanged, when oldValue is absent. When
// newValue is already present only the removal happens and Move still
// reports true. Moving a value onto itself changes nothing and reports
// whether the value is present.
//
// Positions are visited in increasing bucket index, and by increasing value
// within a bucket. Every mover therefore claims nodes in the same global
// order, so two movers can never wait on each other in a cycle.
func (s *Set) Move(oldValue, newValue int64) bool {
	if oldValue == newValue {
		return s.Contains(oldValue)
	}
	src := &position{idx: s.index(oldValue), value: oldValue, old: true}
	dst := &position{idx: s.index(newValue), value: newValue}
	src.b = &s.buckets[src.idx]
	dst.b = &s.buckets[dst.idx]
	first, second := src, dst
	if dst.idx < src.idx || (dst.idx == src.idx && newValue < oldValue) {
		first, second = dst, src
	}

	// allocate before any critical section so a failed allocation leaves
	// nothing half done
	n := &node{value: newValue}
	m := &mover{s: s, c: &claim{from: oldValue, to: newValue}}
	for {
		if !m.locate(first) || !m.locate(second) {
			m.release()
			return false
		}
		if m.commit(src, dst, n) {
			return true
		}
		m.release()
		s.logger.Debug("move restarted",
			zap.Int64("old", oldValue),
			zap.Int64("new", newValue),
		)
	}
}

func (m *mover) blocked(n *node) bool {
	return n != nil && n.owner != nil && n.owner != m.c
}

// take claims n unless it is nil or already claimed by this move.
func (m *mover) take(n *node, b *bucket) {
	if n == nil || n.owner == m.c {
		return
	}
	n.owner = m.c
	m.held[m.n] = claimed{n: n, b: b}
	m.n++
}

// locate scans to the pair bracketing p and claims it inside one critical
// section of p's bucket. It reports false when p is the old position and its
// value is absent.
func (m *mover) locate(p *position) bool {
	b := p.b
	spins := 0
	for {
		b.lock.Lock()
		prev, next := b.locate(p.value)
		if p.old && (next == nil || next.value != p.value) {
			b.lock.Unlock()
			return false
		}
		if m.blocked(prev) || m.blocked(next) {
			b.lock.Unlock()
			backoff(&spins)
			continue
		}
		m.take(prev, b)
		m.take(next, b)
		p.prev, p.next = prev, next
		b.lock.Unlock()
		return true
	}
}

// commit performs the structural change under the locks of both buckets.
// It reports false when a claimed position no longer matches the chain; the
// caller then releases its claims and starts over.
func (m *mover) commit(src, dst *position, n *node) bool {
	s := m.s
	spins := 0
	for {
		s.enterPair(src.idx, dst.idx)
		if src.prev.next != src.next || dst.prev.next != dst.next {
			s.exitPair(src.idx, dst.idx)
			return false
		}
		victim := src.next
		if victim.pins > 0 {
			// a snapshot resumes from the victim; wait for it to move on
			s.exitPair(src.idx, dst.idx)
			backoff(&spins)
			continue
		}

		succ := victim.next
		src.prev.next = succ
		if dst.next == nil || dst.next.value != dst.value {
			pred, next := dst.prev, dst.next
			// the positions may share nodes when both are in one bucket
			if pred == victim {
				pred = src.prev
			}
			if next == victim {
				next = succ
			}
			n.next = next
			pred.next = n
		}
		for i := 0; i < m.n; i++ {
			m.held[i].n.owner = nil
		}
		m.n = 0
		s.exitPair(src.idx, dst.idx)
		return true
	}
}

// release drops every claim of the move, one critical section per bucket.
func (m *mover) release() {
	for m.n > 0 {
		b := m.held[0].b
		b.lock.Lock()
		kept := 0
		for i := 0; i < m.n; i++ {
			if m.held[i].b == b {
				m.held[i].n.owner = nil
				continue
			}
			m.held[kept] = m.held[i]
			kept++
		}
		m.n = kept
		b.lock.Unlock()
	}
}

// enterPair enters the critical sections of buckets i and j in index order,
// entering a shared lock only once.
func (s *Set) enterPair(i, j int) {
	if i > j {
		i, j = j, i
	}
	s.buckets[i].lock.Lock()
	if s.buckets[j].lock != s.buckets[i].lock {
		s.buckets[j].lock.Lock()
	}
}

func (s *Set) exitPair(i, j int) {
	if i > j {
		i, j = j, i
	}
	if s.buckets[j].lock != s.buckets[i].lock {
		s.buckets[j].lock.Unlock()
	}
	s.buckets[i].lock.Unlock()
}
