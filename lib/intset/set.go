//Copyright (c) 2020 Uber Technologies, Inc.
//
//Licensed under the Uber Non-Commercial License (the "License");
//you may not use this file except in compliance with the License.
//You may obtain a copy of the License at the root directory of this project.
//
//See the License for the specific language governing permissions and
//limitations under the License.

// Package intset implements a bucketed concurrent integer set whose
// critical sections run as hardware regions through rtmlock, with a
// two-phase cross-bucket Move and a snapshot sum built from bounded
// regions.
//
// Every bucket is a sorted singly linked chain behind a sentinel head.
// Chains are read and written only inside the critical section of their
// bucket. Move and the snapshot additionally leave marks on nodes between
// critical sections: a move claims the nodes around its two positions, and
// a snapshot pins the node it will resume from. Add and Remove wait for
// those marks to clear instead of touching marked nodes.
package intset

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"
	"golang.org/x/sys/cpu"

	"github.com/uber-research/rtmset/lib/rtm"
	"github.com/uber-research/rtmset/lib/rtmlock"
)

// ErrInvalidBucketCount is returned by New for a bucket count below one.
var ErrInvalidBucketCount = errors.New("intset: bucket count must be positive")

const activeSpin = 64

// claim identifies the move that owns a node.
type claim struct {
	from, to int64
}

type node struct {
	value int64
	next  *node
	owner *claim // set while a move holds the node
	pins  int32  // snapshots resuming from this node
}

type bucket struct {
	_    cpu.CacheLinePad // Prevents false sharing.
	head node             // sentinel, never data bearing
	lock *rtmlock.Lock
}

// Set is a concurrent set of int64 values routed to a fixed number of
// buckets by value mod bucket count.
type Set struct {
	buckets []bucket
	locks   []*rtmlock.Lock
	segment int
	coarse  bool
	logger  *zap.Logger
}

// New returns an empty set with bucketCount buckets.
func New(bucketCount int, opts ...Option) (*Set, error) {
	if bucketCount <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBucketCount, bucketCount)
	}
	o := options{
		engine:  rtm.Default(),
		segment: DefaultSegmentLength,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	lockOpts := append([]rtmlock.Option{rtmlock.WithEngine(o.engine)}, o.lock...)

	s := &Set{
		buckets: make([]bucket, bucketCount),
		segment: o.segment,
		coarse:  o.coarse,
		logger:  o.logger,
	}
	if o.coarse {
		l := rtmlock.New(lockOpts...)
		s.locks = []*rtmlock.Lock{l}
		for i := range s.buckets {
			s.buckets[i].lock = l
		}
	} else {
		s.locks = make([]*rtmlock.Lock, bucketCount)
		for i := range s.buckets {
			s.locks[i] = rtmlock.New(lockOpts...)
			s.buckets[i].lock = s.locks[i]
		}
	}
	s.logger.Info("intset created",
		zap.Int("buckets", bucketCount),
		zap.Bool("coarse", o.coarse),
		zap.String("engine", rtm.Name(o.engine)),
		zap.Int("segment", o.segment),
	)
	return s, nil
}

// BucketCount returns the fixed number of buckets.
func (s *Set) BucketCount() int {
	return len(s.buckets)
}

func (s *Set) index(v int64) int {
	n := int64(len(s.buckets))
	return int(((v % n) + n) % n)
}

func (s *Set) bucket(v int64) *bucket {
	return &s.buckets[s.index(v)]
}

// locate returns the last node below v and the first node at or above v.
// The caller must be inside the bucket's critical section.
func (b *bucket) locate(v int64) (prev, next *node) {
	prev = &b.head
	next = prev.next
	for next != nil && next.value < v {
		prev = next
		next = next.next
	}
	return prev, next
}

// Contains reports whether v is in the set.
func (s *Set) Contains(v int64) bool {
	b := s.bucket(v)
	b.lock.Lock()
	_, next := b.locate(v)
	found := next != nil && next.value == v
	b.lock.Unlock()
	return found
}

// Add inserts v and reports whether it was absent.
func (s *Set) Add(v int64) bool {
	b := s.bucket(v)
	n := &node{value: v}
	spins := 0
	for {
		b.lock.Lock()
		prev, next := b.locate(v)
		if next != nil && next.value == v {
			b.lock.Unlock()
			return false
		}
		if prev.owner == nil {
			n.next = next
			prev.next = n
			b.lock.Unlock()
			return true
		}
		b.lock.Unlock()
		backoff(&spins)
	}
}

// Remove deletes v and reports whether it was present.
func (s *Set) Remove(v int64) bool {
	b := s.bucket(v)
	spins := 0
	for {
		b.lock.Lock()
		prev, curr := b.locate(v)
		if curr == nil || curr.value != v {
			b.lock.Unlock()
			return false
		}
		if prev.owner == nil && curr.owner == nil && curr.pins == 0 {
			prev.next = curr.next
			b.lock.Unlock()
			return true
		}
		b.lock.Unlock()
		backoff(&spins)
	}
}

// Len returns the number of values. Each bucket is counted atomically, the
// set as a whole is not.
func (s *Set) Len() int {
	total := 0
	for i := range s.buckets {
		b := &s.buckets[i]
		count := 0
		b.lock.Lock()
		for n := b.head.next; n != nil; n = n.next {
			count++
		}
		b.lock.Unlock()
		total += count
	}
	return total
}

// Values returns the values bucket by bucket, ascending within a bucket.
func (s *Set) Values() []int64 {
	var out []int64
	for i := range s.buckets {
		b := &s.buckets[i]
		vals := make([]int64, 0, 8)
		b.lock.Lock()
		for n := b.head.next; n != nil; n = n.next {
			vals = append(vals, n.value)
		}
		b.lock.Unlock()
		out = append(out, vals...)
	}
	return out
}

// LockStats returns the statistics of every distinct lock of the set: one
// per bucket in bucket order, or a single entry with a coarse lock.
func (s *Set) LockStats() []rtmlock.Stats {
	out := make([]rtmlock.Stats, len(s.locks))
	for i, l := range s.locks {
		out[i] = l.Stats()
	}
	return out
}

// Stats sums the statistics of the distinct locks of the set.
func (s *Set) Stats() rtmlock.Stats {
	var st rtmlock.Stats
	for _, ls := range s.LockStats() {
		st = st.Add(ls)
	}
	return st
}

// ReportStats publishes the aggregated lock statistics on scope, tagged with
// the lock mode.
func (s *Set) ReportStats(scope tally.Scope) {
	mode := "fine"
	if s.coarse {
		mode = "coarse"
	}
	s.Stats().Report(scope.Tagged(map[string]string{"mode": mode}))
}

func backoff(spins *int) {
	if *spins < activeSpin {
		*spins++
		return
	}
	runtime.Gosched()
}
