//Copyright (c) 2020 Uber Technologies, Inc.
//
//Licensed under the Uber Non-Commercial License (the "License");
//you may not use this file except in compliance with the License.
//You may obtain a copy of the License at the root directory of this project.
//
//See the License for the specific language governing permissions and
//limitations under the License.
package intset

import (
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/uber-research/rtmset/lib/rtm"
)

// configs covers both lock modes on the default engine and on an engine that
// never starts a region.
func configs() map[string][]Option {
	return map[string][]Option{
		"fine/default":    nil,
		"fine/disabled":   {WithEngine(rtm.Disabled())},
		"coarse/default":  {WithCoarseLock()},
		"coarse/disabled": {WithCoarseLock(), WithEngine(rtm.Disabled())},
	}
}

func newSet(t *testing.T, buckets int, opts ...Option) *Set {
	t.Helper()
	s, err := New(buckets, opts...)
	require.NoError(t, err)
	return s
}

// checkChains verifies the bucket invariants of a quiescent set.
func checkChains(t *testing.T, s *Set) {
	t.Helper()
	for i := range s.buckets {
		b := &s.buckets[i]
		require.Nil(t, b.head.owner, "bucket %d head claimed", i)
		require.Zero(t, b.head.pins, "bucket %d head pinned", i)
		var prev *node
		for n := b.head.next; n != nil; n = n.next {
			require.Equal(t, i, s.index(n.value), "value %d in bucket %d", n.value, i)
			if prev != nil {
				require.Less(t, prev.value, n.value, "bucket %d out of order", i)
			}
			require.Nil(t, n.owner, "value %d still claimed", n.value)
			require.Zero(t, n.pins, "value %d still pinned", n.value)
			prev = n
		}
	}
}

func sorted(vals []int64) []int64 {
	out := append([]int64(nil), vals...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sum(vals []int64) int64 {
	var total int64
	for _, v := range vals {
		total += v
	}
	return total
}

func TestNewInvalidBucketCount(t *testing.T) {
	for _, n := range []int{0, -3} {
		_, err := New(n)
		require.ErrorIs(t, err, ErrInvalidBucketCount)
	}
}

func TestSequentialSemantics(t *testing.T) {
	for name, opts := range configs() {
		t.Run(name, func(t *testing.T) {
			s := newSet(t, 8, opts...)
			require.Equal(t, 8, s.BucketCount())
			require.False(t, s.Contains(3))
			require.True(t, s.Add(3))
			require.True(t, s.Contains(3))
			require.False(t, s.Add(3))
			require.Equal(t, 1, s.Len())

			require.True(t, s.Add(11))
			require.True(t, s.Add(19))
			require.True(t, s.Add(-5))
			require.Equal(t, []int64{-5, 3, 11, 19}, sorted(s.Values()))

			require.True(t, s.Remove(11))
			require.False(t, s.Contains(11))
			require.False(t, s.Remove(11))
			require.True(t, s.Contains(3))
			require.True(t, s.Contains(19))
			require.Equal(t, int64(17), s.SnapshotSum())
			checkChains(t, s)
		})
	}
}

func TestNegativeRouting(t *testing.T) {
	s := newSet(t, 4)
	require.Equal(t, 3, s.index(-1))
	require.Equal(t, 0, s.index(-4))
	require.Equal(t, 1, s.index(-7))
	require.True(t, s.Add(-1))
	require.True(t, s.Add(-4))
	require.True(t, s.Contains(-1))
	require.True(t, s.Contains(-4))
	checkChains(t, s)
}

func TestExampleScenario(t *testing.T) {
	for name, opts := range configs() {
		t.Run(name, func(t *testing.T) {
			s := newSet(t, 4, opts...)
			require.True(t, s.Add(1))
			require.True(t, s.Add(5))
			require.True(t, s.Add(9))
			require.True(t, s.Move(5, 2))

			require.Equal(t, []int64{1, 2, 9}, sorted(s.Values()))
			// bucket 1 holds 1 and 9, bucket 2 holds 2
			require.Equal(t, []int64{1, 9, 2}, s.Values())
			require.Equal(t, int64(12), s.SnapshotSum())
			checkChains(t, s)
		})
	}
}

func TestMove(t *testing.T) {
	tt := []struct {
		name    string
		buckets int
		initial []int64
		old     int64
		new     int64
		ok      bool
		want    []int64
	}{
		{name: "old value absent", buckets: 4, initial: []int64{1, 2}, old: 3, new: 7, ok: false, want: []int64{1, 2}},
		{name: "across buckets", buckets: 4, initial: []int64{1, 2}, old: 1, new: 7, ok: true, want: []int64{2, 7}},
		{name: "higher bucket to lower", buckets: 4, initial: []int64{3, 8}, old: 3, new: 4, ok: true, want: []int64{4, 8}},
		{name: "new value present", buckets: 4, initial: []int64{1, 2}, old: 1, new: 2, ok: true, want: []int64{2}},
		{name: "new value present in same bucket", buckets: 1, initial: []int64{1, 2, 3}, old: 2, new: 3, ok: true, want: []int64{1, 3}},
		{name: "same gap before old", buckets: 1, initial: []int64{5}, old: 5, new: 3, ok: true, want: []int64{3}},
		{name: "right after old", buckets: 1, initial: []int64{5, 9}, old: 5, new: 7, ok: true, want: []int64{7, 9}},
		{name: "right before old", buckets: 1, initial: []int64{3, 5}, old: 5, new: 1, ok: true, want: []int64{1, 3}},
		{name: "to the tail", buckets: 1, initial: []int64{1, 3}, old: 1, new: 4, ok: true, want: []int64{3, 4}},
		{name: "to the head", buckets: 1, initial: []int64{2, 4, 6}, old: 6, new: 0, ok: true, want: []int64{0, 2, 4}},
		{name: "far apart in one bucket", buckets: 2, initial: []int64{0, 2, 4, 6, 8}, old: 2, new: 10, ok: true, want: []int64{0, 4, 6, 8, 10}},
		{name: "onto itself", buckets: 4, initial: []int64{1}, old: 1, new: 1, ok: true, want: []int64{1}},
		{name: "onto itself absent", buckets: 4, initial: []int64{1}, old: 2, new: 2, ok: false, want: []int64{1}},
		{name: "empty set", buckets: 4, old: 2, new: 3, ok: false},
	}
	for name, opts := range configs() {
		for _, tc := range tt {
			t.Run(name+"/"+tc.name, func(t *testing.T) {
				s := newSet(t, tc.buckets, opts...)
				for _, v := range tc.initial {
					require.True(t, s.Add(v))
				}
				require.Equal(t, tc.ok, s.Move(tc.old, tc.new))
				require.Equal(t, tc.want, sorted(s.Values()))
				require.Equal(t, sum(tc.want), s.SnapshotSum())
				checkChains(t, s)
			})
		}
	}
}

func TestSnapshotSegments(t *testing.T) {
	// every third region attempt runs out of capacity
	engine := rtm.NewScripted(func(n int) rtm.Status {
		if n%3 == 0 {
			return rtm.AbortCapacity
		}
		return rtm.Started
	})
	s := newSet(t, 3, WithEngine(engine), WithSegmentLength(4), WithStats(true))
	var want int64
	for v := int64(-50); v < 150; v++ {
		require.True(t, s.Add(v))
		want += v
	}

	before := engine.Calls()
	require.Equal(t, want, s.SnapshotSum())
	// 200 values in segments of at most four nodes need many regions
	require.Greater(t, engine.Calls()-before, 50)
	require.False(t, engine.InRegion())
	checkChains(t, s)
}

func TestSnapshotShrinksOnCapacity(t *testing.T) {
	engine := rtm.NewScripted(rtm.Repeat(rtm.AbortCapacity))
	s := newSet(t, 1, WithEngine(engine), WithSegmentLength(8), WithMaxCapacityRetries(2), WithStats(true))
	var want int64
	for v := int64(0); v < 20; v++ {
		require.True(t, s.Add(v*3))
		want += v * 3
	}

	entries := s.Stats().Entries
	require.Equal(t, want, s.SnapshotSum())
	// budgets 8, 4, 2 and then 1 for the remaining six nodes
	require.Equal(t, uint64(3+6), s.Stats().Entries-entries)
	checkChains(t, s)
}

func TestSnapshotEmpty(t *testing.T) {
	s := newSet(t, 5)
	require.Zero(t, s.SnapshotSum())
	require.Zero(t, s.Len())
	require.Empty(t, s.Values())
}

func TestFallbackEquivalence(t *testing.T) {
	engines := map[string]rtm.Engine{
		"default":  rtm.Default(),
		"disabled": rtm.Disabled(),
		"conflict": rtm.NewScripted(rtm.Repeat(rtm.AbortConflict | rtm.AbortRetry)),
		"capacity": rtm.NewScripted(rtm.Repeat(rtm.AbortCapacity)),
	}
	results := map[string][]int64{}
	for name, engine := range engines {
		s := newSet(t, 7, WithEngine(engine), WithMaxConflictRetries(3))
		rnd := rand.New(rand.NewSource(42))
		for i := 0; i < 1000; i++ {
			v := int64(rnd.Intn(100))
			if i%2 == 0 {
				s.Add(v)
			} else {
				s.Remove(v)
			}
		}
		checkChains(t, s)
		results[name] = s.Values()
	}
	for name, vals := range results {
		require.Equal(t, results["disabled"], vals, name)
	}
}

func TestStatsReport(t *testing.T) {
	s := newSet(t, 4, WithStats(true), WithEngine(rtm.Disabled()))
	s.Add(1)
	s.Add(2)
	s.Contains(1)
	st := s.Stats()
	require.Equal(t, uint64(3), st.Entries)
	require.Equal(t, uint64(3), st.Fallbacks)

	scope := tally.NewTestScope("intset", nil)
	s.ReportStats(scope)
	found := false
	for _, g := range scope.Snapshot().Gauges() {
		if g.Name() == "intset.entries" {
			require.Equal(t, "fine", g.Tags()["mode"])
			require.Equal(t, 3.0, g.Value())
			found = true
		}
	}
	require.True(t, found)

	coarse := newSet(t, 4, WithCoarseLock(), WithStats(true))
	coarse.Add(1)
	require.Len(t, coarse.locks, 1)
	require.Equal(t, uint64(1), coarse.Stats().Entries)
}

func TestLockStats(t *testing.T) {
	s := newSet(t, 4, WithStats(true), WithEngine(rtm.Disabled()))
	s.Add(1)
	s.Add(2)
	s.Contains(1)
	per := s.LockStats()
	require.Len(t, per, 4)
	require.Zero(t, per[0].Entries)
	require.Equal(t, uint64(2), per[1].Entries)
	require.Equal(t, uint64(1), per[2].Entries)
	require.Zero(t, per[3].Entries)
	require.Equal(t, per[1].Add(per[2]), s.Stats())

	coarse := newSet(t, 4, WithCoarseLock(), WithStats(true), WithEngine(rtm.Disabled()))
	coarse.Add(1)
	coarse.Add(2)
	require.Len(t, coarse.LockStats(), 1)
	require.Equal(t, uint64(2), coarse.LockStats()[0].Entries)
}

func TestLogsConstruction(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	_ = newSet(t, 16, WithLogger(zap.New(core)), WithEngine(rtm.Disabled()), WithCoarseLock())

	entries := logs.FilterMessage("intset created").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, int64(16), fields["buckets"])
	require.Equal(t, true, fields["coarse"])
	require.Equal(t, "disabled", fields["engine"])
}

func TestConcurrentAddRemove(t *testing.T) {
	for name, opts := range configs() {
		t.Run(name, func(t *testing.T) {
			s := newSet(t, 8, opts...)
			const (
				goroutines = 8
				ops        = 5000
				valueRange = 64
			)
			initial := map[int64]int{}
			for v := int64(0); v < valueRange; v += 2 {
				require.True(t, s.Add(v))
				initial[v] = 1
			}

			nets := make([][valueRange]int, goroutines)
			var wg sync.WaitGroup
			wg.Add(goroutines)
			for g := 0; g < goroutines; g++ {
				go func(g int) {
					defer wg.Done()
					rnd := rand.New(rand.NewSource(int64(g)))
					for i := 0; i < ops; i++ {
						v := int64(rnd.Intn(valueRange))
						switch rnd.Intn(3) {
						case 0:
							if s.Add(v) {
								nets[g][v]++
							}
						case 1:
							if s.Remove(v) {
								nets[g][v]--
							}
						default:
							s.Contains(v)
						}
					}
				}(g)
			}
			wg.Wait()

			for v := int64(0); v < valueRange; v++ {
				net := initial[v]
				for g := range nets {
					net += nets[g][v]
				}
				require.Contains(t, []int{0, 1}, net, "value %d", v)
				require.Equal(t, net == 1, s.Contains(v), "value %d", v)
			}
			checkChains(t, s)
		})
	}
}
