//Copyright (c) 2020 Uber Technologies, Inc.
//
//Licensed under the Uber Non-Commercial License (the "License");
//you may not use this file except in compliance with the License.
//You may obtain a copy of the License at the root directory of this project.
//
//See the License for the specific language governing permissions and
//limitations under the License.
package rtmlock

import (
	"fmt"
	"sync/atomic"

	"github.com/uber-go/tally/v4"
	"golang.org/x/sys/cpu"

	"github.com/uber-research/rtmset/lib/rtm"
)

type counters struct {
	entries   atomic.Uint64
	fallbacks atomic.Uint64
	retries   atomic.Uint64
	conflict  atomic.Uint64
	capacity  atomic.Uint64
	explicit  atomic.Uint64
	nested    atomic.Uint64
	debug     atomic.Uint64
	_         cpu.CacheLinePad // Prevents false sharing.
}

func (c *counters) record(status rtm.Status) {
	if c == nil {
		return
	}
	if status.Is(rtm.AbortConflict) {
		c.conflict.Add(1)
	}
	if status.Is(rtm.AbortCapacity) {
		c.capacity.Add(1)
	}
	if status.Is(rtm.AbortExplicit) {
		c.explicit.Add(1)
	}
	if status.Is(rtm.AbortNested) {
		c.nested.Add(1)
	}
	if status.Is(rtm.AbortDebug) {
		c.debug.Add(1)
	}
}

// Stats is a snapshot of a lock's counters. Abort causes are counted per
// aborted attempt, so one entry may contribute several.
type Stats struct {
	Entries   uint64
	Fallbacks uint64
	// Retries counts entries abandoned because an abort carried no retry hint.
	Retries  uint64
	Conflict uint64
	Capacity uint64
	Explicit uint64
	Nested   uint64
	Debug    uint64
}

// Stats returns the counters, or the zero value when statistics are off.
func (l *Lock) Stats() Stats {
	c := l.stats
	if c == nil {
		return Stats{}
	}
	return Stats{
		Entries:   c.entries.Load(),
		Fallbacks: c.fallbacks.Load(),
		Retries:   c.retries.Load(),
		Conflict:  c.conflict.Load(),
		Capacity:  c.capacity.Load(),
		Explicit:  c.explicit.Load(),
		Nested:    c.nested.Load(),
		Debug:     c.debug.Load(),
	}
}

// Add returns the field-wise sum of s and o.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		Entries:   s.Entries + o.Entries,
		Fallbacks: s.Fallbacks + o.Fallbacks,
		Retries:   s.Retries + o.Retries,
		Conflict:  s.Conflict + o.Conflict,
		Capacity:  s.Capacity + o.Capacity,
		Explicit:  s.Explicit + o.Explicit,
		Nested:    s.Nested + o.Nested,
		Debug:     s.Debug + o.Debug,
	}
}

func (s Stats) rate(n uint64) float64 {
	if s.Entries == 0 {
		return 0
	}
	return float64(n) / float64(s.Entries)
}

// FallbackRate is the share of entries that took the spinlock.
func (s Stats) FallbackRate() float64 {
	return s.rate(s.Fallbacks)
}

func (s Stats) String() string {
	return fmt.Sprintf("lock count=%d, fallback count=%d, conflict count=%d, nested count=%d, capacity count=%d, explicit count=%d, retry count=%d, debug count=%d; "+
		"fallback rate=%f, conflict rate=%f, nested rate=%f, capacity rate=%f, explicit rate=%f, retry rate=%f, debug rate=%f",
		s.Entries, s.Fallbacks, s.Conflict, s.Nested, s.Capacity, s.Explicit, s.Retries, s.Debug,
		s.FallbackRate(), s.rate(s.Conflict), s.rate(s.Nested), s.rate(s.Capacity), s.rate(s.Explicit), s.rate(s.Retries), s.rate(s.Debug))
}

// Report publishes the counters as gauges on scope.
func (s Stats) Report(scope tally.Scope) {
	scope.Gauge("entries").Update(float64(s.Entries))
	scope.Gauge("fallbacks").Update(float64(s.Fallbacks))
	scope.Gauge("retries").Update(float64(s.Retries))
	scope.Gauge("fallback_rate").Update(s.FallbackRate())

	aborts := scope.SubScope("aborts")
	aborts.Tagged(map[string]string{"cause": "conflict"}).Gauge("count").Update(float64(s.Conflict))
	aborts.Tagged(map[string]string{"cause": "capacity"}).Gauge("count").Update(float64(s.Capacity))
	aborts.Tagged(map[string]string{"cause": "explicit"}).Gauge("count").Update(float64(s.Explicit))
	aborts.Tagged(map[string]string{"cause": "nested"}).Gauge("count").Update(float64(s.Nested))
	aborts.Tagged(map[string]string{"cause": "debug"}).Gauge("count").Update(float64(s.Debug))
}
