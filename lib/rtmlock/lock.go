//Copyright (c) 2020 Uber Technologies, Inc.
//
//Licensed under the Uber Non-Commercial License (the "License");
//you may not use this file except in compliance with the License.
//You may obtain a copy of the License at the root directory of this project.
//
//See the License for the specific language governing permissions and
//limitations under the License.

// Package rtmlock provides a mutual-exclusion lock that first tries to run
// the critical section as a hardware region and degrades to a spinlock when
// regions keep aborting.
package rtmlock

import (
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"github.com/uber-research/rtmset/lib/rtm"
)

const (
	// DefaultMaxConflictRetries bounds the region attempts of one entry.
	DefaultMaxConflictRetries = 100
	// DefaultMaxCapacityRetries bounds consecutive capacity aborts.
	DefaultMaxCapacityRetries = 10

	activeSpin = 64
)

var _ sync.Locker = (*Lock)(nil)

// Lock elides a spinlock with hardware regions. The zero value is not
// usable; create locks with New.
type Lock struct {
	_    cpu.CacheLinePad // Prevents false sharing.
	flag atomic.Uint32    // 1 while the fallback path owns the lock
	_    cpu.CacheLinePad // Prevents false sharing.

	engine             rtm.Engine
	maxConflictRetries int
	maxCapacityRetries int
	stats              *counters
}

// Entry describes how one Enter obtained the lock.
type Entry struct {
	Fallback       bool
	Aborts         int
	CapacityAborts int
}

// New returns an unlocked Lock.
func New(opts ...Option) *Lock {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	l := &Lock{
		engine:             o.engine,
		maxConflictRetries: o.maxConflictRetries,
		maxCapacityRetries: o.maxCapacityRetries,
	}
	if o.stats {
		l.stats = &counters{}
	}
	return l
}

// Engine returns the region engine used by the lock.
func (l *Lock) Engine() rtm.Engine {
	return l.engine
}

// Lock enters the critical section.
func (l *Lock) Lock() {
	l.Enter()
}

// Enter enters the critical section and reports which path was taken. On
// the fast path it returns with a region still open; Unlock commits it.
func (l *Lock) Enter() Entry {
	// an entry nested in another lock's open region joins that region and
	// is not counted, counters are written outside regions only
	if l.stats != nil && !l.engine.InRegion() {
		l.stats.entries.Add(1)
	}
	var e Entry
	capacityRun := 0
	for i := 0; i < l.maxConflictRetries; i++ {
		status := l.engine.Begin()
		if status == rtm.Started {
			// the flag joins the read set, so a later fallback
			// acquisition aborts this region
			if l.flag.Load() == 0 {
				return e
			}
			l.engine.Abort()
			status = rtm.ExplicitStatus(rtm.CodeLockHeld)
		}

		// Transaction failed for some reason.
		e.Aborts++
		l.stats.record(status)
		if status.LockHeld() {
			l.waitFallback()
			capacityRun = 0
		} else if status.Is(rtm.AbortCapacity) {
			e.CapacityAborts++
			capacityRun++
			if capacityRun >= l.maxCapacityRetries {
				break
			}
		} else if !status.Is(rtm.AbortRetry) {
			if l.stats != nil {
				l.stats.retries.Add(1)
			}
			break
		} else {
			capacityRun = 0
		}
	}

	e.Fallback = true
	if l.stats != nil {
		l.stats.fallbacks.Add(1)
	}
	l.acquire()
	return e
}

// Unlock commits the open region, or releases the spinlock when the
// critical section runs on the fallback path.
func (l *Lock) Unlock() {
	if l.engine.InRegion() {
		l.engine.End()
		return
	}
	if l.flag.Swap(0) == 0 {
		panic("rtmlock: unlock of unlocked lock")
	}
}

// Held reports whether the fallback path currently owns the lock.
func (l *Lock) Held() bool {
	return l.flag.Load() != 0
}

func (l *Lock) waitFallback() {
	spins := 0
	for l.flag.Load() != 0 {
		delay(&spins)
	}
}

func (l *Lock) acquire() {
	spins := 0
	for !l.flag.CompareAndSwap(0, 1) {
		for l.flag.Load() != 0 {
			delay(&spins)
		}
	}
}

func delay(spins *int) {
	if *spins < activeSpin {
		*spins++
		return
	}
	runtime.Gosched()
}
