//Copyright (c) 2020 Uber Technologies, Inc.
//
//Licensed under the Uber Non-Commercial License (the "License");
//you may not use this file except in compliance with the License.
//You may obtain a copy of the License at the root directory of this project.
//
//See the License for the specific language governing permissions and
//limitations under the License.
package rtm

import "sync/atomic"

type disabled struct{}

// Disabled returns an engine whose regions always abort without the retry
// bit, forcing every critical section onto the fallback lock.
func Disabled() Engine {
	return disabled{}
}

func (disabled) Begin() Status  { return 0 }
func (disabled) End()           {}
func (disabled) Abort()         {}
func (disabled) InRegion() bool { return false }

// Scripted is an engine whose Begin results come from a function of the
// attempt number. A scripted Started region gives no isolation at all, so
// scripts that start regions must only be driven from one goroutine.
type Scripted struct {
	script func(n int) Status
	calls  atomic.Int64
	depth  atomic.Int32
}

// NewScripted returns an engine that answers the n-th Begin (counting from
// zero) with script(n).
func NewScripted(script func(n int) Status) *Scripted {
	return &Scripted{script: script}
}

// Begin implements Engine. A Begin inside an open region joins it and
// reports Started without consulting the script, as flat nesting does on
// hardware.
func (s *Scripted) Begin() Status {
	n := s.calls.Add(1) - 1
	if s.depth.Load() > 0 {
		s.depth.Add(1)
		return Started
	}
	st := s.script(int(n))
	if st == Started {
		s.depth.Add(1)
	}
	return st
}

// End implements Engine.
func (s *Scripted) End() {
	if s.depth.Add(-1) < 0 {
		panic("rtm: End outside a region")
	}
}

// Abort implements Engine. The region is closed and the call returns.
func (s *Scripted) Abort() {
	if s.depth.Load() > 0 {
		s.depth.Add(-1)
	}
}

// InRegion implements Engine.
func (s *Scripted) InRegion() bool {
	return s.depth.Load() > 0
}

// Calls returns how many times Begin was invoked.
func (s *Scripted) Calls() int {
	return int(s.calls.Load())
}

// Sequence answers the first len(statuses) attempts with the given statuses
// and every later attempt with Started.
func Sequence(statuses ...Status) func(int) Status {
	return func(n int) Status {
		if n < len(statuses) {
			return statuses[n]
		}
		return Started
	}
}

// Repeat answers every attempt with st.
func Repeat(st Status) func(int) Status {
	return func(int) Status { return st }
}
