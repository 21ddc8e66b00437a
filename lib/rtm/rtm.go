//Copyright (c) 2020 Uber Technologies, Inc.
//
//Licensed under the Uber Non-Commercial License (the "License");
//you may not use this file except in compliance with the License.
//You may obtain a copy of the License at the root directory of this project.
//
//See the License for the specific language governing permissions and
//limitations under the License.

// Package rtm exposes best-effort hardware transactional regions (Intel RTM)
// behind a small Engine interface, together with engines that never start a
// region so callers can exercise their fallback paths on any machine.
package rtm

import (
	"runtime"

	"github.com/intel-go/cpuid"
)

// Status is the value reported by Begin. It is Started when a region is
// open, otherwise the abort status in the EAX layout of the Intel manual.
type Status uint32

// refer to Intel manual
const (
	Started       Status = ^Status(0)
	AbortExplicit Status = (1 << 0)
	AbortRetry    Status = (1 << 1)
	AbortConflict Status = (1 << 2)
	AbortCapacity Status = (1 << 3)
	AbortDebug    Status = (1 << 4)
	AbortNested   Status = (1 << 5)
)

// CodeLockHeld is the explicit abort code used by a region that finds the
// fallback lock taken.
const CodeLockHeld uint8 = 0xff

// Code returns the customized abort code from the higher 8 bits.
func (s Status) Code() uint8 {
	return uint8((s >> 24) & 0xff)
}

// Is reports whether every bit of cause is set in an abort status.
func (s Status) Is(cause Status) bool {
	return s != Started && s&cause == cause
}

// LockHeld reports an explicit, non-nested abort carrying CodeLockHeld.
func (s Status) LockHeld() bool {
	return s.Is(AbortExplicit) && s.Code() == CodeLockHeld && !s.Is(AbortNested)
}

// ExplicitStatus builds the status an explicit abort with code produces.
func ExplicitStatus(code uint8) Status {
	return AbortExplicit | Status(code)<<24
}

// Engine begins, ends and aborts regions.
//
// Abort on a hardware engine rolls the region back and resumes execution at
// the matching Begin, which then returns the abort status; Abort never
// returns to its caller there. Engines that cannot unwind return from Abort
// and leave the caller to carry on with ExplicitStatus(CodeLockHeld).
type Engine interface {
	Begin() Status
	End()
	Abort()
	InRegion() bool
}

// indicate the CPU support RTM or not
var hasRTM bool = false

func init() {
	hasRTM = cpuid.HasExtendedFeature(cpuid.RTM) && archSupported
	// if we know the program is executed in single thread, then don't use HTM at all
	if runtime.GOMAXPROCS(0) == 1 {
		hasRTM = false
	}
}

// Supported reports whether hardware regions are usable in this process.
func Supported() bool {
	return hasRTM
}

// Default returns the hardware engine when RTM is usable and the disabled
// engine otherwise.
func Default() Engine {
	if hasRTM {
		return Hardware()
	}
	return Disabled()
}

// Name returns a short label for an engine, used in logs and metric tags.
func Name(e Engine) string {
	switch e.(type) {
	case hardware:
		return "rtm"
	case disabled:
		return "disabled"
	case *Scripted:
		return "scripted"
	default:
		return "custom"
	}
}
