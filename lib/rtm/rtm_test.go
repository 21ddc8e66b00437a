//Copyright (c) 2020 Uber Technologies, Inc.
//
//Licensed under the Uber Non-Commercial License (the "License");
//you may not use this file except in compliance with the License.
//You may obtain a copy of the License at the root directory of this project.
//
//See the License for the specific language governing permissions and
//limitations under the License.
package rtm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusBits(t *testing.T) {
	tt := []struct {
		name     string
		status   Status
		cause    Status
		is       bool
		lockHeld bool
	}{
		{name: "started is never an abort", status: Started, cause: AbortExplicit},
		{name: "conflict", status: AbortConflict | AbortRetry, cause: AbortConflict, is: true},
		{name: "capacity", status: AbortCapacity, cause: AbortCapacity, is: true},
		{name: "capacity is not conflict", status: AbortCapacity, cause: AbortConflict},
		{name: "lock held", status: ExplicitStatus(CodeLockHeld), cause: AbortExplicit, is: true, lockHeld: true},
		{name: "nested lock held", status: ExplicitStatus(CodeLockHeld) | AbortNested, cause: AbortNested, is: true},
		{name: "other explicit code", status: ExplicitStatus(0x10), cause: AbortExplicit, is: true},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.is, tc.status.Is(tc.cause))
			require.Equal(t, tc.lockHeld, tc.status.LockHeld())
		})
	}
}

func TestExplicitCode(t *testing.T) {
	require.Equal(t, CodeLockHeld, ExplicitStatus(CodeLockHeld).Code())
	require.Equal(t, uint8(0x10), ExplicitStatus(0x10).Code())
	require.Equal(t, uint8(0), AbortConflict.Code())
}

func TestDisabled(t *testing.T) {
	e := Disabled()
	for i := 0; i < 10; i++ {
		st := e.Begin()
		require.NotEqual(t, Started, st)
		require.False(t, st.Is(AbortRetry))
	}
	require.False(t, e.InRegion())
	require.Equal(t, "disabled", Name(e))
}

func TestScripted(t *testing.T) {
	e := NewScripted(Sequence(AbortConflict|AbortRetry, AbortCapacity))
	require.Equal(t, AbortConflict|AbortRetry, e.Begin())
	require.False(t, e.InRegion())
	require.Equal(t, AbortCapacity, e.Begin())
	require.Equal(t, Started, e.Begin())
	require.True(t, e.InRegion())

	// nested regions flatten like RTM
	require.Equal(t, Started, e.Begin())
	e.End()
	require.True(t, e.InRegion())
	e.End()
	require.False(t, e.InRegion())

	require.Equal(t, Started, e.Begin())
	e.Abort()
	require.False(t, e.InRegion())
	require.Equal(t, 5, e.Calls())
	require.Panics(t, func() { e.End() })
	require.Equal(t, "scripted", Name(e))
}

func TestScriptedNestedJoins(t *testing.T) {
	e := NewScripted(Sequence(Started, AbortCapacity))
	require.Equal(t, Started, e.Begin())
	// the script would abort this one, but it runs inside an open region
	require.Equal(t, Started, e.Begin())
	e.End()
	e.End()
	require.False(t, e.InRegion())
	require.Equal(t, Started, e.Begin())
	e.End()
	require.Equal(t, 3, e.Calls())
}

func TestRepeat(t *testing.T) {
	e := NewScripted(Repeat(AbortCapacity))
	for i := 0; i < 3; i++ {
		require.Equal(t, AbortCapacity, e.Begin())
	}
	require.Equal(t, 3, e.Calls())
}

func TestDefault(t *testing.T) {
	if Supported() {
		require.Equal(t, "rtm", Name(Default()))
	} else {
		require.Equal(t, "disabled", Name(Default()))
	}
}

func TestHardwareRegion(t *testing.T) {
	if !Supported() {
		t.Skip("RTM is not available on this machine")
	}
	hw := Hardware()
	committed := false
	inside := false
	for i := 0; i < 1000 && !committed; i++ {
		if hw.Begin() == Started {
			inside = hw.InRegion()
			hw.End()
			committed = true
		}
	}
	if !committed {
		t.Skip("no region committed")
	}
	require.True(t, inside)
	require.False(t, hw.InRegion())
}
