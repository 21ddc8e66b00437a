//Copyright (c) 2020 Uber Technologies, Inc.
//
//Licensed under the Uber Non-Commercial License (the "License");
//you may not use this file except in compliance with the License.
//You may obtain a copy of the License at the root directory of this project.
//
//See the License for the specific language governing permissions and
//limitations under the License.

//go:build amd64

package rtm

const archSupported = true

// txBegin is the start of transaction. It will return Started
// if transaction works, otherwise it returns different status code
func txBegin() uint32

// txEnd marks the end of transaction
func txEnd()

// txAbortLockHeld aborts the transaction with CodeLockHeld
func txAbortLockHeld()

// txTest reports whether the caller executes inside a transaction
func txTest() bool
