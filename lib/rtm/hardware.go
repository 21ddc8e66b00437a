//Copyright (c) 2020 Uber Technologies, Inc.
//
//Licensed under the Uber Non-Commercial License (the "License");
//you may not use this file except in compliance with the License.
//You may obtain a copy of the License at the root directory of this project.
//
//See the License for the specific language governing permissions and
//limitations under the License.
package rtm

type hardware struct{}

// Hardware returns the engine backed by XBEGIN/XEND/XABORT/XTEST. On
// architectures without RTM every Begin reports an abort without the retry
// bit, so callers fall back immediately.
func Hardware() Engine {
	return hardware{}
}

//go:nosplit
func (hardware) Begin() Status {
	return Status(txBegin())
}

//go:nosplit
func (hardware) End() {
	txEnd()
}

//go:nosplit
func (hardware) Abort() {
	txAbortLockHeld()
}

//go:nosplit
func (hardware) InRegion() bool {
	return txTest()
}
