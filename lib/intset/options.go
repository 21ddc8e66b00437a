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
	"go.uber.org/zap"

	"github.com/uber-research/rtmset/lib/rtm"
	"github.com/uber-research/rtmset/lib/rtmlock"
)

// DefaultSegmentLength is the number of nodes a snapshot region visits
// before it commits and resumes in a new region.
const DefaultSegmentLength = 32

type options struct {
	coarse  bool
	engine  rtm.Engine
	segment int
	logger  *zap.Logger
	lock    []rtmlock.Option
}

// Option configures a Set.
type Option func(*options)

// WithCoarseLock guards the whole set with a single lock instead of one lock
// per bucket.
func WithCoarseLock() Option {
	return func(o *options) {
		o.coarse = true
	}
}

// WithEngine selects the region engine of every lock of the set.
func WithEngine(e rtm.Engine) Option {
	return func(o *options) {
		if e != nil {
			o.engine = e
		}
	}
}

// WithMaxConflictRetries sets the per-entry region attempt budget.
func WithMaxConflictRetries(n int) Option {
	return func(o *options) {
		o.lock = append(o.lock, rtmlock.WithMaxConflictRetries(n))
	}
}

// WithMaxCapacityRetries sets how many consecutive capacity aborts an entry
// tolerates.
func WithMaxCapacityRetries(n int) Option {
	return func(o *options) {
		o.lock = append(o.lock, rtmlock.WithMaxCapacityRetries(n))
	}
}

// WithStats turns on lock statistics.
func WithStats(enabled bool) Option {
	return func(o *options) {
		o.lock = append(o.lock, rtmlock.WithStats(enabled))
	}
}

// WithSegmentLength bounds how many nodes one snapshot region reads.
// Values below one are raised to one.
func WithSegmentLength(n int) Option {
	return func(o *options) {
		o.segment = max(n, 1)
	}
}

// WithLogger sets the logger. A nil logger keeps the no-op default.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
