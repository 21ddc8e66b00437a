//Copyright (c) 2020 Uber Technologies, Inc.
//
//Licensed under the Uber Non-Commercial License (the "License");
//you may not use this file except in compliance with the License.
//You may obtain a copy of the License at the root directory of this project.
//
//See the License for the specific language governing permissions and
//limitations under the License.
package rtmlock

import "github.com/uber-research/rtmset/lib/rtm"

type options struct {
	engine             rtm.Engine
	maxConflictRetries int
	maxCapacityRetries int
	stats              bool
}

func defaultOptions() options {
	return options{
		engine:             rtm.Default(),
		maxConflictRetries: DefaultMaxConflictRetries,
		maxCapacityRetries: DefaultMaxCapacityRetries,
	}
}

// Option configures a Lock.
type Option func(*options)

// WithEngine selects the region engine. A nil engine keeps rtm.Default().
func WithEngine(e rtm.Engine) Option {
	return func(o *options) {
		if e != nil {
			o.engine = e
		}
	}
}

// WithMaxConflictRetries bounds the region attempts of one entry. Values
// below one are raised to one.
func WithMaxConflictRetries(n int) Option {
	return func(o *options) {
		o.maxConflictRetries = max(n, 1)
	}
}

// WithMaxCapacityRetries bounds how many consecutive capacity aborts one
// entry tolerates before taking the fallback. Values below one are raised
// to one.
func WithMaxCapacityRetries(n int) Option {
	return func(o *options) {
		o.maxCapacityRetries = max(n, 1)
	}
}

// WithStats enables entry and abort counters. They are updated outside
// regions only, but they are shared words and cost throughput.
func WithStats(enabled bool) Option {
	return func(o *options) {
		o.stats = enabled
	}
}
