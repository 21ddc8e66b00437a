//Copyright (c) 2020 Uber Technologies, Inc.
//
//Licensed under the Uber Non-Commercial License (the "License");
//you may not use this file except in compliance with the License.
//You may obtain a copy of the License at the root directory of this project.
//
//See the License for the specific language governing permissions and
//limitations under the License.
package main

import (
	"errors"
	"fmt"
	"time"
)

var errConfig = errors.New("invalid configuration")

type config struct {
	threads    int
	duration   time.Duration
	ops        int
	buckets    int
	initial    int
	valueRange int64
	update     int
	move       int
	snapshot   int
	coarse     bool
	disableRTM bool
	stats      bool
	rate       float64
	seed       int64
	jsonLog    bool
}

func defaultConfig() config {
	return config{
		threads:    4,
		duration:   5 * time.Second,
		buckets:    512,
		initial:    256,
		valueRange: 512,
		update:     20,
		move:       0,
		snapshot:   0,
		stats:      true,
		seed:       1,
	}
}

func percent(name string, v int) error {
	if v < 0 || v > 100 {
		return fmt.Errorf("%w: %s must be within [0, 100], got %d", errConfig, name, v)
	}
	return nil
}

func (c config) validate() error {
	if c.threads <= 0 {
		return fmt.Errorf("%w: threads must be positive, got %d", errConfig, c.threads)
	}
	if c.buckets <= 0 {
		return fmt.Errorf("%w: buckets must be positive, got %d", errConfig, c.buckets)
	}
	if c.valueRange <= 0 {
		return fmt.Errorf("%w: range must be positive, got %d", errConfig, c.valueRange)
	}
	if c.initial < 0 || int64(c.initial) > c.valueRange {
		return fmt.Errorf("%w: initial must be within [0, range], got %d", errConfig, c.initial)
	}
	if c.duration <= 0 && c.ops <= 0 {
		return fmt.Errorf("%w: one of duration or ops must be positive", errConfig)
	}
	if c.ops < 0 || c.rate < 0 {
		return fmt.Errorf("%w: ops and rate must not be negative", errConfig)
	}
	for _, p := range []struct {
		name string
		v    int
	}{{"update", c.update}, {"move", c.move}, {"snapshot", c.snapshot}} {
		if err := percent(p.name, p.v); err != nil {
			return err
		}
	}
	if c.update+c.snapshot > 100 {
		return fmt.Errorf("%w: update and snapshot add up to %d%%", errConfig, c.update+c.snapshot)
	}
	return nil
}
