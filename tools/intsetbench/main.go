//Copyright (c) 2020 Uber Technologies, Inc.
//
//Licensed under the Uber Non-Commercial License (the "License");
//you may not use this file except in compliance with the License.
//You may obtain a copy of the License at the root directory of this project.
//
//See the License for the specific language governing permissions and
//limitations under the License.

// Command intsetbench stresses an intset.Set with a mix of membership,
// update, move and snapshot operations and verifies the set afterwards.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"
)

func parseFlags(args []string) (config, error) {
	cfg := defaultConfig()
	fs := flag.NewFlagSet("intsetbench", flag.ContinueOnError)
	fs.IntVar(&cfg.threads, "threads", cfg.threads, "number of worker goroutines")
	fs.DurationVar(&cfg.duration, "duration", cfg.duration, "how long the workers run")
	fs.IntVar(&cfg.ops, "ops", cfg.ops, "operations per worker, 0 for no limit")
	fs.IntVar(&cfg.buckets, "buckets", cfg.buckets, "number of buckets")
	fs.IntVar(&cfg.initial, "initial", cfg.initial, "number of values inserted before the run")
	fs.Int64Var(&cfg.valueRange, "range", cfg.valueRange, "values are drawn from [0, range)")
	fs.IntVar(&cfg.update, "update", cfg.update, "percentage of update operations")
	fs.IntVar(&cfg.move, "move", cfg.move, "percentage of updates that are moves")
	fs.IntVar(&cfg.snapshot, "snapshot", cfg.snapshot, "percentage of snapshot operations")
	fs.BoolVar(&cfg.coarse, "coarse", cfg.coarse, "guard the whole set with one lock")
	fs.BoolVar(&cfg.disableRTM, "disable-rtm", cfg.disableRTM, "never start hardware regions")
	fs.BoolVar(&cfg.stats, "stats", cfg.stats, "collect lock statistics")
	fs.Float64Var(&cfg.rate, "rate", cfg.rate, "operations per second across all workers, 0 for unlimited")
	fs.Int64Var(&cfg.seed, "seed", cfg.seed, "random seed")
	fs.BoolVar(&cfg.jsonLog, "json-log", cfg.jsonLog, "log in JSON")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	return cfg, cfg.validate()
}

func newLogger(json bool) (*zap.Logger, error) {
	if json {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// exitCode logs the outcome of a run and returns the process exit code.
func exitCode(logger *zap.Logger, res result, err error) int {
	if err != nil {
		logger.Error("run failed", zap.Error(err))
		return 1
	}
	logger.Info("run completed",
		zap.Int64("ops", res.total()),
		zap.Duration("elapsed", res.elapsed),
		zap.Float64("ops_per_sec", res.throughput()),
		zap.Int("final_size", res.size),
	)
	return 0
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, err := newLogger(cfg.jsonLog)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	scope, closer := tally.NewRootScope(tally.ScopeOptions{
		Prefix:   "intsetbench",
		Reporter: newLogReporter(logger),
	}, time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	res, err := run(ctx, cfg, logger, scope)
	closer.Close()
	stop()

	code := exitCode(logger, res, err)
	// os.Exit skips deferred calls, flush before leaving
	_ = logger.Sync()
	os.Exit(code)
}
