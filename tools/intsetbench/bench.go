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
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/uber-research/rtmset/lib/intset"
	"github.com/uber-research/rtmset/lib/rtm"
)

var errVerification = errors.New("verification failed")

// counts is what one worker did. Only successful updates are counted in
// adds, removes and moves.
type counts struct {
	contains  int64
	adds      int64
	removes   int64
	moves     int64
	failed    int64
	snapshots int64
}

func (c *counts) merge(o counts) {
	c.contains += o.contains
	c.adds += o.adds
	c.removes += o.removes
	c.moves += o.moves
	c.failed += o.failed
	c.snapshots += o.snapshots
}

type result struct {
	counts
	elapsed time.Duration
	size    int
}

func (r result) total() int64 {
	return r.contains + r.adds + r.removes + r.moves + r.failed + r.snapshots
}

func (r result) throughput() float64 {
	if r.elapsed <= 0 {
		return 0
	}
	return float64(r.total()) / r.elapsed.Seconds()
}

func setOptions(cfg config, logger *zap.Logger) []intset.Option {
	opts := []intset.Option{intset.WithLogger(logger), intset.WithStats(cfg.stats)}
	if cfg.coarse {
		opts = append(opts, intset.WithCoarseLock())
	}
	if cfg.disableRTM {
		opts = append(opts, intset.WithEngine(rtm.Disabled()))
	}
	return opts
}

func run(ctx context.Context, cfg config, logger *zap.Logger, scope tally.Scope) (result, error) {
	if err := cfg.validate(); err != nil {
		return result{}, err
	}
	set, err := intset.New(cfg.buckets, setOptions(cfg, logger)...)
	if err != nil {
		return result{}, err
	}

	rnd := rand.New(rand.NewSource(cfg.seed))
	for added := 0; added < cfg.initial; {
		if set.Add(rnd.Int63n(cfg.valueRange)) {
			added++
		}
	}
	logger.Info("set populated",
		zap.Int("initial", cfg.initial),
		zap.Int("threads", cfg.threads),
		zap.Bool("rtm", rtm.Supported() && !cfg.disableRTM),
	)

	var limiter *rate.Limiter
	if cfg.rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.rate), cfg.threads)
	}
	if cfg.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.duration)
		defer cancel()
	}

	perWorker := make([]counts, cfg.threads)
	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()
	for i := range perWorker {
		w := &worker{
			set:     set,
			cfg:     cfg,
			limiter: limiter,
			rnd:     rand.New(rand.NewSource(cfg.seed + int64(i) + 1)),
			out:     &perWorker[i],
		}
		g.Go(func() error {
			return w.run(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return result{}, err
	}

	res := result{elapsed: time.Since(start)}
	for _, c := range perWorker {
		res.merge(c)
	}
	if err := verify(set, cfg, res.counts); err != nil {
		return result{}, err
	}
	res.size = set.Len()
	report(set, res, scope, logger)
	return res, nil
}

type worker struct {
	set     *intset.Set
	cfg     config
	limiter *rate.Limiter
	rnd     *rand.Rand
	out     *counts
}

// run alternates between inserting a fresh value and removing the value it
// inserted last, so the set size stays around its initial value.
func (w *worker) run(ctx context.Context) error {
	var c counts
	defer func() { *w.out = c }()

	last := int64(-1)
	for i := 0; w.cfg.ops == 0 || i < w.cfg.ops; i++ {
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return nil
			}
		} else if i%64 == 0 && ctx.Err() != nil {
			return nil
		}

		r := w.rnd.Intn(100)
		switch {
		case r < w.cfg.snapshot:
			w.set.SnapshotSum()
			c.snapshots++
		case r < w.cfg.snapshot+w.cfg.update:
			if w.rnd.Intn(100) < w.cfg.move {
				if w.set.Move(w.rnd.Int63n(w.cfg.valueRange), w.rnd.Int63n(w.cfg.valueRange)) {
					c.moves++
				} else {
					c.failed++
				}
				continue
			}
			if last < 0 {
				v := w.rnd.Int63n(w.cfg.valueRange)
				if w.set.Add(v) {
					c.adds++
					last = v
				} else {
					c.failed++
				}
				continue
			}
			if w.set.Remove(last) {
				c.removes++
			} else {
				c.failed++
			}
			last = -1
		default:
			w.set.Contains(w.rnd.Int63n(w.cfg.valueRange))
			c.contains++
		}
	}
	return nil
}

// verify checks the quiescent set against the workers' counts.
func verify(set *intset.Set, cfg config, c counts) error {
	vals := set.Values()
	var total int64
	for _, v := range vals {
		total += v
	}
	if got := set.SnapshotSum(); got != total {
		return fmt.Errorf("%w: snapshot sum %d, traversal sum %d", errVerification, got, total)
	}
	if n := set.Len(); n != len(vals) {
		return fmt.Errorf("%w: length %d, %d values", errVerification, n, len(vals))
	}
	// a move onto a present value shrinks the set, so sizes only add up
	// without moves
	if c.moves == 0 {
		want := int64(cfg.initial) + c.adds - c.removes
		if int64(len(vals)) != want {
			return fmt.Errorf("%w: expected size %d, got %d", errVerification, want, len(vals))
		}
	}
	return nil
}

func report(set *intset.Set, res result, scope tally.Scope, logger *zap.Logger) {
	ops := scope.SubScope("ops")
	ops.Counter("contains").Inc(res.contains)
	ops.Counter("add").Inc(res.adds)
	ops.Counter("remove").Inc(res.removes)
	ops.Counter("move").Inc(res.moves)
	ops.Counter("failed").Inc(res.failed)
	ops.Counter("snapshot").Inc(res.snapshots)
	scope.Gauge("size").Update(float64(res.size))
	scope.Timer("elapsed").Record(res.elapsed)
	set.ReportStats(scope.SubScope("lock"))

	logger.Info("lock statistics", zap.Stringer("stats", set.Stats()))
}
