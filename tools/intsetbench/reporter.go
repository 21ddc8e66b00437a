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
	"time"

	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"
)

// logReporter writes every reported metric as one log line.
type logReporter struct {
	logger *zap.Logger
}

var _ tally.StatsReporter = (*logReporter)(nil)

func newLogReporter(logger *zap.Logger) *logReporter {
	return &logReporter{logger: logger.Named("metrics")}
}

func (r *logReporter) ReportCounter(name string, tags map[string]string, value int64) {
	r.logger.Info("counter", zap.String("name", name), zap.Any("tags", tags), zap.Int64("value", value))
}

func (r *logReporter) ReportGauge(name string, tags map[string]string, value float64) {
	r.logger.Info("gauge", zap.String("name", name), zap.Any("tags", tags), zap.Float64("value", value))
}

func (r *logReporter) ReportTimer(name string, tags map[string]string, interval time.Duration) {
	r.logger.Info("timer", zap.String("name", name), zap.Any("tags", tags), zap.Duration("value", interval))
}

func (r *logReporter) ReportHistogramValueSamples(
	name string,
	tags map[string]string,
	buckets tally.Buckets,
	bucketLowerBound, bucketUpperBound float64,
	samples int64,
) {
	r.logger.Info("histogram",
		zap.String("name", name),
		zap.Any("tags", tags),
		zap.Float64("lower", bucketLowerBound),
		zap.Float64("upper", bucketUpperBound),
		zap.Int64("samples", samples),
	)
}

func (r *logReporter) ReportHistogramDurationSamples(
	name string,
	tags map[string]string,
	buckets tally.Buckets,
	bucketLowerBound, bucketUpperBound time.Duration,
	samples int64,
) {
	r.logger.Info("histogram",
		zap.String("name", name),
		zap.Any("tags", tags),
		zap.Duration("lower", bucketLowerBound),
		zap.Duration("upper", bucketUpperBound),
		zap.Int64("samples", samples),
	)
}

func (r *logReporter) Capabilities() tally.Capabilities {
	return r
}

func (r *logReporter) Reporting() bool { return true }

func (r *logReporter) Tagging() bool { return true }

func (r *logReporter) Flush() {
	_ = r.logger.Sync()
}
