package pulse

import (
	"math/rand"
	"strconv"
	"sync/atomic"

	"github.com/ygrebnov/errorc"
	"go.uber.org/zap"
)

// SampledRandom returns a scope that forwards each write with probability
// rate and drops the rest. rate must be in (0, 1]; rate 1.0 forwards every
// write. Dropped writes are counted in diagnostics.
//
// When the enclosed scope can encode a sampling rate into its wire format
// (statsd), the rate is attached at definition time so receivers can
// upweight the surviving values.
func SampledRandom(target Scope, rate float64) (Scope, error) {
	if rate <= 0 || rate > 1 {
		return nil, errorc.With(ErrInvalidConfig,
			errorc.String("sampling_rate", strconv.FormatFloat(rate, 'g', -1, 64)),
			errorc.String("", "sampling rate must be in (0, 1]"),
		)
	}
	warnIfAggregating(target)
	return &sampled{target: target, rate: rate, keep: func(*atomic.Uint64) bool {
		return rand.Float64() < rate
	}}, nil
}

// SampledDeterministic returns a scope that forwards every n-th write per
// metric and drops the rest. n must be at least 1; n == 1 forwards every
// write. Dropped writes are counted in diagnostics.
func SampledDeterministic(target Scope, n uint64) (Scope, error) {
	if n == 0 {
		return nil, errorc.With(ErrInvalidConfig,
			errorc.String("", "deterministic sampling requires n >= 1"),
		)
	}
	warnIfAggregating(target)
	return &sampled{target: target, rate: 1 / float64(n), keep: func(seen *atomic.Uint64) bool {
		return (seen.Add(1)-1)%n == 0
	}}, nil
}

// warnIfAggregating logs when sampling is placed in front of an aggregating
// scope: dropping raw samples biases the aggregates.
func warnIfAggregating(target Scope) {
	for {
		switch t := target.(type) {
		case *AtomicBucket:
			logger().Warn(Namespace+": sampling in front of an aggregating bucket biases aggregates",
				zap.String("hint", "place the sampler after the bucket or in front of a raw output"))
			return
		case *prefixed:
			target = t.target
		case *labeled:
			target = t.target
		default:
			return
		}
	}
}

type sampled struct {
	target Scope
	rate   float64
	keep   func(seen *atomic.Uint64) bool
}

func (s *sampled) Metric(name string, kind Kind) (InputMetric, error) {
	w, err := s.defineDownstream(name, kind)
	if err != nil {
		return nil, err
	}
	var seen atomic.Uint64
	keep := s.keep
	return func(value int64, labels Labels) {
		if !keep(&seen) {
			countSampleSkip()
			return
		}
		w(value, labels)
	}, nil
}

// defineDownstream prefers the rate-aware definition path when available.
func (s *sampled) defineDownstream(name string, kind Kind) (InputMetric, error) {
	if rs, ok := s.target.(RateScope); ok {
		return rs.MetricSampled(name, kind, s.rate)
	}
	return s.target.Metric(name, kind)
}

func (s *sampled) Flush() error { return s.target.Flush() }
func (s *sampled) Close() error { return s.target.Close() }
