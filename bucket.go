package pulse

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// AtomicBucket aggregates high-frequency writes without inter-thread
// contention and periodically produces consolidated statistical summaries.
//
// Writers record through lock-free per-metric scoreboards. Flush reads and
// resets each scoreboard atomically, synthesises the per-kind statistics
// (count, rate, min, max, mean, value), and emits them as writes to the
// drain target with the metric name extended by a suffix.
//
// Labels carried by writes are discarded: aggregated values summarise all
// label combinations together. Route label-sensitive series directly to an
// output scope instead.
type AtomicBucket struct {
	mu     sync.Mutex // guards scores inserts, outs, and flush emission
	scores map[string]*scoreboard
	outs   map[string]InputMetric // cached downstream handles

	target    atomic.Value // drainTarget
	closed    atomic.Bool
	lastFlush atomic.Int64 // unix nanos of the previous flush

	now func() time.Time
}

// drainTarget wraps the downstream scope so atomic.Value stores a single
// concrete type.
type drainTarget struct {
	scope Scope
}

// NewAtomicBucket constructs an empty bucket with no drain target.
// Writes accumulate until a target is set with Drain and Flush is called.
func NewAtomicBucket() *AtomicBucket {
	b := &AtomicBucket{
		scores: make(map[string]*scoreboard),
		outs:   make(map[string]InputMetric),
		now:    timeNow,
	}
	b.lastFlush.Store(b.now().UnixNano())
	return b
}

// Drain sets the downstream scope that receives summary writes at flush.
func (b *AtomicBucket) Drain(target Scope) {
	b.mu.Lock()
	b.target.Store(drainTarget{scope: target})
	b.outs = make(map[string]InputMetric)
	b.mu.Unlock()
}

func (b *AtomicBucket) currentTarget() Scope {
	t, ok := b.target.Load().(drainTarget)
	if !ok {
		return nil
	}
	return t.scope
}

// Metric returns the write handle for (name, kind), defining a persistent
// scoreboard on first use. Persistent scoreboards are retained across
// flushes even when idle.
func (b *AtomicBucket) Metric(name string, kind Kind) (InputMetric, error) {
	return b.metric(name, kind, true)
}

// TransientMetric returns a write handle whose scoreboard is released after
// the flush that reports it. Intended for ad-hoc, short-lived names whose
// handles the caller does not retain.
func (b *AtomicBucket) TransientMetric(name string, kind Kind) (InputMetric, error) {
	return b.metric(name, kind, false)
}

func (b *AtomicBucket) metric(name string, kind Kind, persistent bool) (InputMetric, error) {
	if b.closed.Load() {
		return nil, ErrScopeClosed
	}

	b.mu.Lock()
	sb, ok := b.scores[name]
	if ok {
		if sb.kind != kind {
			b.mu.Unlock()
			return nil, kindConflict(name, sb.kind, kind)
		}
		if persistent && !sb.persistent {
			sb.persistent = true
		}
	} else {
		sb = newScoreboard(name, kind, persistent)
		b.scores[name] = sb
	}
	b.mu.Unlock()

	return func(value int64, _ Labels) {
		if b.closed.Load() {
			countClosedDrop()
			return
		}
		sb.update(value)
	}, nil
}

// Flush consolidates every live scoreboard and emits the per-kind summary
// writes to the drain target, then flushes the target. Scoreboards with no
// writes this interval emit nothing. Transient scoreboards are released
// after the flush that reports them. Without a drain target Flush keeps
// accumulated state and returns nil.
func (b *AtomicBucket) Flush() error {
	target := b.currentTarget()
	if target == nil {
		return nil
	}

	now := b.now()
	prev := b.lastFlush.Swap(now.UnixNano())
	interval := time.Duration(now.UnixNano() - prev)
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	seconds := interval.Seconds()

	b.mu.Lock()
	for name, sb := range b.scores {
		snap := sb.reset()
		reported := snap.count > 0
		if reported {
			b.emit(target, sb, snap, seconds)
		}
		// Transient scoreboards go away once reported; an idle transient was
		// reported by an earlier flush, so it goes away too.
		if !sb.persistent {
			delete(b.scores, name)
		}
	}
	b.mu.Unlock()

	return target.Flush()
}

// emit synthesises the derived metrics for one scoreboard. Called with the
// bucket mutex held.
func (b *AtomicBucket) emit(target Scope, sb *scoreboard, snap boardSnapshot, seconds float64) {
	switch sb.kind {
	case KindCounter:
		b.write(target, sb.name, "count", KindCounter, snap.sum)
		b.write(target, sb.name, "rate", KindCounter, ratio(snap.sum, seconds))
	case KindMarker:
		b.write(target, sb.name, "count", KindCounter, snap.count)
	case KindGauge:
		b.write(target, sb.name, "value", KindGauge, snap.sum)
		b.write(target, sb.name, "min", KindGauge, snap.min)
		b.write(target, sb.name, "max", KindGauge, snap.max)
	case KindTimer:
		b.write(target, sb.name, "count", KindCounter, snap.count)
		b.write(target, sb.name, "sum_us", KindGauge, snap.sum)
		b.write(target, sb.name, "min_us", KindGauge, snap.min)
		b.write(target, sb.name, "max_us", KindGauge, snap.max)
		b.write(target, sb.name, "mean_us", KindGauge, snap.sum/snap.count)
		b.write(target, sb.name, "rate", KindCounter, ratio(snap.count, seconds))
	case KindLevel:
		b.write(target, sb.name, "value", KindGauge, snap.level)
		b.write(target, sb.name, "min", KindGauge, snap.min)
		b.write(target, sb.name, "max", KindGauge, snap.max)
	}
}

// write emits one summary value through a cached downstream handle.
func (b *AtomicBucket) write(target Scope, name, suffix string, kind Kind, value int64) {
	full := name + NameSeparator + suffix
	w, ok := b.outs[full]
	if !ok {
		var err error
		w, err = target.Metric(full, kind)
		if err != nil {
			w = func(int64, Labels) {}
		}
		b.outs[full] = w
	}
	w(value, nil)
}

// ratio divides a total by the interval length and rounds to the nearest
// integer value.
func ratio(total int64, seconds float64) int64 {
	return int64(math.Round(float64(total) / seconds))
}

// Close flushes a final time, closes the drain target, and marks the bucket
// closed. Subsequent writes are dropped and counted in diagnostics.
func (b *AtomicBucket) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	err := b.Flush()
	if target := b.currentTarget(); target != nil {
		if cerr := target.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
