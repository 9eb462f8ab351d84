package pulse

import (
	"math"
	"sync/atomic"
)

// Sentinels marking an unobserved min/max slot. Swapped back in at flush.
const (
	minSentinel = math.MaxInt64
	maxSentinel = math.MinInt64
)

// scoreboard is the per-metric lock-free accumulator inside an AtomicBucket.
// Insertion happens once under the bucket mutex; after that it is mutated
// only through atomic operations.
type scoreboard struct {
	name string
	kind Kind

	// persistent marks scoreboards kept alive by an external handle.
	// Guarded by the bucket mutex.
	persistent bool

	count atomic.Int64
	sum   atomic.Int64
	min   atomic.Int64
	max   atomic.Int64

	// level is the running value for KindLevel. Never reset at flush.
	level atomic.Int64
}

func newScoreboard(name string, kind Kind, persistent bool) *scoreboard {
	sb := &scoreboard{name: name, kind: kind, persistent: persistent}
	sb.min.Store(minSentinel)
	sb.max.Store(maxSentinel)
	return sb
}

// update applies one write according to the metric kind.
func (sb *scoreboard) update(value int64) {
	switch sb.kind {
	case KindCounter, KindMarker, KindTimer:
		sb.count.Add(1)
		sb.sum.Add(value)
		casMin(&sb.min, value)
		casMax(&sb.max, value)
	case KindGauge:
		sb.sum.Store(value)
		sb.count.Store(1)
		casMin(&sb.min, value)
		casMax(&sb.max, value)
	case KindLevel:
		current := sb.level.Add(value)
		sb.count.Add(1)
		sb.sum.Add(value)
		casMin(&sb.min, current)
		casMax(&sb.max, current)
	}
}

// boardSnapshot is the consolidated state read-and-reset at flush time.
type boardSnapshot struct {
	count int64
	sum   int64
	min   int64
	max   int64
	level int64
}

// reset atomically takes the interval state and re-arms the slots.
// Writes racing with reset land in either this snapshot or the next.
func (sb *scoreboard) reset() boardSnapshot {
	return boardSnapshot{
		count: sb.count.Swap(0),
		sum:   sb.sum.Swap(0),
		min:   sb.min.Swap(minSentinel),
		max:   sb.max.Swap(maxSentinel),
		level: sb.level.Load(),
	}
}

// casMin lowers the slot to value. No atomic min primitive exists on int64,
// so a compare-and-swap retry loop is used. First observer wins on equality.
func casMin(slot *atomic.Int64, value int64) {
	for {
		old := slot.Load()
		if value >= old {
			return
		}
		if slot.CompareAndSwap(old, value) {
			return
		}
	}
}

// casMax raises the slot to value. First observer wins on equality.
func casMax(slot *atomic.Int64, value int64) {
	for {
		old := slot.Load()
		if value <= old {
			return
		}
		if slot.CompareAndSwap(old, value) {
			return
		}
	}
}
