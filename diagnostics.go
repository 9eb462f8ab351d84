package pulse

import "sync/atomic"

// Diagnostics is a snapshot of the library's self-instrumentation: writes it
// had to drop and sink failures it swallowed on asynchronous paths.
type Diagnostics struct {
	// UnboundDrops counts writes issued through a proxy with no bound target.
	UnboundDrops int64
	// QueueDrops counts writes evicted from a saturated queued scope.
	QueueDrops int64
	// SampleSkips counts writes discarded by a sampling decorator.
	SampleSkips int64
	// ClosedDrops counts writes issued after the enclosing scope was closed.
	ClosedDrops int64
}

var diag struct {
	unboundDrops atomic.Int64
	queueDrops   atomic.Int64
	sampleSkips  atomic.Int64
	closedDrops  atomic.Int64
}

// ReadDiagnostics returns the current self-instrumentation counters.
func ReadDiagnostics() Diagnostics {
	return Diagnostics{
		UnboundDrops: diag.unboundDrops.Load(),
		QueueDrops:   diag.queueDrops.Load(),
		SampleSkips:  diag.sampleSkips.Load(),
		ClosedDrops:  diag.closedDrops.Load(),
	}
}

func countUnboundDrop() { diag.unboundDrops.Add(1) }
func countQueueDrop()   { diag.queueDrops.Add(1) }
func countSampleSkip()  { diag.sampleSkips.Add(1) }
func countClosedDrop()  { diag.closedDrops.Add(1) }

// resetDiagnostics zeroes all counters. Test helper.
func resetDiagnostics() {
	diag.unboundDrops.Store(0)
	diag.queueDrops.Store(0)
	diag.sampleSkips.Store(0)
	diag.closedDrops.Store(0)
}
