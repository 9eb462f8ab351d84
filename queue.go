package pulse

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/ygrebnov/errorc"
)

// Queued returns an input-facing facade over target backed by a bounded
// command channel and a single drainer goroutine. Writes are enqueued and
// forwarded asynchronously; Flush and Close are posted blocking, are never
// dropped, and report the downstream result synchronously.
//
// Back-pressure: when the channel is saturated, the oldest queued write is
// evicted to make room and counted in diagnostics. Control commands are
// never evicted.
func Queued(target Scope, capacity int) (Scope, error) {
	if capacity <= 0 {
		return nil, errorc.With(ErrInvalidConfig,
			errorc.String("queue_capacity", strconv.Itoa(capacity)),
			errorc.String("", "queue capacity must be positive"),
		)
	}
	q := &queued{
		target:  target,
		cmds:    make(chan qcmd, capacity),
		closeCh: make(chan struct{}),
	}
	q.drainerWG.Add(1)
	go q.drain()
	return q, nil
}

type qcmdKind int

const (
	qWrite qcmdKind = iota
	qFlush
	qClose
)

type qcmd struct {
	kind   qcmdKind
	write  InputMetric
	value  int64
	labels Labels
	done   chan error // buffered(1); flush/close acknowledgement
}

type queued struct {
	target Scope
	cmds   chan qcmd

	// sendMu serializes the drop-oldest maneuver among producers so the slot
	// freed by an eviction cannot be stolen by a concurrent write.
	sendMu sync.Mutex

	drainerWG sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
	closeCh   chan struct{} // closed once the drainer has stopped
	closeErr  error
}

// drain is the single consumer. It forwards commands in arrival order and
// stops after processing Close, answering any commands that raced in behind
// it.
func (q *queued) drain() {
	defer q.drainerWG.Done()
	for cmd := range q.cmds {
		switch cmd.kind {
		case qWrite:
			cmd.write(cmd.value, cmd.labels)
		case qFlush:
			cmd.done <- q.target.Flush()
		case qClose:
			err := q.target.Close()
			q.drainTrailing()
			cmd.done <- err
			return
		}
	}
}

// drainTrailing answers commands enqueued behind the close command.
func (q *queued) drainTrailing() {
	for {
		select {
		case trailing := <-q.cmds:
			if trailing.done != nil {
				trailing.done <- ErrScopeClosed
			} else {
				countClosedDrop()
			}
		default:
			return
		}
	}
}

// Metric defines the metric on the enclosed scope synchronously (definition
// errors propagate) and returns a handle that enqueues writes.
func (q *queued) Metric(name string, kind Kind) (InputMetric, error) {
	if q.closed.Load() {
		return nil, ErrScopeClosed
	}
	w, err := q.target.Metric(name, kind)
	if err != nil {
		return nil, err
	}
	return func(value int64, labels Labels) {
		q.enqueueWrite(qcmd{kind: qWrite, write: w, value: value, labels: labels})
	}, nil
}

func (q *queued) enqueueWrite(cmd qcmd) {
	if q.closed.Load() {
		countClosedDrop()
		return
	}

	select {
	case q.cmds <- cmd:
		return
	default:
	}

	// Saturated: evict the oldest write. Control commands popped on the way
	// are re-queued ahead of the new write.
	q.sendMu.Lock()
	defer q.sendMu.Unlock()

	var control []qcmd
	for {
		select {
		case old := <-q.cmds:
			if old.kind != qWrite {
				control = append(control, old)
				continue
			}
			countQueueDrop()
			for _, c := range control {
				q.cmds <- c
			}
			q.cmds <- cmd
			return
		default:
			// Only control commands were queued; re-queue them and drop the
			// incoming write instead.
			for _, c := range control {
				q.cmds <- c
			}
			countQueueDrop()
			return
		}
	}
}

// Flush posts a flush command and waits for the downstream result.
func (q *queued) Flush() error {
	if q.closed.Load() {
		return ErrScopeClosed
	}
	done := make(chan error, 1)
	select {
	case q.cmds <- qcmd{kind: qFlush, done: done}:
	case <-q.closeCh:
		return ErrScopeClosed
	}
	select {
	case err := <-done:
		return err
	case <-q.closeCh:
		// The drainer answers raced-in commands before exiting; prefer its
		// answer when one arrives.
		select {
		case err := <-done:
			return err
		default:
			return ErrScopeClosed
		}
	}
}

// Close stops intake, lets the drainer finish all previously queued
// commands, closes the enclosed scope, and waits for the drainer to exit.
func (q *queued) Close() error {
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		done := make(chan error, 1)
		q.cmds <- qcmd{kind: qClose, done: done}
		q.closeErr = <-done
		close(q.closeCh)
		q.drainerWG.Wait()
	})
	return q.closeErr
}
