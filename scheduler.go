package pulse

import (
	"sync"
	"time"

	"github.com/ygrebnov/errorc"
	"go.uber.org/zap"
)

// ScheduledTask is a cancellable handle to a periodically invoked operation.
type ScheduledTask struct {
	cancel chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// Schedule invokes op every interval on a dedicated goroutine. Intervals are
// nominal: the timer re-arms after op returns, so drift is not corrected and
// invocations never overlap. Operation errors are logged (see SetLogger) and
// the task stays scheduled.
func Schedule(interval time.Duration, op func() error) (*ScheduledTask, error) {
	if interval <= 0 {
		return nil, errorc.With(ErrInvalidConfig,
			errorc.String("interval", interval.String()),
			errorc.String("", "schedule interval must be positive"),
		)
	}
	t := &ScheduledTask{cancel: make(chan struct{})}
	t.wg.Add(1)
	go t.run(interval, op)
	return t, nil
}

// FlushEvery schedules periodic flushes of the given scope.
func FlushEvery(s Scope, interval time.Duration) (*ScheduledTask, error) {
	return Schedule(interval, s.Flush)
}

func (t *ScheduledTask) run(interval time.Duration, op func() error) {
	defer t.wg.Done()
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-t.cancel:
			return
		case <-timer.C:
			if err := op(); err != nil {
				logger().Warn(Namespace+": scheduled operation failed", zap.Error(err))
			}
			timer.Reset(interval)
		}
	}
}

// Cancel stops the task and waits for the driver goroutine to exit.
// Cancellation is observed at the next wakeup. Safe to call repeatedly.
func (t *ScheduledTask) Cancel() {
	t.once.Do(func() { close(t.cancel) })
	t.wg.Wait()
}
