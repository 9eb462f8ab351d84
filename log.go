package pulse

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogOutput routes each metric write to a zap logger as one entry at a fixed
// level: the metric name is the message, the value and labels are fields.
type LogOutput struct {
	l     *zap.Logger
	level zapcore.Level

	mu     sync.Mutex
	defs   map[string]Kind
	closed bool
}

// NewLogOutput constructs a log output. A nil logger discards all writes.
func NewLogOutput(l *zap.Logger, level zapcore.Level) *LogOutput {
	if l == nil {
		l = zap.NewNop()
	}
	return &LogOutput{l: l, level: level, defs: make(map[string]Kind)}
}

func (o *LogOutput) Metric(name string, kind Kind) (InputMetric, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrScopeClosed
	}
	if existing, ok := o.defs[name]; ok && existing != kind {
		return nil, kindConflict(name, existing, kind)
	}
	o.defs[name] = kind

	l, level := o.l, o.level
	kindField := zap.String("kind", kind.String())
	return func(value int64, labels Labels) {
		fields := make([]zap.Field, 0, len(labels)+2)
		fields = append(fields, zap.Int64("value", value), kindField)
		for k, v := range labels {
			fields = append(fields, zap.String(k, v))
		}
		l.Log(level, name, fields...)
	}, nil
}

// Flush syncs the underlying logger. Entries themselves are emitted per
// write; there is nothing to coalesce.
func (o *LogOutput) Flush() error {
	// Sync failures on terminals are routine; ignore them like zap examples do.
	_ = o.l.Sync()
	return nil
}

func (o *LogOutput) Close() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	_ = o.l.Sync()
	return nil
}
