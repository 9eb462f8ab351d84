package pulse

// InputMetric is a write handle bound to a single metric within a scope.
// A write carries a value and an optional label set. Writes never fail;
// asynchronous sink failures are recorded in diagnostics and the write is
// dropped.
type InputMetric func(value int64, labels Labels)

// Scope mediates metric definition, writing, and flushing. All pipeline
// components implement it: aggregation buckets, proxies, decorators, and
// terminal outputs.
//
// Implementations must be safe for concurrent use.
type Scope interface {
	// Metric returns the write handle for (name, kind), defining the metric
	// on first use. It is idempotent per (name, kind): repeated calls return
	// a handle to the same metric, and a call with a different kind for an
	// existing name fails with ErrKindConflict. After Close it fails with
	// ErrScopeClosed.
	Metric(name string, kind Kind) (InputMetric, error)

	// Flush forces downstream propagation of any buffered state.
	Flush() error

	// Close flushes a final time and marks the scope closed. Writes issued
	// after Close are dropped and counted in diagnostics.
	Close() error
}

// RateScope is implemented by outputs that can encode a sampling rate into
// their wire format (statsd). Sampling decorators probe for it so receivers
// can upweight sampled values.
type RateScope interface {
	MetricSampled(name string, kind Kind, rate float64) (InputMetric, error)
}

// Buffering selects how an output coalesces writes between flushes.
// Zero value is Unbuffered (one emission per write). Unlimited accumulates
// until the next flush. BufferSize(n) accumulates up to n pending lines and
// then emits early.
type Buffering int

const (
	// Unbuffered emits one line per write.
	Unbuffered Buffering = 0
	// Unlimited accumulates writes until the next flush.
	Unlimited Buffering = -1
)

// BufferSize returns a Buffering that emits early once n writes are pending.
func BufferSize(n int) Buffering { return Buffering(n) }

// WithPrefix returns a child scope whose metric names are prefixed by the
// given fragment. The fragment may be dotted; composition is associative:
// WithPrefix(WithPrefix(s, "a"), "b") names metrics identically to
// WithPrefix(s, "a.b"). Prefixing costs nothing per write.
func WithPrefix(s Scope, fragment string) Scope {
	if p, ok := s.(*prefixed); ok {
		return &prefixed{target: p.target, prefix: p.prefix.Append(fragment)}
	}
	return &prefixed{target: s, prefix: ParseName(fragment)}
}

type prefixed struct {
	target Scope
	prefix Name
}

func (p *prefixed) Metric(name string, kind Kind) (InputMetric, error) {
	return p.target.Metric(p.prefix.Append(name).String(), kind)
}

// MetricSampled forwards the sampling rate when the enclosed scope is
// rate-aware, so a sampler may sit in front of a prefixed statsd output.
func (p *prefixed) MetricSampled(name string, kind Kind, rate float64) (InputMetric, error) {
	if rs, ok := p.target.(RateScope); ok {
		return rs.MetricSampled(p.prefix.Append(name).String(), kind, rate)
	}
	return p.Metric(name, kind)
}

func (p *prefixed) Flush() error { return p.target.Flush() }
func (p *prefixed) Close() error { return p.target.Close() }

// Labeled returns a scope whose writes carry the given labels in addition to
// call-site labels. Call-site keys dominate on collision.
func Labeled(s Scope, labels Labels) Scope {
	copied := make(Labels, len(labels))
	for k, v := range labels {
		copied[k] = v
	}
	return &labeled{target: s, labels: copied}
}

type labeled struct {
	target Scope
	labels Labels
}

func (l *labeled) Metric(name string, kind Kind) (InputMetric, error) {
	w, err := l.target.Metric(name, kind)
	if err != nil {
		return nil, err
	}
	scopeLabels := l.labels
	return func(value int64, labels Labels) {
		w(value, mergeLabels(scopeLabels, labels))
	}, nil
}

func (l *labeled) Flush() error { return l.target.Flush() }
func (l *labeled) Close() error { return l.target.Close() }

// Discard returns a scope that accepts and drops everything. Useful as a
// default destination and in tests.
func Discard() Scope { return discard{} }

type discard struct{}

func (discard) Metric(string, Kind) (InputMetric, error) {
	return func(int64, Labels) {}, nil
}

func (discard) Flush() error { return nil }
func (discard) Close() error { return nil }
