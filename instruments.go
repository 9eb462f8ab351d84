package pulse

import "time"

// Counter records monotonic counts.
// Methods must be safe for concurrent use.
type Counter struct {
	write InputMetric
}

// NewCounter defines a counter metric on the given scope.
func NewCounter(s Scope, name string) (*Counter, error) {
	w, err := s.Metric(name, KindCounter)
	if err != nil {
		return nil, err
	}
	return &Counter{write: w}, nil
}

// Count adds n to the counter. n should be non-negative.
func (c *Counter) Count(n int64) { c.write(n, nil) }

// CountWith adds n with call-site labels attached.
func (c *Counter) CountWith(n int64, labels Labels) { c.write(n, labels) }

// Marker records one count per event.
type Marker struct {
	write InputMetric
}

// NewMarker defines a marker metric on the given scope.
func NewMarker(s Scope, name string) (*Marker, error) {
	w, err := s.Metric(name, KindMarker)
	if err != nil {
		return nil, err
	}
	return &Marker{write: w}, nil
}

// Mark records one event.
func (m *Marker) Mark() { m.write(1, nil) }

// MarkWith records one event with call-site labels attached.
func (m *Marker) MarkWith(labels Labels) { m.write(1, labels) }

// Gauge records last-writer-wins integer observations.
type Gauge struct {
	write InputMetric
}

// NewGauge defines a gauge metric on the given scope.
func NewGauge(s Scope, name string) (*Gauge, error) {
	w, err := s.Metric(name, KindGauge)
	if err != nil {
		return nil, err
	}
	return &Gauge{write: w}, nil
}

// Value records the current observation.
func (g *Gauge) Value(v int64) { g.write(v, nil) }

// ValueWith records the current observation with call-site labels attached.
func (g *Gauge) ValueWith(v int64, labels Labels) { g.write(v, labels) }

// Timer records a distribution of durations in microseconds.
type Timer struct {
	write InputMetric
}

// NewTimer defines a timer metric on the given scope.
func NewTimer(s Scope, name string) (*Timer, error) {
	w, err := s.Metric(name, KindTimer)
	if err != nil {
		return nil, err
	}
	return &Timer{write: w}, nil
}

// IntervalUs records an explicit duration sample in microseconds.
func (t *Timer) IntervalUs(us int64) { t.write(us, nil) }

// IntervalUsWith records an explicit sample with call-site labels attached.
func (t *Timer) IntervalUsWith(us int64, labels Labels) { t.write(us, labels) }

// Interval records a time.Duration sample.
func (t *Timer) Interval(d time.Duration) { t.IntervalUs(d.Microseconds()) }

// Start opens a measurement. Pass the token to Stop to record it.
func (t *Timer) Start() TimerToken { return TimerToken{started: timeNow()} }

// Stop closes the measurement opened by Start, records it, and returns the
// elapsed microseconds.
func (t *Timer) Stop(token TimerToken) int64 {
	us := timeNow().Sub(token.started).Microseconds()
	t.IntervalUs(us)
	return us
}

// Time measures fn and records its duration.
func (t *Timer) Time(fn func()) {
	token := t.Start()
	fn()
	t.Stop(token)
}

// TimerToken is an open timer measurement.
type TimerToken struct {
	started time.Time
}

// Level records a signed running value adjusted by deltas.
type Level struct {
	write InputMetric
}

// NewLevel defines a level metric on the given scope.
func NewLevel(s Scope, name string) (*Level, error) {
	w, err := s.Metric(name, KindLevel)
	if err != nil {
		return nil, err
	}
	return &Level{write: w}, nil
}

// Adjust moves the level by delta (positive or negative).
func (l *Level) Adjust(delta int64) { l.write(delta, nil) }

// AdjustWith moves the level by delta with call-site labels attached.
func (l *Level) AdjustWith(delta int64, labels Labels) { l.write(delta, labels) }
