// Package graphite ships metrics to a Graphite carbon endpoint as
// plaintext lines over TCP: "{name} {value} {unix_ts}\n".
package graphite

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ygrebnov/pulse"
)

const (
	defaultDialTimeout = 5 * time.Second
	maxBackoff         = 30 * time.Second
	// maxBufferBytes bounds the retained buffer while the endpoint is
	// unreachable; beyond it the oldest lines are discarded.
	maxBufferBytes = 1 << 20
)

// Output implements pulse.Scope over a Graphite TCP connection. Lines are
// buffered until flush (default) and the connection is re-established with
// capped exponential backoff on the next flush after an I/O failure.
type Output struct {
	addr        string
	buffering   pulse.Buffering
	dialTimeout time.Duration

	mu           sync.Mutex
	conn         net.Conn
	buf          bytes.Buffer
	pendingLines int
	defs         map[string]pulse.Kind
	closed       bool

	// reconnect state
	failures    int
	nextAttempt time.Time
	lastErr     error

	// asynchronous write failures since the last successful flush; surfaced
	// as a self-metric line on the flush that recovers.
	errsSince int64

	now func() time.Time
}

// Option configures an Output.
type Option func(*Output) error

// WithBuffering selects the coalescing policy. Default: pulse.Unlimited
// (accumulate until flush).
func WithBuffering(b pulse.Buffering) Option {
	return func(o *Output) error { o.buffering = b; return nil }
}

// WithDialTimeout bounds connection attempts. Default: 5s.
func WithDialTimeout(d time.Duration) Option {
	return func(o *Output) error {
		if d <= 0 {
			return fmt.Errorf("%w: graphite dial timeout must be positive", pulse.ErrInvalidConfig)
		}
		o.dialTimeout = d
		return nil
	}
}

// New constructs a Graphite output for the given "host:port" address.
// The connection is established lazily on the first emission.
func New(addr string, opts ...Option) (*Output, error) {
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return nil, fmt.Errorf("%w: graphite address %q: %w", pulse.ErrInvalidConfig, addr, err)
	}
	o := &Output{
		addr:        addr,
		buffering:   pulse.Unlimited,
		dialTimeout: defaultDialTimeout,
		defs:        make(map[string]pulse.Kind),
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Metric returns a write handle emitting one Graphite line per write.
func (o *Output) Metric(name string, kind pulse.Kind) (pulse.InputMetric, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, pulse.ErrScopeClosed
	}
	if existing, ok := o.defs[name]; ok && existing != kind {
		return nil, fmt.Errorf("%w: %s defined as %s, requested %s",
			pulse.ErrKindConflict, name, existing, kind)
	}
	o.defs[name] = kind

	return func(value int64, _ pulse.Labels) {
		o.record(name, value)
	}, nil
}

func (o *Output) record(name string, value int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	fmt.Fprintf(&o.buf, "%s %d %d\n", name, value, o.now().Unix())
	o.pendingLines++

	overCap := o.buffering >= 0 && o.pendingLines >= int(o.buffering)
	if o.buffering == pulse.Unbuffered || overCap {
		// Best effort on the write path; failures are counted and the lines
		// are retained for the next flush.
		if err := o.sendLocked(); err != nil {
			o.errsSince++
		}
	}
	if o.buf.Len() > maxBufferBytes {
		o.buf.Reset()
		o.pendingLines = 0
		o.errsSince++
	}
}

// sendLocked pushes the buffered lines over the connection, dialing first if
// needed. Called with the mutex held.
func (o *Output) sendLocked() error {
	if o.buf.Len() == 0 {
		return nil
	}
	if o.conn == nil {
		if err := o.connectLocked(); err != nil {
			return err
		}
	}
	if _, err := o.conn.Write(o.buf.Bytes()); err != nil {
		_ = o.conn.Close()
		o.conn = nil
		o.noteFailure(err)
		return fmt.Errorf("graphite write to %s: %w", o.addr, err)
	}
	o.buf.Reset()
	o.pendingLines = 0
	o.failures = 0
	o.lastErr = nil
	return nil
}

func (o *Output) connectLocked() error {
	if o.failures > 0 && o.now().Before(o.nextAttempt) {
		return fmt.Errorf("graphite backoff until %s: %w",
			o.nextAttempt.Format(time.RFC3339), o.lastErr)
	}
	conn, err := net.DialTimeout("tcp", o.addr, o.dialTimeout)
	if err != nil {
		o.noteFailure(err)
		return fmt.Errorf("graphite dial %s: %w", o.addr, err)
	}
	o.conn = conn
	return nil
}

// noteFailure arms the exponential backoff window. Called with the mutex held.
func (o *Output) noteFailure(err error) {
	o.failures++
	backoff := time.Second << uint(o.failures-1)
	if backoff > maxBackoff || backoff <= 0 {
		backoff = maxBackoff
	}
	o.nextAttempt = o.now().Add(backoff)
	o.lastErr = err
}

// Flush sends all buffered lines. Failures recorded on the asynchronous
// write path since the previous successful flush are surfaced as a
// "pulse.graphite.send_errors" line in this batch.
func (o *Output) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.errsSince > 0 {
		fmt.Fprintf(&o.buf, "%s %d %d\n",
			pulse.Namespace+".graphite.send_errors", o.errsSince, o.now().Unix())
		o.pendingLines++
	}
	if err := o.sendLocked(); err != nil {
		return err
	}
	o.errsSince = 0
	return nil
}

// Close flushes best-effort and releases the connection.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	err := o.sendLocked()
	if o.conn != nil {
		_ = o.conn.Close()
		o.conn = nil
	}
	return err
}
