// Package statsd ships metrics to a statsd daemon as UDP datagrams:
// "{name}:{value}|{c|g|ms}[|@rate]". Datagram loss is tolerated silently.
package statsd

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/ygrebnov/pulse"
)

// defaultMTU keeps coalesced datagrams under the common ethernet payload
// budget after IP and UDP headers.
const defaultMTU = 1432

// Output implements pulse.Scope (and pulse.RateScope) over a UDP socket.
// Unbuffered by default: one datagram per write. With buffering, writes are
// coalesced into MTU-bounded datagrams separated by newlines and sent when
// the datagram fills or a flush arrives.
type Output struct {
	conn      net.Conn
	mtu       int
	buffering pulse.Buffering

	mu       sync.Mutex
	datagram bytes.Buffer
	defs     map[string]metricDef
	closed   bool

	// send failures; loss is tolerated, the count is kept for visibility.
	errsSince int64
}

type metricDef struct {
	kind       pulse.Kind
	rateSuffix string
}

// Option configures an Output.
type Option func(*Output) error

// WithMTU bounds the size of a coalesced datagram. Default: 1432.
func WithMTU(n int) Option {
	return func(o *Output) error {
		if n < 64 {
			return fmt.Errorf("%w: statsd mtu %d is too small", pulse.ErrInvalidConfig, n)
		}
		o.mtu = n
		return nil
	}
}

// WithBuffering selects the coalescing policy. Default: pulse.Unbuffered.
func WithBuffering(b pulse.Buffering) Option {
	return func(o *Output) error { o.buffering = b; return nil }
}

// New constructs a statsd output for the given "host:port" address.
func New(addr string, opts ...Option) (*Output, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: statsd address %q: %w", pulse.ErrInvalidConfig, addr, err)
	}
	o := &Output{
		conn: conn,
		mtu:  defaultMTU,
		defs: make(map[string]metricDef),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(o); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return o, nil
}

// Metric returns a write handle emitting plain statsd payloads.
func (o *Output) Metric(name string, kind pulse.Kind) (pulse.InputMetric, error) {
	return o.metric(name, kind, "")
}

// MetricSampled returns a write handle whose payloads carry the sampling
// rate ("|@0.25") so the receiver can upweight the surviving values.
func (o *Output) MetricSampled(name string, kind pulse.Kind, rate float64) (pulse.InputMetric, error) {
	suffix := ""
	if rate > 0 && rate < 1 {
		suffix = "|@" + strconv.FormatFloat(rate, 'g', -1, 64)
	}
	return o.metric(name, kind, suffix)
}

func (o *Output) metric(name string, kind pulse.Kind, rateSuffix string) (pulse.InputMetric, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, pulse.ErrScopeClosed
	}
	if existing, ok := o.defs[name]; ok && existing.kind != kind {
		return nil, fmt.Errorf("%w: %s defined as %s, requested %s",
			pulse.ErrKindConflict, name, existing.kind, kind)
	}
	o.defs[name] = metricDef{kind: kind, rateSuffix: rateSuffix}

	tag := typeTag(kind)
	return func(value int64, _ pulse.Labels) {
		o.record(fmt.Sprintf("%s:%d|%s%s", name, value, tag, rateSuffix))
	}, nil
}

// typeTag maps metric kinds onto the statsd wire types.
func typeTag(kind pulse.Kind) string {
	switch kind {
	case pulse.KindTimer:
		return "ms"
	case pulse.KindGauge, pulse.KindLevel:
		return "g"
	default:
		return "c"
	}
}

func (o *Output) record(payload string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if o.buffering == pulse.Unbuffered {
		o.send([]byte(payload))
		return
	}
	if o.datagram.Len() > 0 && o.datagram.Len()+1+len(payload) > o.mtu {
		o.send(o.datagram.Bytes())
		o.datagram.Reset()
	}
	if o.datagram.Len() > 0 {
		o.datagram.WriteByte('\n')
	}
	o.datagram.WriteString(payload)
}

// send fires one datagram. Failures are counted and otherwise ignored.
// Called with the mutex held.
func (o *Output) send(b []byte) {
	if len(b) == 0 {
		return
	}
	if _, err := o.conn.Write(b); err != nil {
		o.errsSince++
	}
}

// Flush sends the pending datagram, if any.
func (o *Output) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.send(o.datagram.Bytes())
	o.datagram.Reset()
	return nil
}

// SendErrors reports how many datagrams failed to send since creation.
func (o *Output) SendErrors() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.errsSince
}

// Close flushes the pending datagram and releases the socket.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	o.send(o.datagram.Bytes())
	o.datagram.Reset()
	return o.conn.Close()
}
