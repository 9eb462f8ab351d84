// Package promexport exposes metrics to a Prometheus ecosystem: each flush
// pushes the accumulated batch to a push gateway in the text exposition
// format, and Handler serves the most recent batch for scraping.
package promexport

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/prometheus/common/expfmt"

	"github.com/ygrebnov/pulse"
)

// Output implements pulse.Scope. Writes accumulate in memory; Flush converts
// the batch to const metrics and POSTs it to the configured push gateway
// endpoint under the given job name.
type Output struct {
	endpoint string
	job      string

	mu      sync.Mutex
	defs    map[string]pulse.Kind
	pending []sample
	last    []sample // most recently flushed batch, served by Handler
	closed  bool
}

type sample struct {
	name   string
	kind   pulse.Kind
	value  int64
	labels pulse.Labels
}

// New constructs a push output. endpoint is the push gateway base URL
// (e.g. "http://localhost:9091"); job names the pushed group.
func New(endpoint, job string) (*Output, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: push endpoint %q", pulse.ErrInvalidConfig, endpoint)
	}
	if job == "" {
		return nil, fmt.Errorf("%w: push job name must not be empty", pulse.ErrInvalidConfig)
	}
	return &Output{
		endpoint: endpoint,
		job:      job,
		defs:     make(map[string]pulse.Kind),
	}, nil
}

// Metric returns a write handle that records into the current batch.
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

	return func(value int64, labels pulse.Labels) {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.closed {
			return
		}
		o.pending = append(o.pending, sample{name: name, kind: kind, value: value, labels: labels})
	}, nil
}

// Flush pushes the batch accumulated since the previous flush. An empty
// batch pushes nothing. The pushed batch replaces the one served by Handler.
func (o *Output) Flush() error {
	o.mu.Lock()
	batch := dedupe(o.pending)
	o.pending = nil
	if len(batch) > 0 {
		o.last = batch
	}
	o.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	pusher := push.New(o.endpoint, o.job).
		Format(expfmt.NewFormat(expfmt.TypeTextPlain)).
		Collector(&batchCollector{samples: batch})
	if err := pusher.Add(); err != nil {
		return fmt.Errorf("push to %s: %w", o.endpoint, err)
	}
	return nil
}

// Close pushes a final batch and stops accepting writes.
func (o *Output) Close() error {
	err := o.Flush()
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	return err
}

// Handler serves the most recently flushed batch in the Prometheus text
// exposition format, for scrape-style collection.
func (o *Output) Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(&lastCollector{out: o})
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// dedupe keeps the last sample per (name, labels) so the gatherer never sees
// duplicate series within one batch. Last-writer-wins matches gauge
// semantics; aggregated series are emitted once per flush anyway.
func dedupe(in []sample) []sample {
	if len(in) <= 1 {
		return in
	}
	index := make(map[string]int, len(in))
	out := make([]sample, 0, len(in))
	for _, s := range in {
		key := s.name + "\x00" + labelsKey(s.labels)
		if i, ok := index[key]; ok {
			out[i] = s
			continue
		}
		index[key] = len(out)
		out = append(out, s)
	}
	return out
}

func labelsKey(labels pulse.Labels) string {
	if len(labels) == 0 {
		return ""
	}
	keys := sortedKeys(labels)
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(labels[k])
		sb.WriteByte(';')
	}
	return sb.String()
}

func sortedKeys(labels pulse.Labels) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// batchCollector adapts one flushed batch to prometheus.Collector.
type batchCollector struct {
	samples []sample
}

// Describe sends nothing: the collector is unchecked, descriptors vary per
// batch.
func (c *batchCollector) Describe(chan<- *prometheus.Desc) {}

func (c *batchCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.samples {
		keys := sortedKeys(s.labels)
		values := make([]string, len(keys))
		for i, k := range keys {
			values[i] = s.labels[k]
		}
		desc := prometheus.NewDesc(sanitizeName(s.name), "recorded by pulse", keys, nil)
		m, err := prometheus.NewConstMetric(desc, valueType(s.kind), float64(s.value), values...)
		if err != nil {
			continue
		}
		ch <- m
	}
}

// lastCollector serves the most recently flushed batch.
type lastCollector struct {
	out *Output
}

func (c *lastCollector) Describe(chan<- *prometheus.Desc) {}

func (c *lastCollector) Collect(ch chan<- prometheus.Metric) {
	c.out.mu.Lock()
	batch := c.out.last
	c.out.mu.Unlock()
	(&batchCollector{samples: batch}).Collect(ch)
}

// valueType maps metric kinds onto the two exposition types.
func valueType(kind pulse.Kind) prometheus.ValueType {
	switch kind {
	case pulse.KindCounter, pulse.KindMarker:
		return prometheus.CounterValue
	default:
		return prometheus.GaugeValue
	}
}

// sanitizeName rewrites a dotted pulse name into the Prometheus name
// alphabet: [a-zA-Z_:][a-zA-Z0-9_:]*.
func sanitizeName(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == ':':
			sb.WriteRune(r)
		case r >= '0' && r <= '9' && i > 0:
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}
