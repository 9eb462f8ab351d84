// Package config assembles a metrics pipeline from a YAML destination spec:
// a list of outputs plus the decorators (prefix, sampling, cache, queue,
// aggregation bucket) wrapped around them, and an optional flush cadence.
//
//	prefix: app
//	flush_every: 10s
//	bucket: true
//	queue: 256
//	outputs:
//	  - kind: graphite
//	    address: localhost:2003
//	  - kind: statsd
//	    address: localhost:8125
//	    sample_rate: 0.25
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v2"

	"github.com/ygrebnov/pulse"
	"github.com/ygrebnov/pulse/graphite"
	"github.com/ygrebnov/pulse/promexport"
	"github.com/ygrebnov/pulse/statsd"
)

// File is the top-level YAML document.
type File struct {
	// Prefix is prepended to every metric name.
	Prefix string `yaml:"prefix"`
	// FlushEvery schedules periodic flushes when set (Go duration syntax).
	FlushEvery string `yaml:"flush_every"`
	// Bucket aggregates writes into periodic statistical summaries before
	// they reach the outputs.
	Bucket bool `yaml:"bucket"`
	// Queue decouples writers through a bounded queue of the given capacity.
	Queue int `yaml:"queue"`
	// Cache memoises up to this many metric handles (LRU).
	Cache int `yaml:"cache"`
	// Outputs lists the terminal destinations; more than one fans out.
	Outputs []Output `yaml:"outputs"`
}

// Output is one terminal destination.
type Output struct {
	// Kind selects the adapter: text, log, graphite, statsd, or prometheus.
	Kind string `yaml:"kind"`
	// Address is the host:port of a graphite or statsd endpoint.
	Address string `yaml:"address"`
	// Endpoint and Job configure the prometheus push adapter.
	Endpoint string `yaml:"endpoint"`
	Job      string `yaml:"job"`
	// Buffer selects coalescing: 0 unbuffered, -1 until flush, n early-emit.
	Buffer *int `yaml:"buffer"`
	// SampleRate wraps the output in random sampling (0 < rate <= 1).
	SampleRate float64 `yaml:"sample_rate"`
	// SampleEvery wraps the output in deterministic 1/N sampling.
	SampleEvery uint64 `yaml:"sample_every"`
	// MTU bounds statsd datagrams.
	MTU int `yaml:"mtu"`
	// Level is the zap level for the log adapter. Default: info.
	Level string `yaml:"level"`
}

// Pipeline is an assembled metrics destination. Close the scope when done;
// Task is non-nil when flush_every was configured and must be cancelled by
// the caller.
type Pipeline struct {
	Scope pulse.Scope
	Task  *pulse.ScheduledTask
}

// BuildOption adjusts pipeline assembly.
type BuildOption func(*builder)

// WithLogger supplies the zap logger used by log outputs. Default: no-op.
func WithLogger(l *zap.Logger) BuildOption {
	return func(b *builder) { b.logger = l }
}

// WithWriter supplies the destination for text outputs. Default: os.Stdout.
func WithWriter(w io.Writer) BuildOption {
	return func(b *builder) { b.writer = w }
}

type builder struct {
	logger *zap.Logger
	writer io.Writer
}

// Load reads and assembles a pipeline from a YAML file.
func Load(path string, opts ...BuildOption) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", pulse.ErrInvalidConfig, path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return f.Build(opts...)
}

// Parse decodes the YAML document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", pulse.ErrInvalidConfig, err)
	}
	return &f, nil
}

// Build assembles the configured pipeline.
func (f *File) Build(opts ...BuildOption) (*Pipeline, error) {
	b := &builder{writer: os.Stdout}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}

	if len(f.Outputs) == 0 {
		return nil, fmt.Errorf("%w: at least one output is required", pulse.ErrInvalidConfig)
	}

	scopes := make([]pulse.Scope, 0, len(f.Outputs))
	for i := range f.Outputs {
		s, err := b.buildOutput(&f.Outputs[i])
		if err != nil {
			return nil, err
		}
		scopes = append(scopes, s)
	}

	var scope pulse.Scope
	if len(scopes) == 1 {
		scope = scopes[0]
	} else {
		scope = pulse.Multi(scopes...)
	}

	if f.Bucket {
		bucket := pulse.NewAtomicBucket()
		bucket.Drain(scope)
		scope = bucket
	}
	if f.Cache > 0 {
		var err error
		if scope, err = pulse.Cached(scope, f.Cache); err != nil {
			return nil, err
		}
	}
	if f.Queue > 0 {
		var err error
		if scope, err = pulse.Queued(scope, f.Queue); err != nil {
			return nil, err
		}
	}
	if f.Prefix != "" {
		scope = pulse.WithPrefix(scope, f.Prefix)
	}

	p := &Pipeline{Scope: scope}
	if f.FlushEvery != "" {
		every, err := time.ParseDuration(f.FlushEvery)
		if err != nil {
			return nil, fmt.Errorf("%w: flush_every: %w", pulse.ErrInvalidConfig, err)
		}
		if p.Task, err = pulse.FlushEvery(scope, every); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (b *builder) buildOutput(spec *Output) (pulse.Scope, error) {
	s, err := b.buildTerminal(spec)
	if err != nil {
		return nil, err
	}
	switch {
	case spec.SampleRate != 0 && spec.SampleEvery != 0:
		return nil, fmt.Errorf("%w: sample_rate and sample_every are exclusive", pulse.ErrInvalidConfig)
	case spec.SampleRate != 0:
		return pulse.SampledRandom(s, spec.SampleRate)
	case spec.SampleEvery != 0:
		return pulse.SampledDeterministic(s, spec.SampleEvery)
	}
	return s, nil
}

func (b *builder) buildTerminal(spec *Output) (pulse.Scope, error) {
	switch spec.Kind {
	case "text":
		opts := []pulse.TextOption{}
		if spec.Buffer != nil {
			opts = append(opts, pulse.WithTextBuffering(pulse.Buffering(*spec.Buffer)))
		}
		return pulse.NewTextOutput(b.writer, opts...), nil

	case "log":
		level := zapcore.InfoLevel
		if spec.Level != "" {
			if err := level.Set(spec.Level); err != nil {
				return nil, fmt.Errorf("%w: log level %q: %w", pulse.ErrInvalidConfig, spec.Level, err)
			}
		}
		return pulse.NewLogOutput(b.logger, level), nil

	case "graphite":
		opts := []graphite.Option{}
		if spec.Buffer != nil {
			opts = append(opts, graphite.WithBuffering(pulse.Buffering(*spec.Buffer)))
		}
		return graphite.New(spec.Address, opts...)

	case "statsd":
		opts := []statsd.Option{}
		if spec.Buffer != nil {
			opts = append(opts, statsd.WithBuffering(pulse.Buffering(*spec.Buffer)))
		}
		if spec.MTU != 0 {
			opts = append(opts, statsd.WithMTU(spec.MTU))
		}
		return statsd.New(spec.Address, opts...)

	case "prometheus":
		return promexport.New(spec.Endpoint, spec.Job)

	default:
		return nil, fmt.Errorf("%w: unknown output kind %q", pulse.ErrInvalidConfig, spec.Kind)
	}
}
