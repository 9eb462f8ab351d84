package pulse

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// TextOutput writes one human-readable line per metric to an io.Writer:
// "{name} {value}" with labels appended as "k=v" pairs in key order.
type TextOutput struct {
	mu       sync.Mutex
	w        io.Writer
	buffer   Buffering
	pending  []string
	defs     map[string]Kind
	writeErr error // first asynchronous write failure, surfaced at Flush
	closed   bool
}

// TextOption configures a TextOutput.
type TextOption func(*TextOutput)

// WithTextBuffering selects how the output coalesces writes between flushes.
// Default: Unbuffered.
func WithTextBuffering(b Buffering) TextOption {
	return func(t *TextOutput) { t.buffer = b }
}

// NewTextOutput constructs a text output over w.
func NewTextOutput(w io.Writer, opts ...TextOption) *TextOutput {
	t := &TextOutput{w: w, defs: make(map[string]Kind)}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

func (t *TextOutput) Metric(name string, kind Kind) (InputMetric, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrScopeClosed
	}
	if existing, ok := t.defs[name]; ok && existing != kind {
		return nil, kindConflict(name, existing, kind)
	}
	t.defs[name] = kind

	return func(value int64, labels Labels) {
		t.record(formatTextLine(name, value, labels))
	}, nil
}

func (t *TextOutput) record(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		countClosedDrop()
		return
	}
	if t.buffer == Unbuffered {
		if _, err := io.WriteString(t.w, line); err != nil && t.writeErr == nil {
			t.writeErr = err
		}
		return
	}
	t.pending = append(t.pending, line)
	if t.buffer > 0 && len(t.pending) >= int(t.buffer) {
		t.emitLocked()
	}
}

// emitLocked writes pending lines. Called with the mutex held.
func (t *TextOutput) emitLocked() {
	if len(t.pending) == 0 {
		return
	}
	lines := strings.Join(t.pending, "")
	t.pending = t.pending[:0]
	if _, err := io.WriteString(t.w, lines); err != nil && t.writeErr == nil {
		t.writeErr = err
	}
}

// Flush writes any buffered lines and reports write failures accumulated
// since the previous flush.
func (t *TextOutput) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emitLocked()
	err := t.writeErr
	t.writeErr = nil
	return err
}

// Close flushes a final time and marks the output closed.
func (t *TextOutput) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.emitLocked()
	t.closed = true
	err := t.writeErr
	t.writeErr = nil
	return err
}

func formatTextLine(name string, value int64, labels Labels) string {
	if len(labels) == 0 {
		return fmt.Sprintf("%s %d\n", name, value)
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %d", name, value)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%s", k, labels[k])
	}
	sb.WriteByte('\n')
	return sb.String()
}
