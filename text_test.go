package pulse

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextOutput_Unbuffered(t *testing.T) {
	var buf bytes.Buffer
	out := NewTextOutput(&buf)

	w, err := out.Metric("m", KindCounter)
	require.NoError(t, err)
	w(1, nil)
	w(2, nil)

	assert.Equal(t, "m 1\nm 2\n", buf.String(), "unbuffered writes emit immediately")
}

func TestTextOutput_LabelsSortedByKey(t *testing.T) {
	var buf bytes.Buffer
	out := NewTextOutput(&buf)

	w, err := out.Metric("m", KindGauge)
	require.NoError(t, err)
	w(5, Labels{"zone": "b", "app": "api", "host": "h1"})

	assert.Equal(t, "m 5 app=api host=h1 zone=b\n", buf.String())
}

func TestTextOutput_UnlimitedBufferingHoldsUntilFlush(t *testing.T) {
	var buf bytes.Buffer
	out := NewTextOutput(&buf, WithTextBuffering(Unlimited))

	w, err := out.Metric("m", KindCounter)
	require.NoError(t, err)
	w(1, nil)
	w(2, nil)
	assert.Empty(t, buf.String())

	require.NoError(t, out.Flush())
	assert.Equal(t, "m 1\nm 2\n", buf.String())
}

func TestTextOutput_BufferSizeEmitsEarly(t *testing.T) {
	var buf bytes.Buffer
	out := NewTextOutput(&buf, WithTextBuffering(BufferSize(2)))

	w, err := out.Metric("m", KindCounter)
	require.NoError(t, err)
	w(1, nil)
	assert.Empty(t, buf.String())
	w(2, nil)
	assert.Equal(t, "m 1\nm 2\n", buf.String(), "reaching the buffer size emits without a flush")
}

func TestTextOutput_CloseFlushesAndStops(t *testing.T) {
	resetDiagnostics()
	var buf bytes.Buffer
	out := NewTextOutput(&buf, WithTextBuffering(Unlimited))

	w, err := out.Metric("m", KindCounter)
	require.NoError(t, err)
	w(1, nil)
	require.NoError(t, out.Close())
	assert.Equal(t, "m 1\n", buf.String())

	w(2, nil)
	assert.Equal(t, "m 1\n", buf.String())
	assert.Equal(t, int64(1), ReadDiagnostics().ClosedDrops)

	_, err = out.Metric("late", KindCounter)
	require.ErrorIs(t, err, ErrScopeClosed)
	require.NoError(t, out.Close())
}

func TestTextOutput_KindConflict(t *testing.T) {
	out := NewTextOutput(&strings.Builder{})
	_, err := out.Metric("m", KindTimer)
	require.NoError(t, err)
	_, err = out.Metric("m", KindMarker)
	require.ErrorIs(t, err, ErrKindConflict)
}

// failWriter fails every write.
type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestTextOutput_WriteErrorSurfacesAtFlush(t *testing.T) {
	out := NewTextOutput(failWriter{})

	w, err := out.Metric("m", KindCounter)
	require.NoError(t, err)
	w(1, nil)

	require.ErrorContains(t, out.Flush(), "disk full")
	require.NoError(t, out.Flush(), "the error is reported once")
}
