package graphite

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ygrebnov/pulse"
)

// listenLines accepts one TCP connection and forwards every received line.
func listenLines(t *testing.T) (addr string, lines <-chan string) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	ch := make(chan string, 64)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			ch <- scanner.Text()
		}
	}()
	return l.Addr().String(), ch
}

func recvLine(t *testing.T, lines <-chan string) string {
	t.Helper()
	select {
	case line := <-lines:
		return line
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a graphite line")
		return ""
	}
}

func TestNew_AddressValidation(t *testing.T) {
	_, err := New("not an address")
	require.ErrorIs(t, err, pulse.ErrInvalidConfig)
}

func TestOutput_LineFormat(t *testing.T) {
	addr, lines := listenLines(t)

	o, err := New(addr)
	require.NoError(t, err)
	defer func() { _ = o.Close() }()

	frozen := time.Unix(1700000000, 0)
	o.now = func() time.Time { return frozen }

	w, err := o.Metric("app.requests", pulse.KindCounter)
	require.NoError(t, err)
	w(42, nil)
	require.NoError(t, o.Flush())

	assert.Equal(t, fmt.Sprintf("app.requests 42 %d", frozen.Unix()), recvLine(t, lines))
}

func TestOutput_BuffersUntilFlush(t *testing.T) {
	addr, lines := listenLines(t)

	o, err := New(addr)
	require.NoError(t, err)
	defer func() { _ = o.Close() }()

	w, err := o.Metric("m", pulse.KindGauge)
	require.NoError(t, err)
	w(1, nil)
	w(2, nil)

	// Nothing sent yet: the default policy accumulates until flush.
	o.mu.Lock()
	pending := o.pendingLines
	o.mu.Unlock()
	assert.Equal(t, 2, pending)

	require.NoError(t, o.Flush())
	assert.True(t, strings.HasPrefix(recvLine(t, lines), "m 1 "))
	assert.True(t, strings.HasPrefix(recvLine(t, lines), "m 2 "))
}

func TestOutput_BufferSizeSendsEarly(t *testing.T) {
	addr, lines := listenLines(t)

	o, err := New(addr, WithBuffering(pulse.BufferSize(2)))
	require.NoError(t, err)
	defer func() { _ = o.Close() }()

	w, err := o.Metric("m", pulse.KindCounter)
	require.NoError(t, err)
	w(1, nil)
	w(2, nil)

	// The second write crossed the threshold and triggered a send.
	assert.True(t, strings.HasPrefix(recvLine(t, lines), "m 1 "))
	assert.True(t, strings.HasPrefix(recvLine(t, lines), "m 2 "))
}

func TestOutput_KindConflict(t *testing.T) {
	addr, _ := listenLines(t)
	o, err := New(addr)
	require.NoError(t, err)
	defer func() { _ = o.Close() }()

	_, err = o.Metric("m", pulse.KindCounter)
	require.NoError(t, err)
	_, err = o.Metric("m", pulse.KindTimer)
	require.ErrorIs(t, err, pulse.ErrKindConflict)
}

func TestOutput_FlushErrorAndBackoff(t *testing.T) {
	// A port nothing listens on: dialing fails fast on loopback.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	o, err := New(addr, WithDialTimeout(time.Second))
	require.NoError(t, err)

	frozen := time.Unix(1700000000, 0)
	o.now = func() time.Time { return frozen }

	w, err := o.Metric("m", pulse.KindCounter)
	require.NoError(t, err)
	w(1, nil)

	require.Error(t, o.Flush())

	// Within the backoff window the next flush fails without dialing.
	err = o.Flush()
	require.ErrorContains(t, err, "backoff")

	o.mu.Lock()
	failures := o.failures
	o.mu.Unlock()
	assert.Equal(t, 1, failures, "a backoff rejection is not a new dial failure")
}

func TestOutput_RecoveryReportsSendErrors(t *testing.T) {
	addr, lines := listenLines(t)

	o, err := New(addr)
	require.NoError(t, err)
	defer func() { _ = o.Close() }()

	o.mu.Lock()
	o.errsSince = 3
	o.mu.Unlock()

	w, err := o.Metric("m", pulse.KindCounter)
	require.NoError(t, err)
	w(1, nil)
	require.NoError(t, o.Flush())

	assert.True(t, strings.HasPrefix(recvLine(t, lines), "m 1 "))
	assert.True(t, strings.HasPrefix(recvLine(t, lines), "pulse.graphite.send_errors 3 "))

	o.mu.Lock()
	cleared := o.errsSince
	o.mu.Unlock()
	assert.Zero(t, cleared, "a successful flush clears the failure count")
}

func TestOutput_ClosedRejectsDefinitions(t *testing.T) {
	addr, _ := listenLines(t)
	o, err := New(addr)
	require.NoError(t, err)
	require.NoError(t, o.Close())

	_, err = o.Metric("late", pulse.KindCounter)
	require.ErrorIs(t, err, pulse.ErrScopeClosed)
	require.NoError(t, o.Close())
}

func TestWithDialTimeout_Validation(t *testing.T) {
	_, err := New("127.0.0.1:2003", WithDialTimeout(0))
	require.ErrorIs(t, err, pulse.ErrInvalidConfig)
}
