package pulse

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingScope counts how many definitions reach the enclosed scope.
type countingScope struct {
	*recorder
	mu      sync.Mutex
	defined map[string]int
}

func newCountingScope() *countingScope {
	return &countingScope{recorder: newRecorder(), defined: make(map[string]int)}
}

func (c *countingScope) Metric(name string, kind Kind) (InputMetric, error) {
	c.mu.Lock()
	c.defined[name]++
	c.mu.Unlock()
	return c.recorder.Metric(name, kind)
}

func TestCached_CapacityValidation(t *testing.T) {
	for _, capacity := range []int{0, -1} {
		_, err := Cached(newRecorder(), capacity)
		require.ErrorIs(t, err, ErrInvalidConfig)
	}
}

func TestCached_MemoisesHandles(t *testing.T) {
	target := newCountingScope()
	s, err := Cached(target, 8)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		w, err := s.Metric("hot", KindCounter)
		require.NoError(t, err)
		w(1, nil)
	}

	assert.Equal(t, 1, target.defined["hot"], "repeated lookups must hit the cache")
	assert.Equal(t, 5, target.writeCount())
}

func TestCached_EvictsLeastRecentlyUsed(t *testing.T) {
	target := newCountingScope()
	s, err := Cached(target, 2)
	require.NoError(t, err)

	_, err = s.Metric("a", KindCounter)
	require.NoError(t, err)
	_, err = s.Metric("b", KindCounter)
	require.NoError(t, err)

	// "a" is the least recently used; inserting "c" evicts it.
	_, err = s.Metric("c", KindCounter)
	require.NoError(t, err)

	_, err = s.Metric("a", KindCounter)
	require.NoError(t, err)
	assert.Equal(t, 2, target.defined["a"], "an evicted handle is re-defined on next use")
	assert.Equal(t, 1, target.defined["b"])
}

func TestCached_KindConflictOnCachedEntry(t *testing.T) {
	s, err := Cached(newRecorder(), 4)
	require.NoError(t, err)

	_, err = s.Metric("m", KindCounter)
	require.NoError(t, err)
	_, err = s.Metric("m", KindGauge)
	require.ErrorIs(t, err, ErrKindConflict)
}

func TestCached_CloseForwards(t *testing.T) {
	rec := newRecorder()
	s, err := Cached(rec, 4)
	require.NoError(t, err)

	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, rec.flushes)
	assert.Equal(t, 1, rec.closes)
}
