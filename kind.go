package pulse

// Kind tags a metric with its aggregation semantics.
type Kind int

const (
	// KindCounter is a cumulative sum of non-negative integer increments.
	KindCounter Kind = iota
	// KindMarker is a counter specialised to one per event.
	KindMarker
	// KindGauge is a last-writer-wins integer observation.
	KindGauge
	// KindTimer is a distribution of durations in microseconds.
	KindTimer
	// KindLevel is a signed running value adjusted by deltas.
	KindLevel
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindMarker:
		return "marker"
	case KindGauge:
		return "gauge"
	case KindTimer:
		return "timer"
	case KindLevel:
		return "level"
	default:
		return "unknown"
	}
}
