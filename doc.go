// Package pulse provides lightweight in-process application metrics: typed
// instruments (counters, markers, gauges, timers, levels) on the front end,
// and a composable pipeline of scopes on the back end that aggregates,
// samples, buffers, queues, and ships measurements to one or more outputs.
//
// Instruments
//   - Counter: cumulative sum of non-negative increments.
//   - Marker: counter specialised to one per event.
//   - Gauge: last-writer-wins observation.
//   - Timer: distribution of durations in microseconds.
//   - Level: signed running value adjusted by deltas.
//
// Scopes
// Every component in the pipeline implements Scope: define a metric by
// (name, kind) to obtain a write handle, flush buffered state downstream,
// close with a final flush. Scopes compose:
//
//	bucket := pulse.NewAtomicBucket()
//	bucket.Drain(pulse.NewTextOutput(os.Stdout))
//	requests, _ := pulse.NewCounter(pulse.WithPrefix(bucket, "app"), "requests")
//	requests.Count(1)
//	_ = bucket.Flush()
//
// Decorators wrap any Scope: WithPrefix, Labeled, SampledRandom,
// SampledDeterministic, Cached, Queued, Multi.
//
// Late binding
// Instruments may be declared before any destination is configured by
// binding them to a Proxy (or the process-global Root proxy). Setting the
// proxy target later rebinds all declared instruments; writes issued while
// no target is bound are dropped and counted in diagnostics.
//
// Periodic flushing
// Schedule and FlushEvery drive flushes at a fixed cadence on a single
// goroutine; the returned handle is cancellable.
//
// Outputs
// The root package ships Text and Log (zap) outputs. Network outputs live in
// subpackages: graphite (TCP lines), statsd (UDP datagrams), promexport
// (Prometheus push gateway and pull handler).
package pulse
