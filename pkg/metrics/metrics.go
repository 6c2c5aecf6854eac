// Package metrics holds the process-wide expvar gauges and counters the
// supervisor and agents report into. Variables are constructed at
// package scope but deliberately left unpublished until Register runs,
// so importing this package twice in a test binary never panics on a
// duplicate expvar name.
package metrics

import (
	"expvar"
	"sync"
	"time"
)

var (
	// ActiveRooms is the number of rooms currently occupied by an agent.
	ActiveRooms = new(expvar.Int)

	// TurnsStarted counts every answer turn an agent has begun.
	TurnsStarted = new(expvar.Int)

	// TurnsCompleted counts every answer turn that ran to completion
	// without error.
	TurnsCompleted = new(expvar.Int)

	// FirstSentenceLatencyMs is the latency, in milliseconds, between a
	// turn starting and its first synthesized sentence being queued for
	// playback.
	FirstSentenceLatencyMs = new(expvar.Int)
)

var registerOnce sync.Once

// Register publishes this package's vars under expvar's global map. Call
// it exactly once, from the command constructor, before mounting
// expvar.Handler() on the HTTP mux.
func Register() {
	registerOnce.Do(func() {
		expvar.Publish("kitt_active_rooms", ActiveRooms)
		expvar.Publish("kitt_turns_started", TurnsStarted)
		expvar.Publish("kitt_turns_completed", TurnsCompleted)
		expvar.Publish("kitt_first_sentence_latency_ms", FirstSentenceLatencyMs)
	})
}

// ObserveFirstSentenceLatency records how long a turn took to reach its
// first spoken chunk, measured from start to the first queued sample.
func ObserveFirstSentenceLatency(d time.Duration) {
	FirstSentenceLatencyMs.Set(d.Milliseconds())
}
