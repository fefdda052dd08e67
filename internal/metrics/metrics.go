// Package metrics provides lightweight hooks for instrumentation.
package metrics

import (
	"time"

	"github.com/capisim/capisim/internal/model"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Dispatch metrics
	IncDispatch(sink model.SinkName, status model.Status)
	ObserveDispatchLatency(sink model.SinkName, duration time.Duration)
	IncDuplicate()

	// Auto-loop metrics
	IncAutoTick(status string) // status: "success" or "failed"
	ObserveAutoTickDuration(duration time.Duration)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
