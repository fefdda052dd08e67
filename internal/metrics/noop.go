package metrics

import (
	"time"

	"github.com/capisim/capisim/internal/model"
)

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncDispatch is a no-op.
func (n *NoopRecorder) IncDispatch(sink model.SinkName, status model.Status) {}

// ObserveDispatchLatency is a no-op.
func (n *NoopRecorder) ObserveDispatchLatency(sink model.SinkName, duration time.Duration) {}

// IncDuplicate is a no-op.
func (n *NoopRecorder) IncDuplicate() {}

// IncAutoTick is a no-op.
func (n *NoopRecorder) IncAutoTick(status string) {}

// ObserveAutoTickDuration is a no-op.
func (n *NoopRecorder) ObserveAutoTickDuration(duration time.Duration) {}
