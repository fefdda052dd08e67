package dispatch

import (
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/capisim/capisim/internal/model"
)

// SinkHealth is the last known state of one sink.
type SinkHealth struct {
	Configured bool         `json:"configured"`
	Ready      bool         `json:"ready"`
	LastStatus model.Status `json:"last_status,omitempty"`
	LastError  string       `json:"last_error,omitempty"`
	UpdatedAt  *time.Time   `json:"updated_at,omitempty"`
}

// Readiness tracks per-sink health for the health endpoint.
// Reads never block sends.
type Readiness struct {
	sinks *xsync.Map[model.SinkName, SinkHealth]
	now   func() time.Time
}

// NewReadiness creates an empty registry.
func NewReadiness() *Readiness {
	return &Readiness{
		sinks: xsync.NewMap[model.SinkName, SinkHealth](),
		now:   time.Now,
	}
}

// Register declares a sink and whether it is configured. A configured sink
// is ready until a send fails.
func (r *Readiness) Register(sink model.SinkName, configured bool) {
	r.sinks.Store(sink, SinkHealth{Configured: configured, Ready: configured})
}

// Observe folds one outcome into the sink's health.
func (r *Readiness) Observe(o model.Outcome) {
	now := r.now().UTC()
	r.sinks.Compute(o.Sink, func(h SinkHealth, loaded bool) (SinkHealth, xsync.ComputeOp) {
		if !loaded {
			h.Configured = true
		}
		if o.Status == model.StatusSkipped {
			return h, xsync.CancelOp
		}
		h.LastStatus = o.Status
		h.UpdatedAt = &now
		if o.Failed() {
			h.Ready = false
			h.LastError = o.ErrorDetail.OrZero()
		} else {
			h.Ready = h.Configured
			h.LastError = ""
		}
		return h, xsync.UpdateOp
	})
}

// Ready reports whether sink is registered, configured and healthy.
func (r *Readiness) Ready(sink model.SinkName) bool {
	h, ok := r.sinks.Load(sink)
	return ok && h.Ready
}

// Get returns the health of one sink.
func (r *Readiness) Get(sink model.SinkName) (SinkHealth, bool) {
	return r.sinks.Load(sink)
}

// All returns every registered sink's health.
func (r *Readiness) All() map[model.SinkName]SinkHealth {
	out := make(map[model.SinkName]SinkHealth)
	r.sinks.Range(func(k model.SinkName, v SinkHealth) bool {
		out[k] = v
		return true
	})
	return out
}

// Names returns registered sink names in sorted order.
func (r *Readiness) Names() []model.SinkName {
	var names []model.SinkName
	r.sinks.Range(func(k model.SinkName, _ SinkHealth) bool {
		names = append(names, k)
		return true
	})
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
