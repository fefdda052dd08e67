package handler

import (
	"fmt"
	"net/http"

	"github.com/capisim/capisim/internal/metrics"
)

// MetricsHandler exposes in-memory metrics.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics returns metrics in Prometheus exposition format.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	for _, d := range snap.Dispatches {
		writeMetric(w, "capisim_dispatch_total{sink=%q,status=%q} %d\n", d.Sink, d.Status, d.Count)
	}
	for _, l := range snap.Latencies {
		writeMetric(w, "capisim_dispatch_duration_seconds_count{sink=%q} %d\n", l.Sink, l.Count)
		writeMetric(w, "capisim_dispatch_duration_seconds_sum{sink=%q} %.6f\n", l.Sink, float64(l.TotalNs)/1e9)
	}
	writeMetric(w, "capisim_duplicate_events_total %d\n", snap.Duplicates)

	writeMetric(w, "capisim_auto_ticks_total{status=\"success\"} %d\n", snap.AutoTicks-snap.AutoTicksFailed)
	writeMetric(w, "capisim_auto_ticks_total{status=\"failed\"} %d\n", snap.AutoTicksFailed)
	writeMetric(w, "capisim_auto_tick_duration_seconds_count %d\n", snap.AutoTickDurationCount)
	writeMetric(w, "capisim_auto_tick_duration_seconds_sum %.6f\n", float64(snap.AutoTickDurationTotalNs)/1e9)
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
