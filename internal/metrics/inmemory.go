package metrics

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/capisim/capisim/internal/model"
)

// DispatchKey labels one dispatch counter.
type DispatchKey struct {
	Sink   model.SinkName
	Status model.Status
}

// LatencySummary is a count/sum pair for one sink.
type LatencySummary struct {
	Sink    model.SinkName
	Count   uint64
	TotalNs int64
}

// DispatchCount is one labelled dispatch counter value.
type DispatchCount struct {
	DispatchKey
	Count uint64
}

// Snapshot captures current in-memory counters.
type Snapshot struct {
	Dispatches              []DispatchCount
	Latencies               []LatencySummary
	Duplicates              uint64
	AutoTicks               uint64
	AutoTicksFailed         uint64
	AutoTickDurationCount   uint64
	AutoTickDurationTotalNs int64
}

type latency struct {
	count   atomic.Uint64
	totalNs atomic.Int64
}

// InMemoryRecorder stores metrics in memory.
type InMemoryRecorder struct {
	dispatches              *xsync.Map[DispatchKey, *atomic.Uint64]
	latencies               *xsync.Map[model.SinkName, *latency]
	duplicates              uint64
	autoTicks               uint64
	autoTicksFailed         uint64
	autoTickDurationCount   uint64
	autoTickDurationTotalNs int64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		dispatches: xsync.NewMap[DispatchKey, *atomic.Uint64](),
		latencies:  xsync.NewMap[model.SinkName, *latency](),
	}
}

// Snapshot returns a copy of the counters, sorted by label.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	snap := Snapshot{
		Duplicates:              atomic.LoadUint64(&m.duplicates),
		AutoTicks:               atomic.LoadUint64(&m.autoTicks),
		AutoTicksFailed:         atomic.LoadUint64(&m.autoTicksFailed),
		AutoTickDurationCount:   atomic.LoadUint64(&m.autoTickDurationCount),
		AutoTickDurationTotalNs: atomic.LoadInt64(&m.autoTickDurationTotalNs),
	}

	m.dispatches.Range(func(k DispatchKey, v *atomic.Uint64) bool {
		snap.Dispatches = append(snap.Dispatches, DispatchCount{DispatchKey: k, Count: v.Load()})
		return true
	})
	sort.Slice(snap.Dispatches, func(i, j int) bool {
		a, b := snap.Dispatches[i], snap.Dispatches[j]
		if a.Sink != b.Sink {
			return a.Sink < b.Sink
		}
		return a.Status < b.Status
	})

	m.latencies.Range(func(k model.SinkName, v *latency) bool {
		snap.Latencies = append(snap.Latencies, LatencySummary{
			Sink:    k,
			Count:   v.count.Load(),
			TotalNs: v.totalNs.Load(),
		})
		return true
	})
	sort.Slice(snap.Latencies, func(i, j int) bool {
		return snap.Latencies[i].Sink < snap.Latencies[j].Sink
	})

	return snap
}

// IncDispatch increments the counter for one sink/status pair.
func (m *InMemoryRecorder) IncDispatch(sink model.SinkName, status model.Status) {
	key := DispatchKey{Sink: sink, Status: status}
	c, ok := m.dispatches.Load(key)
	if !ok {
		c, _ = m.dispatches.LoadOrStore(key, new(atomic.Uint64))
	}
	c.Add(1)
}

// ObserveDispatchLatency records one send round trip.
func (m *InMemoryRecorder) ObserveDispatchLatency(sink model.SinkName, duration time.Duration) {
	l, ok := m.latencies.Load(sink)
	if !ok {
		l, _ = m.latencies.LoadOrStore(sink, new(latency))
	}
	l.count.Add(1)
	l.totalNs.Add(duration.Nanoseconds())
}

// IncDuplicate increments the duplicate event id counter.
func (m *InMemoryRecorder) IncDuplicate() {
	atomic.AddUint64(&m.duplicates, 1)
}

// IncAutoTick increments the auto-loop tick counter.
func (m *InMemoryRecorder) IncAutoTick(status string) {
	atomic.AddUint64(&m.autoTicks, 1)
	if status == "failed" {
		atomic.AddUint64(&m.autoTicksFailed, 1)
	}
}

// ObserveAutoTickDuration records auto-loop tick duration.
func (m *InMemoryRecorder) ObserveAutoTickDuration(duration time.Duration) {
	atomic.AddUint64(&m.autoTickDurationCount, 1)
	atomic.AddInt64(&m.autoTickDurationTotalNs, duration.Nanoseconds())
}
