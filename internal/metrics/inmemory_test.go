package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/capisim/capisim/internal/model"
)

func TestInMemoryRecorder_Dispatches(t *testing.T) {
	t.Parallel()

	m := NewInMemory()
	m.IncDispatch(model.SinkPixel, model.StatusOK)
	m.IncDispatch(model.SinkCAPI, model.StatusDryRun)
	m.IncDispatch(model.SinkCAPI, model.StatusDryRun)
	m.ObserveDispatchLatency(model.SinkCAPI, 20*time.Millisecond)
	m.IncDuplicate()

	snap := m.Snapshot()

	want := []DispatchCount{
		{DispatchKey: DispatchKey{Sink: model.SinkCAPI, Status: model.StatusDryRun}, Count: 2},
		{DispatchKey: DispatchKey{Sink: model.SinkPixel, Status: model.StatusOK}, Count: 1},
	}
	if len(snap.Dispatches) != len(want) {
		t.Fatalf("dispatches = %v, want %v", snap.Dispatches, want)
	}
	for i := range want {
		if snap.Dispatches[i] != want[i] {
			t.Errorf("dispatches[%d] = %v, want %v", i, snap.Dispatches[i], want[i])
		}
	}

	if len(snap.Latencies) != 1 || snap.Latencies[0].Count != 1 {
		t.Fatalf("unexpected latencies: %v", snap.Latencies)
	}
	if snap.Latencies[0].TotalNs != (20 * time.Millisecond).Nanoseconds() {
		t.Errorf("latency total = %d", snap.Latencies[0].TotalNs)
	}
	if snap.Duplicates != 1 {
		t.Errorf("duplicates = %d, want 1", snap.Duplicates)
	}
}

func TestInMemoryRecorder_AutoTicks(t *testing.T) {
	t.Parallel()

	m := NewInMemory()
	m.IncAutoTick("success")
	m.IncAutoTick("failed")
	m.ObserveAutoTickDuration(time.Second)

	snap := m.Snapshot()
	if snap.AutoTicks != 2 || snap.AutoTicksFailed != 1 {
		t.Errorf("ticks = %d failed = %d", snap.AutoTicks, snap.AutoTicksFailed)
	}
	if snap.AutoTickDurationCount != 1 || snap.AutoTickDurationTotalNs != int64(time.Second) {
		t.Errorf("tick duration = %d/%d", snap.AutoTickDurationCount, snap.AutoTickDurationTotalNs)
	}
}

func TestInMemoryRecorder_Concurrent(t *testing.T) {
	t.Parallel()

	m := NewInMemory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				m.IncDispatch(model.SinkGA4, model.StatusOK)
			}
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	if len(snap.Dispatches) != 1 || snap.Dispatches[0].Count != 1000 {
		t.Errorf("unexpected dispatches: %v", snap.Dispatches)
	}
}
