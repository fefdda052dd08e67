package state

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capisim/capisim/internal/model"
)

func TestLedger_EvictsOldestFirst(t *testing.T) {
	t.Parallel()

	const capacity = 5
	l := NewLedger(capacity, 0)
	now := time.Unix(1700000000, 0)

	for i := 0; i <= capacity; i++ {
		dup := l.Touch(fmt.Sprintf("evt-%d", i), now.Add(time.Duration(i)*time.Second))
		assert.False(t, dup, "distinct id %d flagged as duplicate", i)
	}

	assert.Equal(t, capacity, l.Len())
	assert.False(t, l.Contains("evt-0"), "oldest id should have been evicted")
	for i := 1; i <= capacity; i++ {
		assert.True(t, l.Contains(fmt.Sprintf("evt-%d", i)))
	}
}

func TestLedger_TouchRefreshesOrder(t *testing.T) {
	t.Parallel()

	l := NewLedger(2, 0)
	now := time.Unix(1700000000, 0)

	l.Touch("a", now)
	l.Touch("b", now)
	assert.True(t, l.Touch("a", now), "second touch of a is a duplicate")

	l.Touch("c", now)
	assert.True(t, l.Contains("a"))
	assert.False(t, l.Contains("b"), "b was least recently touched")
}

func TestLedger_Window(t *testing.T) {
	t.Parallel()

	l := NewLedger(10, time.Minute)
	now := time.Unix(1700000000, 0)

	l.Touch("a", now)
	assert.True(t, l.Touch("a", now.Add(30*time.Second)))
	assert.False(t, l.Touch("a", now.Add(5*time.Minute)), "outside the window is not a duplicate")
}

func TestStore_SetCatalogSize(t *testing.T) {
	t.Parallel()

	s := New(Options{CatalogSize: 4})
	require.Equal(t, 4, s.Catalog().Len())

	size, err := s.SetCatalogSize(0)
	require.NoError(t, err)
	assert.Equal(t, 0, size)
	assert.Equal(t, 0, s.Catalog().Len())

	size, err = s.SetCatalogSize(10_000)
	require.NoError(t, err)
	assert.Equal(t, 500, size)

	_, err = s.SetCatalogSize(-1)
	assert.ErrorIs(t, err, ErrInvalidCatalogSize)
	assert.Equal(t, 500, s.Catalog().Len(), "rejected size must not mutate state")
}

func TestStore_RecordOutcome_Duplicates(t *testing.T) {
	t.Parallel()

	s := New(Options{LedgerCapacity: 10})
	o := model.Outcome{Sink: model.SinkPixel, Status: model.StatusOK, EventID: model.Some("shared")}

	assert.False(t, s.RecordOutcome(o, true))

	o.Sink = model.SinkCAPI
	o.Status = model.StatusDryRun
	assert.True(t, s.RecordOutcome(o, true))

	snap := s.Snapshot()
	assert.Equal(t, int64(1), snap.Duplicates)
	assert.Equal(t, int64(1), snap.Counters[model.SinkPixel][model.StatusOK])
	assert.Equal(t, int64(1), snap.Counters[model.SinkCAPI][model.StatusDryRun])
	assert.Equal(t, 1, snap.LedgerSize)
}

func TestStore_RecordOutcome_NullEventIDSkipsLedger(t *testing.T) {
	t.Parallel()

	s := New(Options{})
	o := model.Outcome{Sink: model.SinkPixel, Status: model.StatusOK}

	assert.False(t, s.RecordOutcome(o, true))
	assert.False(t, s.RecordOutcome(o, true))
	assert.Equal(t, 0, s.Snapshot().LedgerSize)
}

func TestStore_RecordOutcome_LastCAPIError(t *testing.T) {
	t.Parallel()

	s := New(Options{})
	s.RecordOutcome(model.Outcome{
		Sink:        model.SinkCAPI,
		Status:      model.StatusHTTPError,
		HTTPCode:    model.Some(400),
		ErrorDetail: model.Some("HTTP 400"),
	}, false)

	lastErr := s.LastCAPIError()
	require.NotNil(t, lastErr)
	assert.Equal(t, 400, lastErr.HTTPCode.OrZero())
	assert.Equal(t, model.StatusHTTPError, lastErr.Status)

	s.RecordOutcome(model.Outcome{Sink: model.SinkCAPI, Status: model.StatusOK}, false)
	assert.NotNil(t, s.LastCAPIError(), "success does not clear the last error")

	s.ClearCAPIError()
	assert.Nil(t, s.LastCAPIError())
}

func TestStore_ConcurrentRecordOutcome(t *testing.T) {
	t.Parallel()

	s := New(Options{LedgerCapacity: 50})

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.RecordOutcome(model.Outcome{
				Sink:    model.SinkPixel,
				Status:  model.StatusOK,
				EventID: model.Some(fmt.Sprintf("evt-%d", i)),
			}, true)
		}(i)
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Equal(t, int64(200), snap.Counters[model.SinkPixel][model.StatusOK])
	assert.Equal(t, 50, snap.LedgerSize)
}

func TestStore_PixelAutoBookkeeping(t *testing.T) {
	t.Parallel()

	s := New(Options{})
	interval := 50

	st := s.SetPixelAuto(true, &interval, nil)
	assert.True(t, st.Running)
	assert.Equal(t, MinAutoIntervalMS, st.IntervalMS)
	assert.NotNil(t, st.StartedAt)

	assert.Equal(t, int64(1), s.IncrementPixelAuto(0))
	assert.Equal(t, int64(4), s.IncrementPixelAuto(3))

	s.ResetPixelAutoCount()
	assert.Equal(t, int64(0), s.PixelAuto().Count)

	st = s.SetPixelAuto(false, nil, nil)
	assert.False(t, st.Running)
	assert.Nil(t, st.StartedAt)
}

func TestStore_ResetChaos(t *testing.T) {
	t.Parallel()

	s := New(Options{})
	controls := model.DefaultControls()
	controls.Currency = model.CurrencyCapiNull
	controls.DelayMS = 800
	controls.MatchRateDegradePct = 40
	controls.BadNulls = controls.BadNulls.With(model.FaultNullPrice)
	controls.CostPctMin = 10

	s.MarkServerAutoStarted(1000, "", controls)
	s.SetPixelAuto(true, nil, &controls)

	s.ResetChaos()

	for _, got := range []model.Controls{s.ServerAutoControls(), s.PixelAuto().Controls} {
		assert.Equal(t, model.CurrencyAuto, got.Currency)
		assert.Zero(t, got.DelayMS)
		assert.Zero(t, got.MatchRateDegradePct)
		assert.Empty(t, got.BadNulls.Faults())
		assert.Equal(t, 10.0, got.CostPctMin, "non-chaos knobs are kept")
	}
}

func TestStore_ServerAutoLifecycle(t *testing.T) {
	t.Parallel()

	s := New(Options{})
	s.MarkServerAutoStarted(1500, "", model.DefaultControls())
	s.IncServerAutoCount()
	s.IncServerAutoCount()

	s.MarkServerAutoStopped()
	s.MarkServerAutoStopped()

	st := s.ServerAuto()
	assert.False(t, st.Running)
	assert.Equal(t, int64(2), st.Count)
	assert.Equal(t, 1500, st.IntervalMS)
}
