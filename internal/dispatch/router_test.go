package dispatch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capisim/capisim/internal/metrics"
	"github.com/capisim/capisim/internal/model"
	"github.com/capisim/capisim/internal/state"
)

type stubSink struct {
	name  model.SinkName
	err   error
	calls atomic.Int32
}

func (s *stubSink) Name() model.SinkName { return s.name }

func (s *stubSink) Send(ctx context.Context, ev model.Event) error {
	s.calls.Add(1)
	return s.err
}

func newTestRouter(t *testing.T, capi *CAPIClient, sinks ...Sink) (*Router, *state.Store, *metrics.InMemoryRecorder) {
	t.Helper()
	if capi == nil {
		capi = NewCAPIClient(CAPIConfig{})
	}
	store := state.New(state.Options{LedgerCapacity: 100})
	rec := metrics.NewInMemory()
	r := NewRouter(RouterConfig{
		Store:   store,
		CAPI:    capi,
		Sinks:   sinks,
		Metrics: rec,
	})
	return r, store, rec
}

func sharedEvent(id string) model.Event {
	ev := testEvent()
	ev.EventID = model.Some(id)
	ev.Pixel.EventID = model.Some(id)
	ev.CAPI.EventID = model.Some(id)
	return ev
}

func TestRouter_BothChannelsDryRun(t *testing.T) {
	t.Parallel()

	r, store, _ := newTestRouter(t, nil)
	res := r.Dispatch(context.Background(), Request{
		Event:    sharedEvent("abc"),
		Channel:  model.ChannelBoth,
		Controls: model.DefaultControls(),
	})

	require.NotNil(t, res.Pixel)
	require.NotNil(t, res.CAPI)
	assert.Equal(t, model.StatusOK, res.Pixel.Status)
	assert.True(t, res.Pixel.Simulated)
	assert.Equal(t, model.StatusDryRun, res.CAPI.Status)
	assert.True(t, res.CAPI.Simulated)

	assert.False(t, res.Pixel.Duplicate)
	assert.True(t, res.CAPI.Duplicate, "shared id seen on the second channel")
	assert.Equal(t, int64(1), store.Snapshot().Duplicates)
}

func TestRouter_DistinctIDsAreNotDuplicates(t *testing.T) {
	t.Parallel()

	r, store, _ := newTestRouter(t, nil)
	ev := testEvent()
	ev.Pixel.EventID = model.Some("p-1")
	ev.CAPI.EventID = model.Some("c-1")

	res := r.Dispatch(context.Background(), Request{Event: ev, Channel: model.ChannelBoth})

	assert.Equal(t, "p-1", res.Pixel.EventID.OrZero())
	assert.Equal(t, "c-1", res.CAPI.EventID.OrZero())
	assert.False(t, res.CAPI.Duplicate)
	assert.Equal(t, 2, store.Snapshot().LedgerSize)
}

func TestRouter_MasterSwitchOffSkips(t *testing.T) {
	t.Parallel()

	r, store, _ := newTestRouter(t, nil)
	off := false
	store.SetMaster(nil, &off)

	res := r.Dispatch(context.Background(), Request{Event: testEvent(), Channel: model.ChannelCAPI})

	require.NotNil(t, res.CAPI)
	assert.Nil(t, res.Pixel)
	assert.Equal(t, model.StatusSkipped, res.CAPI.Status)
	assert.Equal(t, 0, store.Snapshot().LedgerSize, "skipped sends never touch the ledger")
	assert.Nil(t, store.LastCAPIError())
}

func TestRouter_PixelOnly(t *testing.T) {
	t.Parallel()

	r, _, rec := newTestRouter(t, nil)
	res := r.Dispatch(context.Background(), Request{Event: testEvent(), Channel: model.ChannelPixel})

	require.NotNil(t, res.Pixel)
	assert.Nil(t, res.CAPI)
	assert.Equal(t, model.Some(0.0), res.Pixel.LatencyMS)

	snap := rec.Snapshot()
	require.Len(t, snap.Dispatches, 1)
	assert.Equal(t, model.SinkPixel, snap.Dispatches[0].Sink)
}

func TestRouter_CAPIFailureSetsLastError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	capi := NewCAPIClient(CAPIConfig{PixelID: "1", AccessToken: "t", BaseURL: srv.URL})
	r, store, _ := newTestRouter(t, capi)

	res := r.Dispatch(context.Background(), Request{Event: testEvent(), Channel: model.ChannelCAPI})

	assert.Equal(t, model.StatusHTTPError, res.CAPI.Status)
	lastErr := store.LastCAPIError()
	require.NotNil(t, lastErr)
	assert.Equal(t, 403, lastErr.HTTPCode.OrZero())
	assert.False(t, r.Readiness().Ready(model.SinkCAPI))
}

func TestRouter_DelayIsHonored(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRouter(t, nil)
	controls := model.DefaultControls()
	controls.DelayMS = 60

	start := time.Now()
	r.Dispatch(context.Background(), Request{Event: testEvent(), Channel: model.ChannelPixel, Controls: controls})
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestRouter_DelayCancelled(t *testing.T) {
	t.Parallel()

	r, store, _ := newTestRouter(t, nil)
	controls := model.DefaultControls()
	controls.DelayMS = 3000

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res := r.Dispatch(ctx, Request{Event: testEvent(), Channel: model.ChannelBoth, Controls: controls})

	assert.Equal(t, model.StatusError, res.Pixel.Status)
	assert.Equal(t, model.StatusError, res.CAPI.Status)
	assert.Equal(t, 0, store.Snapshot().LedgerSize)
}

func TestRouter_SecondarySinksAreIndependent(t *testing.T) {
	t.Parallel()

	good := &stubSink{name: model.SinkFile}
	bad := &stubSink{name: model.SinkWebhook, err: errors.New("boom")}
	httpBad := &stubSink{name: model.SinkGA4, err: &HTTPStatusError{Code: 500}}

	r, store, _ := newTestRouter(t, nil, good, bad, httpBad)
	off := false
	store.SetMaster(&off, &off)

	res := r.Dispatch(context.Background(), Request{Event: testEvent(), Channel: model.ChannelBoth})

	assert.Equal(t, model.StatusSkipped, res.Pixel.Status)
	assert.Equal(t, model.StatusSkipped, res.CAPI.Status)
	require.Len(t, res.Secondary, 3)
	assert.Equal(t, model.StatusOK, res.Secondary[0].Status)
	assert.Equal(t, model.StatusError, res.Secondary[1].Status)
	assert.Equal(t, "boom", res.Secondary[1].ErrorDetail.OrZero())
	assert.Equal(t, model.StatusHTTPError, res.Secondary[2].Status)
	assert.Equal(t, 500, res.Secondary[2].HTTPCode.OrZero())

	assert.True(t, r.Readiness().Ready(model.SinkFile))
	assert.False(t, r.Readiness().Ready(model.SinkWebhook))
	assert.Nil(t, store.LastCAPIError(), "secondary failures do not touch the CAPI error")
	assert.Equal(t, 0, store.Snapshot().LedgerSize)
	assert.Len(t, res.Outcomes(), 5)
}

func TestRouter_Readiness(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRouter(t, nil)
	assert.True(t, r.Readiness().Ready(model.SinkPixel))
	assert.False(t, r.Readiness().Ready(model.SinkCAPI), "dry-run capi is not ready")

	live := NewCAPIClient(CAPIConfig{PixelID: "1", AccessToken: "t"})
	r2, _, _ := newTestRouter(t, live)
	assert.True(t, r2.Readiness().Ready(model.SinkCAPI))
}
