// Package dispatch routes built events to the Pixel and CAPI channels and
// to optional secondary sinks, recording one outcome per destination.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/capisim/capisim/internal/metrics"
	"github.com/capisim/capisim/internal/model"
	"github.com/capisim/capisim/internal/state"
)

// Store is the part of the control state the router reads and updates.
type Store interface {
	Master() state.Master
	RecordOutcome(o model.Outcome, dedup bool) bool
}

// Sink is a secondary destination. Sinks are best effort: a failure is
// logged and counted but never affects the primary outcomes.
type Sink interface {
	Name() model.SinkName
	Send(ctx context.Context, ev model.Event) error
}

// Request is one routed send.
type Request struct {
	Event    model.Event
	Channel  model.Channel
	Controls model.Controls
}

// Result holds one outcome per targeted destination.
type Result struct {
	Pixel     *model.Outcome  `json:"pixel,omitempty"`
	CAPI      *model.Outcome  `json:"capi,omitempty"`
	Secondary []model.Outcome `json:"secondary,omitempty"`
}

// Outcomes returns every outcome in the result, primaries first.
func (r Result) Outcomes() []model.Outcome {
	out := make([]model.Outcome, 0, 2+len(r.Secondary))
	if r.Pixel != nil {
		out = append(out, *r.Pixel)
	}
	if r.CAPI != nil {
		out = append(out, *r.CAPI)
	}
	return append(out, r.Secondary...)
}

// RouterConfig wires a Router.
type RouterConfig struct {
	Store     Store
	CAPI      *CAPIClient
	Sinks     []Sink
	Readiness *Readiness
	Metrics   metrics.Recorder
	Logger    *slog.Logger
}

// Router sends events to their destinations.
type Router struct {
	store     Store
	capi      *CAPIClient
	sinks     []Sink
	readiness *Readiness
	metrics   metrics.Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewRouter creates a Router. Store and CAPI are required.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Readiness == nil {
		cfg.Readiness = NewReadiness()
	}

	r := &Router{
		store:     cfg.Store,
		capi:      cfg.CAPI,
		sinks:     cfg.Sinks,
		readiness: cfg.Readiness,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.With("component", "dispatch.router"),
		now:       time.Now,
	}

	r.readiness.Register(model.SinkPixel, true)
	r.readiness.Register(model.SinkCAPI, r.capi.Live())
	for _, s := range r.sinks {
		r.readiness.Register(s.Name(), true)
	}
	return r
}

// Readiness returns the sink health registry.
func (r *Router) Readiness() *Readiness {
	return r.readiness
}

// Dispatch waits for the requested delay, sends to the selected primary
// channels and then fans out to every secondary sink. A master switch that
// is off yields a skipped outcome without touching the dedup ledger.
func (r *Router) Dispatch(ctx context.Context, req Request) Result {
	controls := req.Controls.Normalize()
	var res Result

	if controls.DelayMS > 0 {
		if err := sleep(ctx, time.Duration(controls.DelayMS)*time.Millisecond); err != nil {
			r.cancelled(&res, req, err)
			return res
		}
	}

	master := r.store.Master()

	if req.Channel.Includes(model.ChannelPixel) {
		ev := req.Event.ForChannel(model.ChannelPixel)
		var o model.Outcome
		if master.PixelEnabled {
			o = SendPixel(ev)
		} else {
			o = skipped(model.SinkPixel, ev, "pixel disabled by master switch")
		}
		r.record(&o, true)
		res.Pixel = &o
	}

	if req.Channel.Includes(model.ChannelCAPI) {
		ev := req.Event.ForChannel(model.ChannelCAPI)
		var o model.Outcome
		if master.CAPIEnabled {
			o = r.capi.Send(ctx, ev, controls.DryRun)
		} else {
			o = skipped(model.SinkCAPI, ev, "capi disabled by master switch")
		}
		r.record(&o, true)
		res.CAPI = &o
	}

	res.Secondary = r.fanOut(ctx, req.Event)
	return res
}

// record updates state, metrics and readiness for one outcome. Only
// dispatched primary sends take part in duplicate detection.
func (r *Router) record(o *model.Outcome, primary bool) {
	dedup := primary && o.Status != model.StatusSkipped
	if r.store.RecordOutcome(*o, dedup) {
		o.Duplicate = true
		r.metrics.IncDuplicate()
	}
	r.metrics.IncDispatch(o.Sink, o.Status)
	if o.LatencyMS.Valid {
		r.metrics.ObserveDispatchLatency(o.Sink, time.Duration(o.LatencyMS.Value*float64(time.Millisecond)))
	}
	r.readiness.Observe(*o)

	if o.Failed() {
		r.logger.Warn("dispatch failed",
			"sink", o.Sink,
			"status", o.Status,
			"http_code", o.HTTPCode.OrZero(),
			"error", o.ErrorDetail.OrZero(),
			"event_id", o.EventID.OrZero(),
		)
	}
}

func (r *Router) fanOut(ctx context.Context, ev model.Event) []model.Outcome {
	if len(r.sinks) == 0 {
		return nil
	}

	outcomes := make([]model.Outcome, len(r.sinks))
	var wg sync.WaitGroup
	for i, s := range r.sinks {
		wg.Add(1)
		go func(i int, s Sink) {
			defer wg.Done()
			outcomes[i] = r.sendSecondary(ctx, s, ev)
		}(i, s)
	}
	wg.Wait()

	for i := range outcomes {
		r.record(&outcomes[i], false)
	}
	return outcomes
}

func (r *Router) sendSecondary(ctx context.Context, s Sink, ev model.Event) model.Outcome {
	o := model.Outcome{Sink: s.Name(), EventID: ev.EventID}

	start := r.now()
	err := s.Send(ctx, ev)
	o.SetLatency(r.now().Sub(start))

	var statusErr *HTTPStatusError
	switch {
	case err == nil:
		o.Status = model.StatusOK
	case errors.Is(err, ErrNotConfigured):
		o.Status = model.StatusSkipped
		o.ErrorDetail = model.Some(err.Error())
	case errors.As(err, &statusErr):
		o.Status = model.StatusHTTPError
		o.HTTPCode = model.Some(statusErr.Code)
		o.ErrorDetail = model.Some(err.Error())
	default:
		o.Status = model.StatusError
		o.ErrorDetail = model.Some(err.Error())
	}
	return o
}

func (r *Router) cancelled(res *Result, req Request, err error) {
	detail := "cancelled during delay: " + err.Error()
	if req.Channel.Includes(model.ChannelPixel) {
		o := errored(model.SinkPixel, req.Event.ForChannel(model.ChannelPixel), detail)
		r.metrics.IncDispatch(o.Sink, o.Status)
		res.Pixel = &o
	}
	if req.Channel.Includes(model.ChannelCAPI) {
		o := errored(model.SinkCAPI, req.Event.ForChannel(model.ChannelCAPI), detail)
		r.metrics.IncDispatch(o.Sink, o.Status)
		res.CAPI = &o
	}
}

func skipped(sink model.SinkName, ev model.Event, reason string) model.Outcome {
	return model.Outcome{
		Sink:        sink,
		Status:      model.StatusSkipped,
		EventID:     ev.EventID,
		ErrorDetail: model.Some(reason),
		Payload:     &ev,
	}
}

func errored(sink model.SinkName, ev model.Event, detail string) model.Outcome {
	return model.Outcome{
		Sink:        sink,
		Status:      model.StatusError,
		EventID:     ev.EventID,
		ErrorDetail: model.Some(detail),
		Payload:     &ev,
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
