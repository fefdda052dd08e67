// Package service provides the simulator's business logic: it chains the
// event builder, the chaos injector and the dispatch router.
package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/capisim/capisim/internal/dispatch"
	"github.com/capisim/capisim/internal/model"
)

// Builder constructs canonical events.
type Builder interface {
	Build(name model.EventName, sku string, controls model.Controls, session model.Session) model.Event
}

// Injector applies chaos to a built event.
type Injector interface {
	Inject(ev model.Event, controls model.Controls) model.Event
}

// Dispatcher routes an event to its destinations.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) dispatch.Result
}

// SendInput defines one simulated send.
type SendInput struct {
	Event    model.EventName
	SKU      string
	Channel  model.Channel
	Controls model.Controls
	Session  model.Session
}

// SendResult is the outcome of one send.
type SendResult struct {
	EventID model.Nullable[string] `json:"event_id"`
	Event   model.Event            `json:"event"`
	dispatch.Result
}

// Simulator runs the Builder → Injector → Router chain.
type Simulator struct {
	builder  Builder
	injector Injector
	router   Dispatcher
	logger   *slog.Logger
}

// NewSimulator creates a Simulator.
func NewSimulator(builder Builder, injector Injector, router Dispatcher, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{
		builder:  builder,
		injector: injector,
		router:   router,
		logger:   logger.With("component", "service.simulator"),
	}
}

// Send validates the input and runs one event through the chain. Only
// validation errors are returned; delivery failures are reported as
// outcomes in the result.
func (s *Simulator) Send(ctx context.Context, in SendInput) (SendResult, error) {
	name, err := model.ParseEventName(string(in.Event))
	if err != nil {
		return SendResult{}, fmt.Errorf("%w: %q", err, in.Event)
	}
	channel, err := model.ParseChannel(string(in.Channel))
	if err != nil {
		return SendResult{}, fmt.Errorf("%w: %q", err, in.Channel)
	}
	controls := in.Controls.Normalize()
	if err := controls.Validate(); err != nil {
		return SendResult{}, err
	}

	built := s.builder.Build(name, in.SKU, controls, in.Session)
	ev := s.injector.Inject(built, controls)

	res := s.router.Dispatch(ctx, dispatch.Request{
		Event:    ev,
		Channel:  channel,
		Controls: controls,
	})

	s.logger.Debug("event sent",
		"event", name,
		"channel", channel,
		"sku", ev.SKU,
		"event_id", ev.EventID.OrZero(),
	)

	return SendResult{EventID: ev.EventID, Event: ev, Result: res}, nil
}

// selfTestEvents is the fixed battery fired on each channel.
var selfTestEvents = []model.EventName{
	model.EventPageView,
	model.EventAddToCart,
	model.EventPurchase,
}

var selfTestChannels = []model.Channel{
	model.ChannelPixel,
	model.ChannelCAPI,
	model.ChannelBoth,
}

// ChannelReport is the self-test verdict for one channel.
type ChannelReport struct {
	Channel  model.Channel   `json:"channel"`
	Pass     bool            `json:"pass"`
	Outcomes []model.Outcome `json:"outcomes"`
}

// SelfTestReport is the result of one self-test run.
type SelfTestReport struct {
	RunID      string          `json:"run_id"`
	Pass       bool            `json:"pass"`
	StartedAt  time.Time       `json:"started_at"`
	DurationMS int64           `json:"duration_ms"`
	Channels   []ChannelReport `json:"channels"`
}

// SelfTest fires the fixed event battery on every channel with neutral
// controls. A channel passes when each of its primary outcomes is ok or
// dry_run.
func (s *Simulator) SelfTest(ctx context.Context, dryRun bool) (SelfTestReport, error) {
	started := time.Now().UTC()
	report := SelfTestReport{
		RunID:     ulid.MustNew(ulid.Timestamp(started), rand.Reader).String(),
		Pass:      true,
		StartedAt: started,
	}

	controls := model.DefaultControls()
	controls.DryRun = dryRun
	session := model.Session{UserAgent: "capisim-selftest"}

	for _, ch := range selfTestChannels {
		cr := ChannelReport{Channel: ch, Pass: true}
		for _, name := range selfTestEvents {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			res, err := s.Send(ctx, SendInput{
				Event:    name,
				Channel:  ch,
				Controls: controls,
				Session:  session,
			})
			if err != nil {
				return report, err
			}
			for _, o := range []*model.Outcome{res.Pixel, res.CAPI} {
				if o == nil {
					continue
				}
				cr.Outcomes = append(cr.Outcomes, *o)
				if !o.Succeeded() {
					cr.Pass = false
				}
			}
		}
		report.Pass = report.Pass && cr.Pass
		report.Channels = append(report.Channels, cr)
	}

	report.DurationMS = time.Since(started).Milliseconds()
	s.logger.Info("self-test finished", "run_id", report.RunID, "pass", report.Pass)
	return report, nil
}
