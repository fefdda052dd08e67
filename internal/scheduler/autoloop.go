// Package scheduler runs the server-side auto-loop that emits simulated
// events on a fixed interval or cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/capisim/capisim/internal/catalog"
	"github.com/capisim/capisim/internal/metrics"
	"github.com/capisim/capisim/internal/model"
	"github.com/capisim/capisim/internal/service"
	"github.com/capisim/capisim/internal/state"
)

var (
	// ErrAlreadyRunning is returned by Start while a loop is active.
	ErrAlreadyRunning = errors.New("auto-loop already running")
	// ErrInvalidSchedule is returned for an unparsable cron spec.
	ErrInvalidSchedule = errors.New("invalid schedule")
	// ErrInvalidSKUMode is returned for an unknown SKU selection mode.
	ErrInvalidSKUMode = errors.New("sku_mode must be random or round_robin")
)

// SKUMode selects how each tick picks a product.
type SKUMode string

const (
	SKURandom     SKUMode = "random"
	SKURoundRobin SKUMode = "round_robin"
)

// Options configures one run of the loop.
type Options struct {
	IntervalMS int               `json:"interval_ms"`
	Schedule   string            `json:"schedule,omitempty"`
	Events     []model.EventName `json:"events,omitempty"`
	Channel    model.Channel     `json:"channel"`
	SKUMode    SKUMode           `json:"sku_mode"`
	Controls   model.Controls    `json:"controls"`
}

// Sender runs one event through the simulator.
type Sender interface {
	Send(ctx context.Context, in service.SendInput) (service.SendResult, error)
}

// Store is the part of the control state the loop reads and updates.
type Store interface {
	Catalog() *catalog.Catalog
	ServerAutoControls() model.Controls
	MarkServerAutoStarted(intervalMS int, schedule string, controls model.Controls)
	MarkServerAutoStopped()
	IncServerAutoCount() int64
}

// Rand is the random source for event, SKU and session sampling.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
func (globalRand) IntN(n int) int   { return rand.IntN(n) }

// Config wires an AutoLoop.
type Config struct {
	Sender  Sender
	Store   Store
	Metrics metrics.Recorder
	Logger  *slog.Logger
	Rand    Rand
}

// AutoLoop is the Stopped/Running state machine around a cron scheduler.
// Overlapping ticks are skipped: a tick that outlasts the interval causes
// the next one to be dropped rather than queued.
type AutoLoop struct {
	sender  Sender
	store   Store
	metrics metrics.Recorder
	logger  *slog.Logger
	rng     Rand
	now     func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	run     uint64 // bumped by every Start
	opts    Options
	stopped context.Context // done once the last run's jobs have returned
	cancel  context.CancelFunc
}

// New creates a stopped AutoLoop.
func New(cfg Config) *AutoLoop {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Rand == nil {
		cfg.Rand = globalRand{}
	}
	return &AutoLoop{
		sender:  cfg.Sender,
		store:   cfg.Store,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.With("component", "scheduler.autoloop"),
		rng:     cfg.Rand,
		now:     time.Now,
	}
}

// Start transitions Stopped→Running. The interval is clamped; a non-empty
// Schedule replaces it. Invalid options leave the loop and state untouched.
func (l *AutoLoop) Start(opts Options) error {
	opts, sched, err := prepare(opts)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cron != nil {
		return ErrAlreadyRunning
	}

	cl := cronLogger{l.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	l.run++
	run := l.run
	ctx, cancel := context.WithCancel(context.Background())
	var seq atomic.Uint64
	c.Schedule(sched, cron.FuncJob(func() {
		l.tick(ctx, run, opts, &seq)
	}))

	l.store.MarkServerAutoStarted(opts.IntervalMS, opts.Schedule, opts.Controls)
	c.Start()

	l.cron = c
	l.opts = opts
	l.cancel = cancel

	l.logger.Info("auto-loop started",
		"interval_ms", opts.IntervalMS,
		"schedule", opts.Schedule,
		"channel", opts.Channel,
		"sku_mode", opts.SKUMode,
	)
	return nil
}

// Stop transitions Running→Stopped and reports whether a loop was running.
// No further ticks fire; a tick already in flight runs to completion.
// Stopping a stopped loop is a no-op.
func (l *AutoLoop) Stop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopLocked()
}

func (l *AutoLoop) stopLocked() bool {
	if l.cron == nil {
		return false
	}

	done := l.cron.Stop()
	cancel := l.cancel
	go func() {
		<-done.Done()
		cancel()
	}()

	l.cron = nil
	l.stopped = done
	l.store.MarkServerAutoStopped()
	l.logger.Info("auto-loop stopped")
	return true
}

// Shutdown stops the loop and waits for an in-flight tick. If ctx expires
// first the tick's context is cancelled and ctx.Err() is returned.
func (l *AutoLoop) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	l.stopLocked()
	done, cancel := l.stopped, l.cancel
	l.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// Running reports whether the loop is active.
func (l *AutoLoop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cron != nil
}

// Options returns the options of the current or last run.
func (l *AutoLoop) Options() Options {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opts
}

func prepare(opts Options) (Options, cron.Schedule, error) {
	if opts.Channel == "" {
		opts.Channel = model.ChannelBoth
	}
	ch, err := model.ParseChannel(string(opts.Channel))
	if err != nil {
		return opts, nil, err
	}
	opts.Channel = ch

	switch opts.SKUMode {
	case "":
		opts.SKUMode = SKURandom
	case SKURandom, SKURoundRobin:
	default:
		return opts, nil, fmt.Errorf("%w: %q", ErrInvalidSKUMode, opts.SKUMode)
	}

	events := make([]model.EventName, 0, len(opts.Events))
	for _, e := range opts.Events {
		name, err := model.ParseEventName(string(e))
		if err != nil {
			return opts, nil, fmt.Errorf("%w: %q", err, e)
		}
		events = append(events, name)
	}
	opts.Events = events

	opts.Controls = opts.Controls.Normalize()
	if err := opts.Controls.Validate(); err != nil {
		return opts, nil, err
	}

	opts.IntervalMS = state.ClampInterval(opts.IntervalMS)
	opts.Schedule = strings.TrimSpace(opts.Schedule)
	if opts.Schedule == "" {
		return opts, every(time.Duration(opts.IntervalMS) * time.Millisecond), nil
	}
	sched, err := cron.ParseStandard(opts.Schedule)
	if err != nil {
		return opts, nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	return opts, sched, nil
}

// current reports whether run is still the latest run.
func (l *AutoLoop) current(run uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.run == run
}

// countTick increments the stored count unless a newer run has started
// since run, whose count must only reflect its own ticks.
func (l *AutoLoop) countTick(run uint64) (int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.run != run {
		return 0, false
	}
	return l.store.IncServerAutoCount(), true
}

func (l *AutoLoop) tick(ctx context.Context, run uint64, opts Options, seq *atomic.Uint64) {
	start := l.now()

	if !l.current(run) {
		return
	}
	controls := l.store.ServerAutoControls()
	if controls.Email == "" {
		controls.Email = fmt.Sprintf("user%d@example.com", 1000+l.rng.IntN(9000))
	}

	in := service.SendInput{
		Event:    l.pickEvent(opts.Events),
		SKU:      l.pickSKU(opts.SKUMode, seq),
		Channel:  opts.Channel,
		Controls: controls,
		Session:  l.session(start),
	}
	res, err := l.sender.Send(ctx, in)
	count, counted := l.countTick(run)

	status := "success"
	switch {
	case err != nil:
		status = "failed"
		l.logger.Error("auto-loop tick rejected", "error", err, "event", in.Event)
	case hasFailure(res):
		status = "failed"
	}
	l.metrics.IncAutoTick(status)
	l.metrics.ObserveAutoTickDuration(l.now().Sub(start))

	l.logger.Debug("auto-loop tick",
		"count", count,
		"counted", counted,
		"event", in.Event,
		"sku", in.SKU,
		"status", status,
	)
}

func hasFailure(res service.SendResult) bool {
	return (res.Pixel != nil && res.Pixel.Failed()) || (res.CAPI != nil && res.CAPI.Failed())
}

// funnel weights follow a storefront session: every visitor views a page,
// 35% add to cart, 70% of those check out and 70% of those buy.
var funnel = []struct {
	name   model.EventName
	weight float64
}{
	{model.EventPageView, 1},
	{model.EventViewContent, 1},
	{model.EventAddToCart, 0.35},
	{model.EventInitiateCheckout, 0.245},
	{model.EventPurchase, 0.1715},
}

var funnelTotal = func() float64 {
	var total float64
	for _, f := range funnel {
		total += f.weight
	}
	return total
}()

func (l *AutoLoop) pickEvent(events []model.EventName) model.EventName {
	if len(events) > 0 {
		return events[l.rng.IntN(len(events))]
	}
	x := l.rng.Float64() * funnelTotal
	for _, f := range funnel {
		if x < f.weight {
			return f.name
		}
		x -= f.weight
	}
	return model.EventPageView
}

// pickSKU returns "" for an empty catalog so the builder synthesizes a product.
func (l *AutoLoop) pickSKU(mode SKUMode, seq *atomic.Uint64) string {
	cat := l.store.Catalog()
	n := cat.Len()
	if n == 0 {
		return ""
	}
	if mode == SKURoundRobin {
		return cat.At(int((seq.Add(1) - 1) % uint64(n))).SKU
	}
	return cat.At(l.rng.IntN(n)).SKU
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Mobile Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64; rv:127.0) Gecko/20100101 Firefox/127.0",
}

// session fabricates a visitor. Addresses come from TEST-NET-3.
func (l *AutoLoop) session(now time.Time) model.Session {
	ms := now.UnixMilli()
	s := model.Session{
		IP:        fmt.Sprintf("203.0.113.%d", 1+l.rng.IntN(254)),
		UserAgent: userAgents[l.rng.IntN(len(userAgents))],
		FBP:       fmt.Sprintf("fb.1.%d.%d", ms, 1_000_000_000+l.rng.IntN(1_000_000_000)),
	}
	if l.rng.Float64() < 0.3 {
		s.FBC = fmt.Sprintf("fb.1.%d.capisim%08d", ms, l.rng.IntN(100_000_000))
	}
	return s
}

// every is a constant-delay schedule with sub-second resolution;
// cron.Every rounds to whole seconds.
type every time.Duration

func (e every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

// cronLogger adapts slog to cron.Logger. Routine scheduler chatter is
// logged at debug.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
