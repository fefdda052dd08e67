// Package state holds the process-wide control state shared by request
// handlers and the auto-loop.
package state

import (
	"errors"
	"sync"
	"time"

	"github.com/capisim/capisim/internal/catalog"
	"github.com/capisim/capisim/internal/model"
)

// Auto-loop interval bounds in milliseconds.
const (
	DefaultAutoIntervalMS = 2000
	MinAutoIntervalMS     = 200
	MaxAutoIntervalMS     = 3_600_000
)

var (
	// ErrInvalidCatalogSize is returned for negative catalog sizes.
	ErrInvalidCatalogSize = errors.New("catalog size must be >= 0")
)

// Master holds the global send switches.
type Master struct {
	PixelEnabled bool `json:"pixel_enabled"`
	CAPIEnabled  bool `json:"capi_enabled"`
}

// AutoState is the bookkeeping for one auto-loop.
type AutoState struct {
	Running    bool           `json:"running"`
	IntervalMS int            `json:"interval_ms"`
	Schedule   string         `json:"schedule,omitempty"`
	Controls   model.Controls `json:"controls"`
	Count      int64          `json:"count"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
}

// Counters maps sink → status → number of sends.
type Counters map[model.SinkName]map[model.Status]int64

// Snapshot is a consistent copy of the whole control state.
type Snapshot struct {
	Master         Master           `json:"master"`
	CatalogSize    int              `json:"catalog_size"`
	PixelAuto      AutoState        `json:"pixel_auto"`
	ServerAuto     AutoState        `json:"server_auto"`
	LastCAPIError  *model.CAPIError `json:"last_capi_error"`
	Counters       Counters         `json:"counters"`
	Duplicates     int64            `json:"duplicates"`
	LedgerSize     int              `json:"ledger_size"`
	LedgerCapacity int              `json:"ledger_capacity"`
}

// Options configures a new Store.
type Options struct {
	CatalogSize    int
	// Catalog, when set, is used instead of generating CatalogSize products.
	Catalog        *catalog.Catalog
	BaseURL        string
	LedgerCapacity int
	LedgerWindow   time.Duration
	Rand           catalog.Rand
	Now            func() time.Time
}

// Store is the control state. Every mutation is serialized by one mutex.
type Store struct {
	mu sync.Mutex

	master        Master
	catalog       *catalog.Catalog
	baseURL       string
	rng           catalog.Rand
	pixelAuto     AutoState
	serverAuto    AutoState
	ledger        *Ledger
	counters      Counters
	duplicates    int64
	lastCAPIError *model.CAPIError
	now           func() time.Time
}

// New creates a Store with both master switches on and a freshly
// generated catalog.
func New(opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = catalog.GlobalRand()
	}
	if opts.LedgerCapacity < 1 {
		opts.LedgerCapacity = 1000
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.Generate(opts.CatalogSize, opts.BaseURL, opts.Rand)
	}

	return &Store{
		master:     Master{PixelEnabled: true, CAPIEnabled: true},
		catalog:    opts.Catalog,
		baseURL:    opts.BaseURL,
		rng:        opts.Rand,
		pixelAuto:  newAutoState(),
		serverAuto: newAutoState(),
		ledger:     NewLedger(opts.LedgerCapacity, opts.LedgerWindow),
		counters:   make(Counters),
		now:        opts.Now,
	}
}

func newAutoState() AutoState {
	return AutoState{
		IntervalMS: DefaultAutoIntervalMS,
		Controls:   model.DefaultControls(),
	}
}

// ClampInterval bounds an auto-loop interval in milliseconds.
func ClampInterval(ms int) int {
	if ms <= 0 {
		return DefaultAutoIntervalMS
	}
	if ms < MinAutoIntervalMS {
		return MinAutoIntervalMS
	}
	if ms > MaxAutoIntervalMS {
		return MaxAutoIntervalMS
	}
	return ms
}

// Master returns the current master switches.
func (s *Store) Master() Master {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.master
}

// SetMaster updates whichever switches are non-nil.
func (s *Store) SetMaster(pixel, capi *bool) Master {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pixel != nil {
		s.master.PixelEnabled = *pixel
	}
	if capi != nil {
		s.master.CAPIEnabled = *capi
	}
	return s.master
}

// Catalog returns the current catalog. Catalogs are immutable, so the
// caller may use it without holding the lock.
func (s *Store) Catalog() *catalog.Catalog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catalog
}

// SetCatalogSize regenerates the catalog when the size changes.
// Sizes above catalog.MaxSize are clamped; negative sizes are rejected
// without touching state.
func (s *Store) SetCatalogSize(size int) (int, error) {
	if size < 0 {
		return 0, ErrInvalidCatalogSize
	}
	size = catalog.ClampSize(size)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.catalog.Len() != size {
		s.catalog = catalog.Generate(size, s.baseURL, s.rng)
	}
	return size, nil
}

// RecordOutcome counts one primary or secondary send. When dedup is set
// and the outcome carries an event id, the ledger is consulted and
// refreshed; the return value reports a duplicate. Failed CAPI outcomes
// become the last CAPI error.
func (s *Store) RecordOutcome(o model.Outcome, dedup bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	bySink, ok := s.counters[o.Sink]
	if !ok {
		bySink = make(map[model.Status]int64)
		s.counters[o.Sink] = bySink
	}
	bySink[o.Status]++

	if o.Sink == model.SinkCAPI && o.Failed() {
		s.lastCAPIError = &model.CAPIError{
			At:       s.now().UTC(),
			Status:   o.Status,
			HTTPCode: o.HTTPCode,
			Detail:   o.ErrorDetail.OrZero(),
			EventID:  o.EventID.OrZero(),
		}
	}

	if !dedup {
		return false
	}
	id, ok := o.EventID.Get()
	if !ok || id == "" {
		return false
	}
	duplicate := s.ledger.Touch(id, s.now())
	if duplicate {
		s.duplicates++
	}
	return duplicate
}

// LastCAPIError returns the most recent CAPI failure, or nil.
func (s *Store) LastCAPIError() *model.CAPIError {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastCAPIError == nil {
		return nil
	}
	e := *s.lastCAPIError
	return &e
}

// ClearCAPIError drops the last CAPI failure.
func (s *Store) ClearCAPIError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCAPIError = nil
}

// ServerAuto returns the server auto-loop bookkeeping.
func (s *Store) ServerAuto() AutoState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverAuto
}

// ServerAutoControls returns the last-saved server auto-loop controls.
func (s *Store) ServerAutoControls() model.Controls {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverAuto.Controls
}

// MarkServerAutoStarted stores the interval and controls of a loop that
// just started and resets its tick count.
func (s *Store) MarkServerAutoStarted(intervalMS int, schedule string, controls model.Controls) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	s.serverAuto = AutoState{
		Running:    true,
		IntervalMS: intervalMS,
		Schedule:   schedule,
		Controls:   controls,
		StartedAt:  &now,
	}
}

// MarkServerAutoStopped clears the running flag. Count and controls are kept.
func (s *Store) MarkServerAutoStopped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serverAuto.Running = false
	s.serverAuto.StartedAt = nil
}

// IncServerAutoCount increments and returns the server tick count.
func (s *Store) IncServerAutoCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serverAuto.Count++
	return s.serverAuto.Count
}

// PixelAuto returns the browser-driven loop bookkeeping.
func (s *Store) PixelAuto() AutoState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pixelAuto
}

// SetPixelAuto records the browser loop's running flag and, when given,
// its interval and controls.
func (s *Store) SetPixelAuto(running bool, intervalMS *int, controls *model.Controls) AutoState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pixelAuto.Running = running
	if intervalMS != nil {
		s.pixelAuto.IntervalMS = ClampInterval(*intervalMS)
	}
	if controls != nil {
		s.pixelAuto.Controls = *controls
	}
	if running && s.pixelAuto.StartedAt == nil {
		now := s.now().UTC()
		s.pixelAuto.StartedAt = &now
	}
	if !running {
		s.pixelAuto.StartedAt = nil
	}
	return s.pixelAuto
}

// IncrementPixelAuto adds by (at least 1) to the browser loop count.
func (s *Store) IncrementPixelAuto(by int64) int64 {
	if by < 1 {
		by = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pixelAuto.Count += by
	return s.pixelAuto.Count
}

// ResetPixelAutoCount zeroes the browser loop count.
func (s *Store) ResetPixelAutoCount() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pixelAuto.Count = 0
}

// ResetChaos neutralizes the chaos knobs of both auto-loop bundles.
// A running server loop picks the change up on its next tick.
func (s *Store) ResetChaos() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pixelAuto.Controls = s.pixelAuto.Controls.WithoutChaos()
	s.serverAuto.Controls = s.serverAuto.Controls.WithoutChaos()
}

// Snapshot returns a consistent copy of the whole state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	counters := make(Counters, len(s.counters))
	for sink, byStatus := range s.counters {
		cp := make(map[model.Status]int64, len(byStatus))
		for status, n := range byStatus {
			cp[status] = n
		}
		counters[sink] = cp
	}

	var lastErr *model.CAPIError
	if s.lastCAPIError != nil {
		e := *s.lastCAPIError
		lastErr = &e
	}

	return Snapshot{
		Master:         s.master,
		CatalogSize:    s.catalog.Len(),
		PixelAuto:      s.pixelAuto,
		ServerAuto:     s.serverAuto,
		LastCAPIError:  lastErr,
		Counters:       counters,
		Duplicates:     s.duplicates,
		LedgerSize:     s.ledger.Len(),
		LedgerCapacity: s.ledger.Capacity(),
	}
}
