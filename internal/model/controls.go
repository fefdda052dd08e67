package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// CurrencyMode selects how the event currency is resolved per channel.
// Any value other than the named modes is treated as an ISO 4217 code.
type CurrencyMode string

const (
	// CurrencyAuto uses the store currency on both channels.
	CurrencyAuto CurrencyMode = "Auto"
	// CurrencyNull sends null on both channels.
	CurrencyNull CurrencyMode = "Null"
	// CurrencyPixelNull sends null on Pixel only.
	CurrencyPixelNull CurrencyMode = "PixelNull"
	// CurrencyCapiNull sends null on CAPI only.
	CurrencyCapiNull CurrencyMode = "CapiNull"
	// CurrencyMismatch sends the store currency on Pixel and the
	// alternate currency on CAPI.
	CurrencyMismatch CurrencyMode = "Mismatch"
)

// Control bounds. Every numeric knob is clamped into these ranges.
const (
	MaxDelayMS     = 3000
	MaxPercent     = 100.0
	DefaultCostMin = 20.0
	DefaultCostMax = 60.0
	maxEventIDLen  = 128
)

var (
	// ErrInvalidCurrency is returned when a currency is neither a mode nor a 3-letter code.
	ErrInvalidCurrency = errors.New("currency must be Auto, Null, PixelNull, CapiNull, Mismatch or a 3-letter ISO code")
	// ErrInvalidEventID is returned when a caller-supplied event id is too long.
	ErrInvalidEventID = errors.New("event_id is too long")
)

var currencyCodePattern = regexp.MustCompile(`^[A-Z]{3}$`)

// IsNamed reports whether m is one of the named modes.
func (m CurrencyMode) IsNamed() bool {
	switch m {
	case CurrencyAuto, CurrencyNull, CurrencyPixelNull, CurrencyCapiNull, CurrencyMismatch:
		return true
	}
	return false
}

// Code returns the ISO code for a specific-code mode.
func (m CurrencyMode) Code() (string, bool) {
	if m.IsNamed() || !currencyCodePattern.MatchString(string(m)) {
		return "", false
	}
	return string(m), true
}

// Controls is the per-send configuration snapshot.
type Controls struct {
	Currency            CurrencyMode  `json:"currency"`
	CostPctMin          float64       `json:"cost_pct_min"`
	CostPctMax          float64       `json:"cost_pct_max"`
	PLTV                *float64      `json:"pltv,omitempty"`
	DelayMS             int           `json:"delay_ms"`
	MatchRateDegradePct float64       `json:"match_rate_degrade_pct"`
	MarginJitterPct     float64       `json:"margin_jitter_pct"`
	BadNulls            FaultSet      `json:"bad_nulls"`
	UserFields          *UserFieldSet `json:"user_fields,omitempty"`
	Email               string        `json:"email,omitempty"`
	SharedEventID       bool          `json:"shared_event_id"`
	EventID             string        `json:"event_id,omitempty"`
	DryRun              bool          `json:"dry_run"`
}

// DefaultControls returns the neutral bundle. Request bodies are decoded on
// top of it so omitted keys keep these values.
func DefaultControls() Controls {
	return Controls{
		Currency:   CurrencyAuto,
		CostPctMin: DefaultCostMin,
		CostPctMax: DefaultCostMax,
	}
}

// IncludedUserFields returns the user_data toggles, defaulting to all.
func (c Controls) IncludedUserFields() UserFieldSet {
	if c.UserFields == nil {
		return AllUserFieldSet()
	}
	return *c.UserFields
}

// Normalize clamps every numeric bound and canonicalizes the currency.
func (c Controls) Normalize() Controls {
	c.CostPctMin = clampFloat(c.CostPctMin, 0, MaxPercent)
	c.CostPctMax = clampFloat(c.CostPctMax, 0, MaxPercent)
	if c.CostPctMin > c.CostPctMax {
		c.CostPctMin, c.CostPctMax = c.CostPctMax, c.CostPctMin
	}
	c.DelayMS = ClampDelay(c.DelayMS)
	c.MatchRateDegradePct = clampFloat(c.MatchRateDegradePct, 0, MaxPercent)
	c.MarginJitterPct = clampFloat(c.MarginJitterPct, 0, MaxPercent)
	if c.PLTV != nil && *c.PLTV < 0 {
		zero := 0.0
		c.PLTV = &zero
	}

	mode := CurrencyMode(strings.TrimSpace(string(c.Currency)))
	switch {
	case mode == "":
		mode = CurrencyAuto
	case !mode.IsNamed():
		mode = CurrencyMode(strings.ToUpper(string(mode)))
	}
	c.Currency = mode
	c.EventID = strings.TrimSpace(c.EventID)
	c.Email = strings.TrimSpace(c.Email)
	return c
}

// Validate reports malformed values that clamping cannot repair.
// It expects a normalized bundle.
func (c Controls) Validate() error {
	if !c.Currency.IsNamed() {
		if _, ok := c.Currency.Code(); !ok {
			return fmt.Errorf("%w: %q", ErrInvalidCurrency, c.Currency)
		}
	}
	if len(c.EventID) > maxEventIDLen {
		return ErrInvalidEventID
	}
	return nil
}

// WithoutChaos returns the bundle with every chaos and discrepancy knob
// reset to neutral. Cost range, pLTV and identity toggles are kept.
func (c Controls) WithoutChaos() Controls {
	c.Currency = CurrencyAuto
	c.DelayMS = 0
	c.MatchRateDegradePct = 0
	c.MarginJitterPct = 0
	c.BadNulls = 0
	return c
}

// ClampDelay bounds an artificial delay to [0, MaxDelayMS].
func ClampDelay(ms int) int {
	if ms < 0 {
		return 0
	}
	if ms > MaxDelayMS {
		return MaxDelayMS
	}
	return ms
}

func clampFloat(v, lo, hi float64) float64 {
	if v != v { // NaN
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
