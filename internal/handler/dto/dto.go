// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/capisim/capisim/internal/dispatch"
	"github.com/capisim/capisim/internal/model"
	"github.com/capisim/capisim/internal/scheduler"
	"github.com/capisim/capisim/internal/state"
)

// ErrorResponse represents an API error.
type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

// OKResponse is the body of endpoints with nothing else to report.
type OKResponse struct {
	OK bool `json:"ok"`
}

// Controls is a control bundle as sent by clients. Keys that are omitted
// keep their neutral defaults.
type Controls json.RawMessage

// UnmarshalJSON keeps the raw bytes for Decode.
func (c *Controls) UnmarshalJSON(data []byte) error {
	*c = append((*c)[:0], data...)
	return nil
}

// Decode applies the bundle on top of model.DefaultControls, then
// normalizes and validates it.
func (c Controls) Decode() (model.Controls, error) {
	controls := model.DefaultControls()
	raw := bytes.TrimSpace(c)
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if err := json.Unmarshal(raw, &controls); err != nil {
			return model.Controls{}, err
		}
	}
	controls = controls.Normalize()
	if err := controls.Validate(); err != nil {
		return model.Controls{}, err
	}
	return controls, nil
}

// MasterRequest updates whichever switches are present.
type MasterRequest struct {
	PixelEnabled *bool `json:"pixel_enabled"`
	CAPIEnabled  *bool `json:"capi_enabled"`
}

// MasterResponse reports the switches after the update.
type MasterResponse struct {
	OK bool `json:"ok"`
	state.Master
}

// CatalogSizeRequest regenerates the catalog.
type CatalogSizeRequest struct {
	Size *int `json:"size"`
}

// CatalogSizeResponse reports the effective size.
type CatalogSizeResponse struct {
	OK   bool `json:"ok"`
	Size int  `json:"size"`
}

// CatalogResponse lists the products.
type CatalogResponse struct {
	OK       bool            `json:"ok"`
	Size     int             `json:"size"`
	Products []model.Product `json:"products"`
}

// ManualSendRequest is one manual send.
type ManualSendRequest struct {
	Channel  string   `json:"channel"`
	Event    string   `json:"event"`
	SKU      string   `json:"sku,omitempty"`
	Controls Controls `json:"controls"`
}

// ManualSendResponse carries one outcome per targeted channel.
type ManualSendResponse struct {
	OK        bool                   `json:"ok"`
	EventID   model.Nullable[string] `json:"event_id"`
	Pixel     *model.Outcome         `json:"pixel,omitempty"`
	CAPI      *model.Outcome         `json:"capi,omitempty"`
	Secondary []model.Outcome        `json:"secondary,omitempty"`
}

// ServerAutoStartRequest starts the server auto-loop.
type ServerAutoStartRequest struct {
	IntervalMS int               `json:"interval_ms"`
	Schedule   string            `json:"schedule,omitempty"`
	Events     []model.EventName `json:"events,omitempty"`
	Channel    model.Channel     `json:"channel,omitempty"`
	SKUMode    scheduler.SKUMode `json:"sku_mode,omitempty"`
	Controls   Controls          `json:"controls"`
}

// ServerAutoResponse reports the loop state after a start or stop.
type ServerAutoResponse struct {
	OK         bool            `json:"ok"`
	WasRunning *bool           `json:"was_running,omitempty"`
	ServerAuto state.AutoState `json:"server_auto"`
}

// PixelAutoSetRequest mirrors the browser loop's state.
type PixelAutoSetRequest struct {
	Running    bool     `json:"running"`
	IntervalMS *int     `json:"interval_ms"`
	Controls   Controls `json:"controls"`
}

// PixelAutoIncrementRequest bumps the browser loop count.
type PixelAutoIncrementRequest struct {
	By int64 `json:"by"`
}

// PixelAutoResponse reports the browser loop bookkeeping.
type PixelAutoResponse struct {
	OK        bool            `json:"ok"`
	Count     int64           `json:"count"`
	PixelAuto state.AutoState `json:"pixel_auto"`
}

// StatusResponse is what a UI needs to restore itself after reload.
type StatusResponse struct {
	OK                bool                                   `json:"ok"`
	Master            state.Master                           `json:"master"`
	CatalogSize       int                                    `json:"catalog_size"`
	PixelAuto         state.AutoState                        `json:"pixel_auto"`
	ServerAuto        state.AutoState                        `json:"server_auto"`
	ServerAutoOptions *scheduler.Options                     `json:"server_auto_options,omitempty"`
	LastCAPIError     *model.CAPIError                       `json:"last_capi_error"`
	Counters          state.Counters                         `json:"counters"`
	Duplicates        int64                                  `json:"duplicates"`
	Ledger            LedgerInfo                             `json:"ledger"`
	Sinks             map[model.SinkName]dispatch.SinkHealth `json:"sinks"`
}

// LedgerInfo describes dedup ledger occupancy.
type LedgerInfo struct {
	Size     int `json:"size"`
	Capacity int `json:"capacity"`
}

// SelfTestRequest configures a self-test run.
type SelfTestRequest struct {
	DryRun *bool `json:"dry_run"`
}

// DispatchListResponse lists journaled events.
type DispatchListResponse struct {
	OK   bool                   `json:"ok"`
	Data []model.DispatchRecord `json:"data"`
}

// HealthResponse is the liveness body.
type HealthResponse struct {
	OK         bool                                   `json:"ok"`
	PixelReady bool                                   `json:"pixel_ready"`
	CAPIReady  bool                                   `json:"capi_ready"`
	GA4Ready   bool                                   `json:"ga4_ready"`
	Sinks      map[model.SinkName]dispatch.SinkHealth `json:"sinks,omitempty"`
	Time       time.Time                              `json:"time"`
}
