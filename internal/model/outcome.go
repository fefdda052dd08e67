package model

import "time"

// SinkName identifies a dispatch destination.
type SinkName string

const (
	SinkPixel   SinkName = "pixel"
	SinkCAPI    SinkName = "capi"
	SinkGA4     SinkName = "ga4"
	SinkFile    SinkName = "file"
	SinkWebhook SinkName = "webhook"
	SinkStream  SinkName = "stream"
	SinkJournal SinkName = "journal"
)

// Status is the result class of one send.
type Status string

const (
	StatusOK        Status = "ok"
	StatusDryRun    Status = "dry_run"
	StatusSkipped   Status = "skipped"
	StatusHTTPError Status = "http_error"
	StatusError     Status = "error"
)

// Outcome is the per-sink result of a dispatch.
type Outcome struct {
	Sink        SinkName          `json:"sink"`
	Status      Status            `json:"status"`
	HTTPCode    Nullable[int]     `json:"http_code"`
	LatencyMS   Nullable[float64] `json:"latency_ms"`
	ErrorDetail Nullable[string]  `json:"error_detail"`
	EventID     Nullable[string]  `json:"event_id"`
	Simulated   bool              `json:"simulated"`
	Duplicate   bool              `json:"duplicate"`
	Payload     *Event            `json:"payload,omitempty"`
}

// Succeeded reports whether the send went through, for real or simulated.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusOK || o.Status == StatusDryRun
}

// Failed reports whether the send was attempted and did not succeed.
func (o Outcome) Failed() bool {
	return o.Status == StatusHTTPError || o.Status == StatusError
}

// SetLatency records a round-trip duration in milliseconds.
func (o *Outcome) SetLatency(d time.Duration) {
	o.LatencyMS = Some(float64(d.Microseconds()) / 1000)
}

// CAPIError is the most recent CAPI failure kept in control state.
type CAPIError struct {
	At       time.Time     `json:"at"`
	Status   Status        `json:"status"`
	HTTPCode Nullable[int] `json:"http_code"`
	Detail   string        `json:"detail"`
	EventID  string        `json:"event_id,omitempty"`
}

// Product is one catalog entry.
type Product struct {
	SKU   string  `json:"sku"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	URL   string  `json:"url"`
	Image string  `json:"image"`
}
