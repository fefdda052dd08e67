package model

import (
	"encoding/json"
	"time"
)

// DispatchRecord is one journaled event as stored in Postgres.
type DispatchRecord struct {
	ID        string          `json:"id"`
	EventID   *string         `json:"event_id"`
	EventName EventName       `json:"event_name"`
	SKU       string          `json:"sku,omitempty"`
	Value     *float64        `json:"value"`
	Currency  *string         `json:"currency"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
