package repository

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/capisim/capisim/internal/model"
)

const (
	// DefaultListLimit is used when no limit is given.
	DefaultListLimit = 50
	// MaxListLimit caps a single page.
	MaxListLimit = 500
)

// Name implements dispatch.Sink.
func (r *Repository) Name() model.SinkName { return model.SinkJournal }

// Send implements dispatch.Sink by journaling ev.
func (r *Repository) Send(ctx context.Context, ev model.Event) error {
	_, err := r.InsertDispatch(ctx, ev, time.Now().UTC())
	return err
}

// InsertDispatch stores ev and returns the new row id.
func (r *Repository) InsertDispatch(ctx context.Context, ev model.Event, at time.Time) (string, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	id := ulid.MustNew(ulid.Timestamp(at), rand.Reader).String()
	query := `
		INSERT INTO dispatch_log (id, event_id, event_name, sku, value, currency, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.pool.Exec(ctx, query,
		id,
		nullable(ev.EventID),
		string(ev.EventName),
		nullableString(ev.SKU),
		nullable(ev.CustomData.Value),
		nullable(ev.CustomData.Currency),
		payload,
		at,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert dispatch: %w", err)
	}
	return id, nil
}

// ListRecentDispatches returns the newest journal rows first.
func (r *Repository) ListRecentDispatches(ctx context.Context, limit int) ([]model.DispatchRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	query := `
		SELECT id, event_id, event_name, sku, value, currency, payload, created_at
		FROM dispatch_log
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dispatches: %w", err)
	}
	defer rows.Close()

	records := make([]model.DispatchRecord, 0, limit)
	for rows.Next() {
		var (
			rec  model.DispatchRecord
			name string
			sku  *string
		)
		if err := rows.Scan(&rec.ID, &rec.EventID, &name, &sku, &rec.Value, &rec.Currency, &rec.Payload, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dispatch: %w", err)
		}
		rec.EventName = model.EventName(name)
		if sku != nil {
			rec.SKU = *sku
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dispatches: %w", err)
	}
	return records, nil
}

func nullable[T any](n model.Nullable[T]) *T {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
