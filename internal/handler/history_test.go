package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capisim/capisim/internal/model"
	"github.com/capisim/capisim/internal/stream"
)

type fakeJournal struct {
	records []model.DispatchRecord
	limit   int
	err     error
}

func (f *fakeJournal) ListRecentDispatches(ctx context.Context, limit int) ([]model.DispatchRecord, error) {
	f.limit = limit
	return f.records, f.err
}

type fakeStream struct {
	n int64
}

func (f *fakeStream) Recent(ctx context.Context, n int64) ([]stream.EventPayload, error) {
	f.n = n
	return []stream.EventPayload{{EventName: string(model.EventPurchase), SKU: "SKU1"}}, nil
}

func TestHistory_NotConfigured(t *testing.T) {
	h := NewHistoryHandler(nil, nil, nil)

	rec, body := do(t, h.Dispatches, http.MethodGet, "/api/dispatches", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "NOT_CONFIGURED", body["code"])

	rec, _ = do(t, h.StreamRecent, http.MethodGet, "/api/stream/recent", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHistory_Dispatches(t *testing.T) {
	journal := &fakeJournal{records: []model.DispatchRecord{{ID: "01J", EventName: model.EventLead}}}
	h := NewHistoryHandler(journal, nil, nil)

	rec, body := do(t, h.Dispatches, http.MethodGet, "/api/dispatches?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, journal.limit)
	data := body["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "Lead", data[0].(map[string]any)["event_name"])

	do(t, h.Dispatches, http.MethodGet, "/api/dispatches?limit=abc", "")
	assert.Equal(t, 0, journal.limit)

	journal.err = errors.New("db down")
	rec, _ = do(t, h.Dispatches, http.MethodGet, "/api/dispatches", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHistory_StreamRecent(t *testing.T) {
	s := &fakeStream{}
	h := NewHistoryHandler(nil, s, nil)

	rec, body := do(t, h.StreamRecent, http.MethodGet, "/api/stream/recent", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(50), s.n)
	assert.Len(t, body["data"], 1)
}
