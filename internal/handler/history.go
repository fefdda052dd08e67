package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/capisim/capisim/internal/handler/dto"
	"github.com/capisim/capisim/internal/model"
	"github.com/capisim/capisim/internal/stream"
)

// JournalReader lists journaled dispatches.
type JournalReader interface {
	ListRecentDispatches(ctx context.Context, limit int) ([]model.DispatchRecord, error)
}

// StreamReader reads back the newest stream entries.
type StreamReader interface {
	Recent(ctx context.Context, n int64) ([]stream.EventPayload, error)
}

// HistoryHandler serves recent events from the Postgres journal and the
// Redis stream. Either source may be nil when not configured.
type HistoryHandler struct {
	journal JournalReader
	stream  StreamReader
	logger  *slog.Logger
}

// NewHistoryHandler creates a new HistoryHandler.
func NewHistoryHandler(journal JournalReader, stream StreamReader, logger *slog.Logger) *HistoryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryHandler{journal: journal, stream: stream, logger: logger}
}

// Dispatches handles GET /api/dispatches?limit=N.
func (h *HistoryHandler) Dispatches(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "NOT_CONFIGURED", "dispatch journal is not configured")
		return
	}

	records, err := h.journal.ListRecentDispatches(r.Context(), queryLimit(r))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	if records == nil {
		records = []model.DispatchRecord{}
	}
	writeJSON(w, http.StatusOK, dto.DispatchListResponse{OK: true, Data: records})
}

// StreamRecent handles GET /api/stream/recent?limit=N.
func (h *HistoryHandler) StreamRecent(w http.ResponseWriter, r *http.Request) {
	if h.stream == nil {
		writeError(w, http.StatusServiceUnavailable, "NOT_CONFIGURED", "event stream is not configured")
		return
	}

	limit := queryLimit(r)
	if limit <= 0 {
		limit = 50
	}
	entries, err := h.stream.Recent(r.Context(), int64(limit))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	if entries == nil {
		entries = []stream.EventPayload{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": entries})
}

// queryLimit parses ?limit, returning 0 (source default) when absent or
// invalid.
func queryLimit(r *http.Request) int {
	l := r.URL.Query().Get("limit")
	if l == "" {
		return 0
	}
	n, err := strconv.Atoi(l)
	if err != nil || n < 0 {
		return 0
	}
	if n > 500 {
		return 500
	}
	return n
}
