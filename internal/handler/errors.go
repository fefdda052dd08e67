package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/capisim/capisim/internal/model"
	"github.com/capisim/capisim/internal/scheduler"
	"github.com/capisim/capisim/internal/state"
)

// validationErrors maps sentinel errors to API error codes. All of them
// answer 400.
var validationErrors = []struct {
	err  error
	code string
}{
	{model.ErrInvalidEventName, "INVALID_EVENT"},
	{model.ErrInvalidChannel, "INVALID_CHANNEL"},
	{model.ErrInvalidCurrency, "INVALID_CURRENCY"},
	{model.ErrInvalidEventID, "INVALID_EVENT_ID"},
	{model.ErrUnknownFault, "UNKNOWN_FAULT"},
	{model.ErrUnknownUserField, "UNKNOWN_USER_FIELD"},
	{state.ErrInvalidCatalogSize, "INVALID_CATALOG_SIZE"},
	{scheduler.ErrInvalidSchedule, "INVALID_SCHEDULE"},
	{scheduler.ErrInvalidSKUMode, "INVALID_SKU_MODE"},
}

// handleError maps an error to an HTTP response.
func handleError(w http.ResponseWriter, logger *slog.Logger, err error) {
	for _, v := range validationErrors {
		if errors.Is(err, v.err) {
			writeError(w, http.StatusBadRequest, v.code, err.Error())
			return
		}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	var sizeErr *http.MaxBytesError
	switch {
	case errors.As(err, &sizeErr):
		writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "Request body too large")
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr), errors.Is(err, io.ErrUnexpectedEOF):
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "ALREADY_RUNNING", err.Error())
	default:
		logger.Error("internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}
