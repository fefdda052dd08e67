package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// ErrNotConfigured is returned by a sink whose destination is not set.
var ErrNotConfigured = errors.New("sink not configured")

// HTTPStatusError is returned when a destination answers with a non-2xx status.
type HTTPStatusError struct {
	Code int
	Body string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.Code)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

// drainBody discards up to maxErrorBody bytes so the connection can be reused.
func drainBody(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, maxErrorBody))
}

// readErrorBody reads at most maxErrorBody bytes of a failed response.
// Graph API style {"error":{"message":...}} bodies are reduced to the message.
func readErrorBody(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var graph struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &graph) == nil && graph.Error.Message != "" {
		return graph.Error.Message
	}
	return strings.TrimSpace(string(raw))
}

// transportDetail strips the request URL from transport errors so that
// query-string credentials never reach logs or state.
func transportDetail(err error) string {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Op + ": " + uerr.Err.Error()
	}
	return err.Error()
}
