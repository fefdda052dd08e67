package handler

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/capisim/capisim/internal/handler/dto"
	"github.com/capisim/capisim/internal/model"
	"github.com/capisim/capisim/internal/service"
)

// SendHandler serves manual sends and the self-test.
type SendHandler struct {
	sim    *service.Simulator
	logger *slog.Logger
}

// NewSendHandler creates a new SendHandler.
func NewSendHandler(sim *service.Simulator, logger *slog.Logger) *SendHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SendHandler{sim: sim, logger: logger}
}

// ManualSend handles POST /api/manual/send. ok is false when a primary
// channel failed; the outcomes say why.
func (h *SendHandler) ManualSend(w http.ResponseWriter, r *http.Request) {
	var req dto.ManualSendRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, h.logger, err)
		return
	}
	controls, err := req.Controls.Decode()
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	res, err := h.sim.Send(r.Context(), service.SendInput{
		Event:    model.EventName(strings.TrimSpace(req.Event)),
		SKU:      strings.TrimSpace(req.SKU),
		Channel:  model.Channel(req.Channel),
		Controls: controls,
		Session:  sessionFromRequest(r),
	})
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	ok := true
	for _, o := range []*model.Outcome{res.Pixel, res.CAPI} {
		if o != nil && o.Failed() {
			ok = false
		}
	}

	writeJSON(w, http.StatusOK, dto.ManualSendResponse{
		OK:        ok,
		EventID:   res.EventID,
		Pixel:     res.Pixel,
		CAPI:      res.CAPI,
		Secondary: res.Secondary,
	})
}

// SelfTest handles POST /selftest/run. The battery is dry-run unless the
// body asks otherwise.
func (h *SendHandler) SelfTest(w http.ResponseWriter, r *http.Request) {
	var req dto.SelfTestRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, h.logger, err)
		return
	}
	dryRun := req.DryRun == nil || *req.DryRun

	report, err := h.sim.SelfTest(r.Context(), dryRun)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     report.Pass,
		"report": report,
	})
}

// sessionFromRequest collects the identity signals a browser would carry.
// The first X-Forwarded-For hop wins over the socket address.
func sessionFromRequest(r *http.Request) model.Session {
	s := model.Session{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}
	if c, err := r.Cookie("_fbp"); err == nil {
		s.FBP = c.Value
	}
	if c, err := r.Cookie("_fbc"); err == nil {
		s.FBC = c.Value
	}
	return s
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
