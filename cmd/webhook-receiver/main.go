// Command webhook-receiver accepts deliveries from the simulator's webhook
// sink, checks their signature and logs each event.
//
// Usage:
//
//	export WEBHOOK_SECRET=...
//	go run ./cmd/webhook-receiver
//
// Then point WEBHOOK_URL of the simulator at http://host:9000/webhook.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-chi/chi/v5"

	"github.com/capisim/capisim/internal/dispatch"
)

type config struct {
	Secret       string        `env:"WEBHOOK_SECRET"`
	Port         int           `env:"RECEIVER_PORT" envDefault:"9000"`
	ReplayWindow time.Duration `env:"REPLAY_WINDOW" envDefault:"5m"`
	MaxBodySize  int64         `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		logger.Error("failed to parse config", "error", err)
		os.Exit(1)
	}
	if cfg.Secret == "" {
		logger.Warn("WEBHOOK_SECRET not set, accepting unsigned deliveries")
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("webhook receiver listening", "addr", addr, "endpoint", "/webhook")
	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(newReceiver(cfg, logger)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func newRouter(rcv *receiver) http.Handler {
	r := chi.NewRouter()
	r.Post("/webhook", rcv.ServeHTTP)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return r
}

type receiver struct {
	cfg    config
	logger *slog.Logger
	now    func() time.Time
	// onDelivery, when set, observes each accepted payload.
	onDelivery func(dispatch.WebhookPayload)
}

func newReceiver(cfg config, logger *slog.Logger) *receiver {
	return &receiver{cfg: cfg, logger: logger, now: time.Now}
}

func (rc *receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, rc.cfg.MaxBodySize))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if rc.cfg.Secret != "" {
		if err := rc.verify(r.Header, body); err != nil {
			rc.logger.Warn("delivery rejected",
				"delivery_id", r.Header.Get(dispatch.HeaderDeliveryID),
				"error", err,
			)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	var payload dispatch.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	ev := payload.Event
	rc.logger.Info("delivery received",
		"delivery_id", payload.DeliveryID,
		"event_name", ev.EventName,
		"event_id", ev.EventID.OrZero(),
		"action_source", ev.ActionSource,
		"value", ev.CustomData.Value.OrZero(),
		"currency", ev.CustomData.Currency.OrZero(),
	)
	if rc.onDelivery != nil {
		rc.onDelivery(payload)
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"received"}`))
}

func (rc *receiver) verify(h http.Header, body []byte) error {
	sig := h.Get(dispatch.HeaderSignature)
	ts, err := strconv.ParseInt(h.Get(dispatch.HeaderTimestamp), 10, 64)
	if sig == "" || err != nil {
		return dispatch.ErrInvalidSignature
	}
	return dispatch.ValidateSignature(rc.cfg.Secret, sig, ts, body, rc.now(), rc.cfg.ReplayWindow)
}
