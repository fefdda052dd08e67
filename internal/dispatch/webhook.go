package dispatch

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/capisim/capisim/internal/model"
)

// Webhook header names.
const (
	HeaderSignature  = "X-Capisim-Signature"
	HeaderTimestamp  = "X-Capisim-Timestamp"
	HeaderDeliveryID = "X-Capisim-Delivery-Id"
)

// WebhookConfig configures the webhook sink.
type WebhookConfig struct {
	URL     string
	Headers map[string]string
	// Secret enables HMAC signing when set.
	Secret     string
	HTTPClient *http.Client
}

// WebhookSink posts each event as JSON to a configured URL.
type WebhookSink struct {
	cfg    WebhookConfig
	client *http.Client
	now    func() time.Time
}

// WebhookPayload is the body of one webhook delivery.
type WebhookPayload struct {
	DeliveryID string      `json:"delivery_id"`
	SentAt     time.Time   `json:"sent_at"`
	Event      model.Event `json:"event"`
}

// NewWebhookSink creates a WebhookSink.
func NewWebhookSink(cfg WebhookConfig) *WebhookSink {
	client := cfg.HTTPClient
	if client == nil {
		client = NewHTTPClient(DefaultClientTimeout)
	}
	return &WebhookSink{cfg: cfg, client: client, now: time.Now}
}

// Name implements Sink.
func (s *WebhookSink) Name() model.SinkName { return model.SinkWebhook }

// Send implements Sink. Each event is delivered once.
func (s *WebhookSink) Send(ctx context.Context, ev model.Event) error {
	if s.cfg.URL == "" {
		return ErrNotConfigured
	}

	now := s.now().UTC()
	deliveryID := ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()

	body, err := json.Marshal(WebhookPayload{
		DeliveryID: deliveryID,
		SentAt:     now,
		Event:      ev,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	return s.deliver(ctx, deliveryID, body)
}

func (s *WebhookSink) deliver(ctx context.Context, deliveryID string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderDeliveryID, deliveryID)
	if s.cfg.Secret != "" {
		ts := s.now().Unix()
		req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(HeaderSignature, GenerateSignature(s.cfg.Secret, ts, body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %s", transportDetail(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPStatusError{Code: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}
	drainBody(resp.Body)
	return nil
}
