package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/capisim/capisim/internal/model"
)

// DefaultGA4Endpoint is the Measurement Protocol collect URL.
const DefaultGA4Endpoint = "https://www.google-analytics.com/mp/collect"

// GA4Config configures the GA4 Measurement Protocol sink.
type GA4Config struct {
	MeasurementID string
	APISecret     string
	Endpoint      string
	HTTPClient    *http.Client
}

// GA4Sink forwards events to GA4 using the Measurement Protocol.
type GA4Sink struct {
	cfg    GA4Config
	client *http.Client
}

// ga4Names maps standard event names to GA4 recommended events.
var ga4Names = map[model.EventName]string{
	model.EventPageView:             "page_view",
	model.EventViewContent:          "view_item",
	model.EventSearch:               "search",
	model.EventAddToCart:            "add_to_cart",
	model.EventAddToWishlist:        "add_to_wishlist",
	model.EventInitiateCheckout:     "begin_checkout",
	model.EventAddPaymentInfo:       "add_payment_info",
	model.EventPurchase:             "purchase",
	model.EventLead:                 "generate_lead",
	model.EventCompleteRegistration: "sign_up",
}

type ga4Request struct {
	ClientID string     `json:"client_id"`
	Events   []ga4Event `json:"events"`
}

type ga4Event struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

type ga4Item struct {
	ItemID   string   `json:"item_id"`
	ItemName string   `json:"item_name,omitempty"`
	Price    *float64 `json:"price,omitempty"`
}

// NewGA4Sink creates a GA4Sink.
func NewGA4Sink(cfg GA4Config) *GA4Sink {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultGA4Endpoint
	}
	client := cfg.HTTPClient
	if client == nil {
		client = NewHTTPClient(DefaultClientTimeout)
	}
	return &GA4Sink{cfg: cfg, client: client}
}

// Name implements Sink.
func (s *GA4Sink) Name() model.SinkName { return model.SinkGA4 }

// Send implements Sink.
func (s *GA4Sink) Send(ctx context.Context, ev model.Event) error {
	if s.cfg.MeasurementID == "" || s.cfg.APISecret == "" {
		return ErrNotConfigured
	}

	body, err := json.Marshal(ga4Request{
		ClientID: ga4ClientID(ev),
		Events:   []ga4Event{toGA4Event(ev)},
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	q := url.Values{}
	q.Set("measurement_id", s.cfg.MeasurementID)
	q.Set("api_secret", s.cfg.APISecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint+"?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %s", transportDetail(err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post ga4: %s", transportDetail(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPStatusError{Code: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}
	drainBody(resp.Body)
	return nil
}

func toGA4Event(ev model.Event) ga4Event {
	name, ok := ga4Names[ev.EventName]
	if !ok {
		name = strings.ToLower(string(ev.EventName))
	}

	params := map[string]any{
		"engagement_time_msec": 1,
	}
	if id, ok := ev.EventID.Get(); ok {
		params["event_id"] = id
	}
	if v, ok := ev.CustomData.Value.Get(); ok {
		params["value"] = v
	}
	if c, ok := ev.CustomData.Currency.Get(); ok {
		params["currency"] = c
	}
	if ev.EventSourceURL != "" {
		params["page_location"] = ev.EventSourceURL
	}

	items := make([]ga4Item, 0, len(ev.CustomData.ContentIDs))
	for _, id := range ev.CustomData.ContentIDs {
		item := ga4Item{ItemID: id, ItemName: ev.CustomData.ContentName}
		if p, ok := ev.CustomData.Price.Get(); ok {
			item.Price = &p
		}
		items = append(items, item)
	}
	if len(items) > 0 {
		params["items"] = items
	}

	return ga4Event{Name: name, Params: params}
}

// ga4ClientID reuses the browser id when present so GA4 can join sessions.
func ga4ClientID(ev model.Event) string {
	if fbp := ev.UserData.FBP; fbp != "" {
		return fbp
	}
	if id, ok := ev.EventID.Get(); ok && id != "" {
		return id
	}
	return "capisim"
}
