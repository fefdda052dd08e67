package dispatch

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capisim/capisim/internal/model"
)

func TestFileSink_AppendsJSONLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "events.jsonl")
	s, err := NewFileSink(path)
	require.NoError(t, err)

	require.NoError(t, s.Send(context.Background(), testEvent()))
	require.NoError(t, s.Send(context.Background(), testEvent()))
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec struct {
			Event map[string]any `json:"event"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		assert.Equal(t, "Purchase", rec.Event["event_name"])
		lines++
	}
	assert.Equal(t, 2, lines)

	assert.Error(t, s.Send(context.Background(), testEvent()), "send after close fails")
}

func TestWebhookSink_SignsPayload(t *testing.T) {
	t.Parallel()

	const secret = "whsec_test"
	received := make(chan *http.Request, 1)
	var body []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		received <- r
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewWebhookSink(WebhookConfig{
		URL:     srv.URL,
		Headers: map[string]string{"X-Tenant": "demo"},
		Secret:  secret,
	})
	require.NoError(t, s.Send(context.Background(), testEvent()))

	r := <-received
	assert.Equal(t, "demo", r.Header.Get("X-Tenant"))
	assert.NotEmpty(t, r.Header.Get(HeaderDeliveryID))

	ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
	require.NoError(t, err)
	err = ValidateSignature(secret, r.Header.Get(HeaderSignature), ts, body, time.Now(), DefaultReplayWindow)
	assert.NoError(t, err)

	var payload WebhookPayload
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, r.Header.Get(HeaderDeliveryID), payload.DeliveryID)
	assert.Equal(t, model.EventPurchase, payload.Event.EventName)
}

func TestWebhookSink_Errors(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, NewWebhookSink(WebhookConfig{}).Send(context.Background(), testEvent()), ErrNotConfigured)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	err := NewWebhookSink(WebhookConfig{URL: srv.URL}).Send(context.Background(), testEvent())
	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.Code)
	assert.Equal(t, "upstream down", statusErr.Body)
}

func TestGA4Sink_MapsEvent(t *testing.T) {
	t.Parallel()

	var query map[string][]string
	var req ga4Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ev := testEvent()
	ev.UserData.FBP = "fb.1.123.456"

	s := NewGA4Sink(GA4Config{MeasurementID: "G-TEST", APISecret: "sec", Endpoint: srv.URL})
	require.NoError(t, s.Send(context.Background(), ev))

	assert.Equal(t, []string{"G-TEST"}, query["measurement_id"])
	assert.Equal(t, []string{"sec"}, query["api_secret"])
	assert.Equal(t, "fb.1.123.456", req.ClientID)
	require.Len(t, req.Events, 1)
	assert.Equal(t, "purchase", req.Events[0].Name)
	assert.Equal(t, "USD", req.Events[0].Params["currency"])
	assert.Equal(t, 12.5, req.Events[0].Params["value"])
}

func TestGA4Sink_NullsAreOmitted(t *testing.T) {
	t.Parallel()

	ev := testEvent()
	ev.CustomData.Currency = model.Null[string]()
	ev.CustomData.Price = model.Null[float64]()
	ev.EventName = "MyCustomEvent"

	got := toGA4Event(ev)
	assert.Equal(t, "mycustomevent", got.Name)
	_, hasCurrency := got.Params["currency"]
	assert.False(t, hasCurrency)
	items := got.Params["items"].([]ga4Item)
	assert.Nil(t, items[0].Price)
}

func TestGA4Sink_NotConfigured(t *testing.T) {
	t.Parallel()

	err := NewGA4Sink(GA4Config{}).Send(context.Background(), testEvent())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestWebhookSink_SingleAttempt(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewWebhookSink(WebhookConfig{URL: srv.URL}).Send(context.Background(), testEvent())
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, int32(1), hits.Load(), "failures are not retried")
}
