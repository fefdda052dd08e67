package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/capisim/capisim/internal/model"
)

// CAPIConfig configures the Conversions API client.
type CAPIConfig struct {
	PixelID       string
	AccessToken   string
	TestEventCode string
	GraphVersion  string
	BaseURL       string
	PartnerAgent  string
	DryRun        bool

	// Outbound rate limit. Zero MaxRPS disables limiting.
	MaxRPS float64
	Burst  int

	HTTPClient *http.Client
}

// CAPIClient posts events to the Graph API events endpoint.
type CAPIClient struct {
	cfg     CAPIConfig
	client  *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

type capiRequest struct {
	Data         []model.Event `json:"data"`
	PartnerAgent string        `json:"partner_agent,omitempty"`
}

// NewCAPIClient creates a CAPIClient.
func NewCAPIClient(cfg CAPIConfig) *CAPIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://graph.facebook.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.GraphVersion == "" {
		cfg.GraphVersion = "v21.0"
	}

	client := cfg.HTTPClient
	if client == nil {
		client = NewHTTPClient(DefaultClientTimeout)
	}

	var limiter *rate.Limiter
	if cfg.MaxRPS > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxRPS), burst)
	}

	return &CAPIClient{
		cfg:     cfg,
		client:  client,
		limiter: limiter,
		now:     time.Now,
	}
}

// Configured reports whether pixel id and access token are both set.
func (c *CAPIClient) Configured() bool {
	return c.cfg.PixelID != "" && c.cfg.AccessToken != ""
}

// Live reports whether sends reach the network by default.
func (c *CAPIClient) Live() bool {
	return c.Configured() && !c.cfg.DryRun
}

// Endpoint returns the events URL without credentials.
func (c *CAPIClient) Endpoint() string {
	return fmt.Sprintf("%s/%s/%s/events", c.cfg.BaseURL, c.cfg.GraphVersion, url.PathEscape(c.cfg.PixelID))
}

// Send delivers ev as seen by the CAPI channel. Missing credentials, the
// configured dry-run flag or forceDryRun all produce a simulated dry_run
// outcome with no network I/O. Errors are reported in the outcome.
func (c *CAPIClient) Send(ctx context.Context, ev model.Event, forceDryRun bool) model.Outcome {
	out := model.Outcome{
		Sink:    model.SinkCAPI,
		EventID: ev.EventID,
		Payload: &ev,
	}

	if forceDryRun || !c.Live() {
		out.Status = model.StatusDryRun
		out.Simulated = true
		return out
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			out.Status = model.StatusError
			out.ErrorDetail = model.Some("rate limit wait: " + err.Error())
			return out
		}
	}

	body, err := json.Marshal(capiRequest{
		Data:         []model.Event{ev},
		PartnerAgent: c.cfg.PartnerAgent,
	})
	if err != nil {
		out.Status = model.StatusError
		out.ErrorDetail = model.Some("marshal payload: " + err.Error())
		return out
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.requestURL(), bytes.NewReader(body))
	if err != nil {
		out.Status = model.StatusError
		out.ErrorDetail = model.Some("create request: " + transportDetail(err))
		return out
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	start := c.now()
	resp, err := c.client.Do(req)
	out.SetLatency(c.now().Sub(start))
	if err != nil {
		out.Status = model.StatusError
		out.ErrorDetail = model.Some(transportDetail(err))
		return out
	}
	defer resp.Body.Close()

	out.HTTPCode = model.Some(resp.StatusCode)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		out.Status = model.StatusOK
		drainBody(resp.Body)
		return out
	}

	out.Status = model.StatusHTTPError
	out.ErrorDetail = model.Some((&HTTPStatusError{Code: resp.StatusCode, Body: readErrorBody(resp.Body)}).Error())
	return out
}

func (c *CAPIClient) requestURL() string {
	q := url.Values{}
	q.Set("access_token", c.cfg.AccessToken)
	if c.cfg.TestEventCode != "" {
		q.Set("test_event_code", c.cfg.TestEventCode)
	}
	return c.Endpoint() + "?" + q.Encode()
}
