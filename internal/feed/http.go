package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// HTTPOptions parameterise the HTTP quote feed.
type HTTPOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// HTTP fetches market rates from a JSON quote endpoint
// (GET {base}/rates/{currency}).
type HTTP struct {
	opts    HTTPOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewHTTP constructs an HTTP feed driver.
func NewHTTP(opts HTTPOptions, logger zerolog.Logger) *HTTP {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTP{
		opts:    opts,
		logger:  logger.With().Str("component", "http_feed").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

type quoteResponse struct {
	Currency   string `json:"currency"`
	Rate       string `json:"rate"`
	ObservedAt string `json:"observed_at"`
	Source     string `json:"source"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// FetchRate retrieves one currency's market rate.
func (h *HTTP) FetchRate(ctx context.Context, currency string) (Quote, error) {
	if h.baseURL == "" {
		return Quote{}, errors.New("feed base url not configured")
	}
	if currency == "" {
		return Quote{}, errors.New("currency required")
	}

	endpoint := h.baseURL + "/rates/" + url.PathEscape(currency)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(h.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Quote{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return Quote{}, parseHTTPError(resp.StatusCode, payload)
	}

	var body quoteResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return Quote{}, err
	}

	rate, err := decimal.NewFromString(body.Rate)
	if err != nil {
		return Quote{}, fmt.Errorf("parse market rate: %w", err)
	}
	if !rate.IsPositive() {
		return Quote{}, errors.New("market rate must be positive")
	}

	observedAt := time.Now().UTC()
	if body.ObservedAt != "" {
		parsed, err := time.Parse(time.RFC3339, body.ObservedAt)
		if err != nil {
			return Quote{}, fmt.Errorf("parse observed_at: %w", err)
		}
		observedAt = parsed.UTC()
	}

	source := body.Source
	if source == "" {
		source = "http"
	}

	return Quote{
		Currency:   currency,
		MarketRate: rate,
		ObservedAt: observedAt,
		Source:     source,
	}, nil
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("feed api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("feed api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("feed api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("feed api error (%d)", status)
}

var _ RateFetcher = (*HTTP)(nil)
