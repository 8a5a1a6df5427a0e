package feeds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// HTTPOptions parameterise a JSON price API feed.
type HTTPOptions struct {
	ID        string
	Endpoint  string
	Timeout   time.Duration
	UserAgent string
}

// HTTP fetches spot prices from a JSON price API.
type HTTP struct {
	opts   HTTPOptions
	logger zerolog.Logger
	client *http.Client
}

// NewHTTP constructs an HTTP price feed.
func NewHTTP(opts HTTPOptions, logger zerolog.Logger) *HTTP {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTP{
		opts:   opts,
		logger: logger.With().Str("component", "http_feed").Str("feed", opts.ID).Logger(),
		client: &http.Client{Timeout: timeout},
	}
}

func (h *HTTP) ID() string { return h.opts.ID }

// FetchPrice retrieves the latest spot price from the API.
func (h *HTTP) FetchPrice(ctx context.Context) (decimal.Decimal, time.Time, error) {
	if h.opts.Endpoint == "" {
		return decimal.Decimal{}, time.Time{}, errors.New("feed endpoint not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.opts.Endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(h.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "goldsynth/1.0")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, time.Time{}, parseHTTPError(resp.StatusCode, payload)
	}

	var priceRes priceResponse
	if err := json.Unmarshal(payload, &priceRes); err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}

	price, err := decimal.NewFromString(priceRes.Price)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, fmt.Errorf("parse price: %w", err)
	}
	if !price.IsPositive() {
		return decimal.Decimal{}, time.Time{}, errors.New("price returned non-positive")
	}

	reportedAt := time.Now()
	if priceRes.Timestamp > 0 {
		reportedAt = time.Unix(priceRes.Timestamp, 0)
	}

	return price, reportedAt, nil
}

type priceResponse struct {
	Price     string `json:"price"`
	Currency  string `json:"currency"`
	Timestamp int64  `json:"timestamp"`
}

type errorResponse struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Description != "" {
			return fmt.Errorf("price api error (%d): %s", status, apiErr.Description)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("price api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.ErrorType != "" {
			return fmt.Errorf("price api error (%d): %s", status, apiErr.ErrorType)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("price api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("price api error (%d)", status)
}

var _ Feed = (*HTTP)(nil)
