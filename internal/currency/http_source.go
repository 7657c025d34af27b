package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPSource reads pair rates from an exchange-rate API of the form
// GET {base}/{key}/pair/{from}/{to}.
type HTTPSource struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

type pairResponse struct {
	Result         string          `json:"result"`
	ErrorType      string          `json:"error-type,omitempty"`
	ConversionRate decimal.Decimal `json:"conversion_rate"`
}

func NewHTTPSource(baseURL, apiKey string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSource{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSource) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	if s.apiKey == "" {
		return decimal.Zero, ErrMissingCredentials
	}

	url := fmt.Sprintf("%s/%s/pair/%s/%s", s.baseURL, s.apiKey, Normalize(from), Normalize(to))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to build rate request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: rate API returned status %d", ErrRateUnavailable, resp.StatusCode)
	}

	var body pairResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode rate response: %w", err)
	}
	if body.Result != "success" {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrRateUnavailable, body.ErrorType)
	}
	return body.ConversionRate, nil
}
