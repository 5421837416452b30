package barcode

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultBaseURL = "https://barcodeapi.org/api/128"

// APISource fetches rendered Code 128 images from barcodeapi.org. The API
// rate-limits and occasionally 503s, so each fetch retries with a short
// pause before giving up.
type APISource struct {
	baseURL    string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
}

func NewAPISource(baseURL string, maxRetries int) *APISource {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if maxRetries < 1 {
		maxRetries = 3
	}

	return &APISource{
		baseURL:    baseURL,
		client:     &http.Client{Timeout: 15 * time.Second},
		maxRetries: maxRetries,
		retryDelay: 2 * time.Second,
	}
}

func (s *APISource) Image(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("barcode text is empty")
	}
	endpoint := s.baseURL + "/" + url.PathEscape(text)

	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		payload, err := s.fetch(ctx, endpoint)
		if err == nil {
			return payload, nil
		}
		lastErr = err

		if attempt < s.maxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.retryDelay):
			}
		}
	}
	return nil, fmt.Errorf("barcode fetch for %q failed after %d attempts: %w", text, s.maxRetries, lastErr)
}

func (s *APISource) fetch(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
