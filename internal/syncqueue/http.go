package syncqueue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ngmaloney/marine-depth/internal/store"
)

// HTTPSubmitter POSTs each item's JSON payload to the remote API. The item id
// is sent as the idempotency key so a retried submission is not applied twice.
type HTTPSubmitter struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPSubmitter creates a submitter for endpoint.
func NewHTTPSubmitter(endpoint string) *HTTPSubmitter {
	return &HTTPSubmitter{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Submit sends one item. Any non-2xx response is an error.
func (s *HTTPSubmitter) Submit(ctx context.Context, item store.SyncItem) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(item.Payload))
	if err != nil {
		return fmt.Errorf("building sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", item.ID)
	req.Header.Set("X-Sync-Type", item.Type)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("submitting %s: %w", item.Type, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("submitting %s: status %d: %s", item.Type, resp.StatusCode, bytes.TrimSpace(body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
