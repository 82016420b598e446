package interceptor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/discoverly/edgeschema/internal/schema"
)

// BackendSubmitter submits pages to the analysis API over HTTP. It is used
// when the interceptor runs as a separate process from the backend.
type BackendSubmitter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewBackendSubmitter constructs a BackendSubmitter against the given base
// URL, e.g. "http://localhost:8080".
func NewBackendSubmitter(baseURL, apiKey string, timeout time.Duration) *BackendSubmitter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BackendSubmitter{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type submitRequest struct {
	URL         string `json:"url"`
	HTMLContent string `json:"htmlContent"`
}

// SubmitPage posts the page to the backend's job submission endpoint.
func (s *BackendSubmitter) SubmitPage(ctx context.Context, pageURL, htmlContent string) error {
	payload, err := json.Marshal(submitRequest{URL: pageURL, HTMLContent: htmlContent})
	if err != nil {
		return fmt.Errorf("marshal submit request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/jobs/analyze", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("submit page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("submit page: backend returned %d: %s", resp.StatusCode, body)
	}
	return nil
}

var _ schema.Submitter = (*BackendSubmitter)(nil)
