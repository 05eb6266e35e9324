package health

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxBodySnippet bounds how much of a not-ready response ends up in the message
const maxBodySnippet = 256

// HTTPChecker probes the health endpoint of a web-service decider. Only a
// 2xx answer counts as ready: decider servers typically reply 503 with a
// short reason while the model is still loading.
type HTTPChecker struct {
	URL    string
	Client *http.Client
}

// NewHTTPChecker creates a checker for url with a 5 second request timeout
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		URL:    url,
		Client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Check performs a GET on the health URL
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return newResult(start, false, "invalid request: %v", err)
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return newResult(start, false, "request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return newResult(start, true, "HTTP %d", resp.StatusCode)
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySnippet))
	if body := strings.TrimSpace(string(snippet)); body != "" {
		return newResult(start, false, "HTTP %d: %s", resp.StatusCode, body)
	}
	return newResult(start, false, "HTTP %d", resp.StatusCode)
}

// Type returns the health check type
func (h *HTTPChecker) Type() CheckType {
	return CheckTypeHTTP
}

// WithTimeout sets the per-request timeout
func (h *HTTPChecker) WithTimeout(timeout time.Duration) *HTTPChecker {
	h.Client.Timeout = timeout
	return h
}
