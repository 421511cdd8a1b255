package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// apiResponse is the raw outcome of one backend HTTP call.
type apiResponse struct {
	StatusCode int
	Body       []byte
}

// ok reports a 2xx status.
func (r *apiResponse) ok() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// transient reports whether a non-2xx status is worth retrying.
func (r *apiResponse) transient() bool {
	return r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= 500
}

// doJSON performs one JSON request against a backend. A non-nil error is a
// transport-level failure (timeout, connection refused, unreadable body) and
// is always treated as transient by callers.
func doJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, reqBody any) (*apiResponse, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		raw, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &apiResponse{StatusCode: resp.StatusCode, Body: raw}, nil
}

// sendFailure builds the normalized failure result for a backend HTTP outcome.
func sendFailure(backend string, resp *apiResponse, err error) *SendResult {
	if err != nil {
		return &SendResult{Success: false, Error: fmt.Sprintf("%s: %v", backend, err), Retryable: true}
	}
	return &SendResult{
		Success:   false,
		Error:     fmt.Sprintf("%s: unexpected status %d: %s", backend, resp.StatusCode, truncate(resp.Body, 200)),
		Retryable: resp.transient(),
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
