package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"sales-crm-docgen/internal/domain"
)

const maxErrorBody = 2 << 10

// postJSON sends body to url and returns the response when the status is 2xx.
// Any other status is turned into an error carrying a snippet of the reply.
func postJSON(ctx context.Context, hc *http.Client, provider, url string, headers map[string]string, body any) (*http.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", provider, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", provider, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, statusError(provider, resp)
}

func statusError(provider string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(snippet))
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%s http %d: %s: %w", provider, resp.StatusCode, msg, domain.ErrRateLimited)
	}
	return fmt.Errorf("%s http %d: %s", provider, resp.StatusCode, msg)
}

func trimBase(base, def string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return def
	}
	return base
}

func pickKey(reqKey, fallback string) (string, error) {
	if reqKey != "" {
		return reqKey, nil
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", domain.ErrNoCredential
}
