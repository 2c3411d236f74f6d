package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	httpTimeout       = 10 * time.Second
	maxFetchRetries   = 5
	rateLimitBackoff  = 10 * time.Second
	networkBackoff    = 5 * time.Second
)

// httpCore is the shared retrying GET client. Rate-limit responses back off
// 10s, transient network/server errors 5s, up to five attempts each.
type httpCore struct {
	baseURL string
	client  *http.Client
}

func newHTTPCore(baseURL string) *httpCore {
	return &httpCore{
		baseURL: baseURL,
		client:  &http.Client{Timeout: httpTimeout},
	}
}

func (h *httpCore) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	u := h.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var lastErr error
	rateLimitRetries, networkRetries := 0, 0
	for rateLimitRetries < maxFetchRetries && networkRetries < maxFetchRetries {
		body, status, err := h.doGet(ctx, u)
		switch {
		case err != nil:
			networkRetries++
			lastErr = err
			if !sleepCtx(ctx, networkBackoff) {
				return ctx.Err()
			}
			continue
		case status == http.StatusTooManyRequests:
			rateLimitRetries++
			lastErr = fmt.Errorf("rate limited (429) fetching %s", path)
			if !sleepCtx(ctx, rateLimitBackoff) {
				return ctx.Err()
			}
			continue
		case status >= 500:
			networkRetries++
			lastErr = fmt.Errorf("server error %d fetching %s", status, path)
			if !sleepCtx(ctx, networkBackoff) {
				return ctx.Err()
			}
			continue
		case status != http.StatusOK:
			return fmt.Errorf("unexpected status %d fetching %s", status, path)
		}

		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decoding %s response: %w", path, err)
		}
		return nil
	}
	return fmt.Errorf("fetch %s failed after retries: %w", path, lastErr)
}

func (h *httpCore) doGet(ctx context.Context, u string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
