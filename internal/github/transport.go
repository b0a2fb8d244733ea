// internal/github/transport.go
package github

import (
	"io"
	"net/http"
	"strconv"
	"time"

	custom_errors "github-geo-collector/internal/errors"
)

const maxErrorBody = 512

// statusTransport turns non-2xx responses into *errors.StatusError so the retry classifier
// sees the HTTP status for both the GraphQL and REST clients.
type statusTransport struct {
	base http.RoundTripper
	now  func() time.Time
}

func (t *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return nil, &custom_errors.StatusError{
		Code:       resp.StatusCode,
		Body:       string(body),
		RetryAfter: retryAfter(resp.Header, t.now()),
	}
}

// retryAfter reads Retry-After (seconds) or, for an exhausted primary limit, X-RateLimit-Reset.
func retryAfter(h http.Header, now time.Time) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if h.Get("X-RateLimit-Remaining") == "0" {
		if reset, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64); err == nil {
			if d := time.Unix(reset, 0).Sub(now); d > 0 {
				return d
			}
		}
	}
	return 0
}
