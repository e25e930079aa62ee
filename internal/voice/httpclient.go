package voice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/discord-voice-chat/internal/logging"
	"github.com/discord-voice-chat/internal/resilience"
)

// maxResponseBytes bounds bodies read from STT/TTS engines.
const maxResponseBytes = 32 << 20

// StatusError is a non-2xx reply from an engine.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Body)
}

// httpPoster posts to one engine endpoint with retries and a breaker.
type httpPoster struct {
	name      string
	client    *http.Client
	authToken string
	retry     resilience.RetryConfig
	breaker   *resilience.Breaker
}

func newHTTPPoster(name string, client *http.Client, authToken string) *httpPoster {
	if client == nil {
		client = &http.Client{}
	}
	return &httpPoster{
		name:      name,
		client:    client,
		authToken: authToken,
		retry:     resilience.DefaultRetryConfig(),
		breaker:   resilience.NewBreaker(resilience.DefaultBreakerConfig(name)),
	}
}

// PostWithRetries posts body to url and returns the 2xx response body. 5xx,
// 429 and network errors are retried; the breaker fails fast while the
// engine keeps failing.
func (h *httpPoster) PostWithRetries(ctx context.Context, url, contentType string, body []byte, correlationID string) ([]byte, error) {
	var out []byte
	err := resilience.Retry(ctx, h.retry, func(ctx context.Context) error {
		b, err := resilience.Call(ctx, h.breaker, func(ctx context.Context) ([]byte, error) {
			return h.post(ctx, url, contentType, body, correlationID)
		})
		if err != nil {
			logging.Debugw("voice: POST attempt failed", "engine", h.name, "correlation_id", correlationID, "err", err)
			return err
		}
		out = b
		return nil
	})
	return out, err
}

func (h *httpPoster) post(ctx context.Context, url, contentType string, body []byte, correlationID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	if h.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+h.authToken)
	}
	if correlationID != "" {
		req.Header.Set("X-Correlation-ID", correlationID)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resilience.Retryable(err)
	}
	if resp.StatusCode >= 300 {
		serr := &StatusError{Status: resp.StatusCode, Body: truncateBody(b)}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, resilience.Retryable(serr)
		}
		return nil, serr
	}
	return b, nil
}

func truncateBody(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
