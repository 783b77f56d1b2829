package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	maxBackoff      = 30 * time.Second
	maxErrorBodyLen = 300
)

// HTTPError is a non-2xx marketplace response.
type HTTPError struct {
	API        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s api error (%d)", e.API, e.StatusCode)
	}
	return fmt.Sprintf("%s api error (%d): %s", e.API, e.StatusCode, e.Body)
}

// Retryable reports whether repeating the request may succeed.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// retryable is false only for HTTP errors the marketplace will answer the same way again.
func retryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}
	return true
}

// transport sends JSON requests with bounded retries on network errors, 429 and 5xx.
type transport struct {
	api        string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
	userAgent  string
	logger     zerolog.Logger
}

func newTransport(api string, timeout time.Duration, maxRetries int, backoff time.Duration, userAgent string, logger zerolog.Logger) *transport {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	if strings.TrimSpace(userAgent) == "" {
		userAgent = "finsign-bi/1.0"
	}
	return &transport{
		api:        api,
		client:     &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		backoff:    backoff,
		userAgent:  userAgent,
		logger:     logger,
	}
}

// do performs the request and returns the body of a 200 response.
func (t *transport) do(ctx context.Context, method, url string, headers map[string]string, payload any) ([]byte, error) {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", t.api, err)
		}
		body = encoded
	}

	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			delay := t.delay(attempt - 1)
			t.logger.Warn().Err(lastErr).Int("attempt", attempt).Dur("delay", delay).Msg("retrying request")
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
		}

		respBody, err := t.once(ctx, method, url, headers, body)
		if err == nil {
			return respBody, nil
		}
		lastErr = err

		if !retryable(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%s request failed after %d attempts: %w", t.api, t.maxRetries+1, lastErr)
}

func (t *transport) once(ctx context.Context, method, url string, headers map[string]string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", t.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{API: t.api, StatusCode: resp.StatusCode, Body: truncate(strings.TrimSpace(string(payload)), maxErrorBodyLen)}
	}
	return payload, nil
}

func (t *transport) delay(retry int) time.Duration {
	d := t.backoff << uint(retry)
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
