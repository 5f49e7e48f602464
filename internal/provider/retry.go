package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"
)

// StatusError is a non-2xx upstream reply.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth another attempt (5xx, 429).
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// backoffUnit scales the quadratic backoff. Tests shrink it.
var backoffUnit = time.Second

// DoWithRetry executes an HTTP request, retrying transient failures (network
// errors, 5xx, 429) up to retries extra times with quadratic backoff and
// jitter. retries == 0 means a single attempt. Non-retryable non-2xx replies
// are returned as *StatusError.
func DoWithRetry(ctx context.Context, client *http.Client, retries int, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	if retries < 0 {
		retries = 0
	}
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			base := time.Duration(attempt*attempt) * backoffUnit
			jitter := time.Duration(rand.Int64N(int64(base/2 + 1)))
			backoff := base + jitter
			logger.Warn("retrying request", "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			if attempt < retries {
				logger.Warn("request failed, will retry", "err", err)
				continue
			}
			return nil, fmt.Errorf("request failed after %d attempts: %w", attempt+1, err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
			if statusErr.Retryable() && attempt < retries {
				logger.Warn("server error, will retry", "status", resp.StatusCode)
				lastErr = statusErr
				continue
			}
			return nil, statusErr
		}

		return resp, nil
	}

	return nil, lastErr
}
