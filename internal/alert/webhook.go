package alert

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ppiankov/icsrisk/internal/config"
)

const (
	requestTimeout = 5 * time.Second
	maxAttempts    = 3
	maxRetryAfter  = 30 * time.Second
)

var httpClient = &http.Client{Timeout: requestTimeout}

// retryDelay is the backoff before retry attempt n (1-based) when the
// receiver gives no Retry-After.
var retryDelay = func(attempt int) time.Duration { return time.Duration(1<<(attempt-1)) * time.Second }

// Send posts an alert event to a webhook. Transport errors, 5xx and 429
// are retried; other 4xx responses are final.
func Send(ctx context.Context, cfg config.WebhookConfig, event Event) error {
	body, err := FormatPayload(cfg.Format, event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	var (
		lastErr error
		wait    time.Duration
	)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if wait == 0 {
				wait = retryDelay(attempt)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		var status int
		status, wait, err = post(ctx, cfg, body)
		switch {
		case err != nil:
			lastErr = err
		case status >= 200 && status < 300:
			return nil
		case status == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("webhook throttled: HTTP %d", status)
		case status >= 400 && status < 500:
			return fmt.Errorf("webhook rejected: HTTP %d", status)
		default:
			lastErr = fmt.Errorf("webhook server error: HTTP %d", status)
		}
	}
	return fmt.Errorf("webhook failed after %d attempts: %w", maxAttempts, lastErr)
}

// post performs one delivery and returns the status and any Retry-After.
func post(ctx context.Context, cfg config.WebhookConfig, body []byte) (int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "icsrisk-alert")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, retryAfter(resp.Header.Get("Retry-After")), nil
}

// retryAfter parses a delay-seconds Retry-After, capped at maxRetryAfter.
// HTTP-date values and garbage yield 0, meaning use the default backoff.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return min(time.Duration(secs)*time.Second, maxRetryAfter)
}
