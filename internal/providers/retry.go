package providers

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// RetryConfig controls RetryDo's backoff schedule.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig returns the retry policy used by all HTTP-based
// providers: a handful of attempts with exponential backoff, capped, so a
// transient 429/5xx doesn't fail a whole agent turn.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    15 * time.Second,
	}
}

// HTTPError wraps a non-2xx HTTP response from a provider back-end.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return "http " + strconv.Itoa(e.Status) + ": " + e.Body
}

// Retryable reports whether the status code is worth retrying: rate
// limits and transient server errors, not client errors like 400/401/403.
func (e *HTTPError) Retryable() bool {
	return e.Status == 429 || e.Status >= 500
}

// ParseRetryAfter parses a Retry-After header value (seconds, the only
// form providers in this set send) into a duration. Returns 0 if absent
// or unparsable, letting the caller fall back to its own backoff.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// RetryDo runs fn, retrying on transient HTTPErrors (429/5xx) and on
// context-independent transport errors, with exponential backoff honoring
// a server-supplied Retry-After when present. It does not retry once fn
// has returned a non-retryable error (4xx other than 429) or succeeded.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	delay := cfg.BaseDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		var httpErr *HTTPError
		if errors.As(err, &httpErr) && !httpErr.Retryable() {
			return zero, err
		}

		if attempt == cfg.MaxAttempts-1 {
			break
		}

		wait := delay
		var httpErr2 *HTTPError
		if errors.As(err, &httpErr2) && httpErr2.RetryAfter > 0 {
			wait = httpErr2.RetryAfter
		}
		if cfg.MaxDelay > 0 && wait > cfg.MaxDelay {
			wait = cfg.MaxDelay
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}

		delay *= 2
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return zero, lastErr
}
