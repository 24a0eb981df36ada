package reliability

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// IsRetryableHTTPStatus classifies handshake and upload status codes worth
// another attempt.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableCloseCode reports whether a websocket close from an engine
// server signals a transient condition (restart, overload, dropped link).
func IsRetryableCloseCode(code int) bool {
	switch code {
	case websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseInternalServerErr,
		websocket.CloseServiceRestart,
		websocket.CloseTryAgainLater:
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

// Retry calls fn up to attempts times, sleeping with ExponentialBackoff
// between calls. fn reports whether its error is worth retrying; the last
// error is returned when attempts run out or fn declines a retry.
func Retry(ctx context.Context, attempts int, base, cap time.Duration, fn func(attempt int) (retry bool, err error)) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(ExponentialBackoff(attempt-1, base, cap)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		var retry bool
		retry, err = fn(attempt)
		if err == nil || !retry {
			return err
		}
	}
	return err
}
