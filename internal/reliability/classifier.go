package reliability

import (
	"strings"
	"time"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableRealtimeError classifies error events received on the realtime
// transcription socket. errType is the envelope error type, code the optional
// provider code.
func IsRetryableRealtimeError(errType, code string) bool {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "rate_limit_exceeded", "rate_limited", "resource_exhausted", "server_error", "overloaded", "queue_overflow":
		return true
	case "invalid_api_key", "session_expired", "invalid_value", "unknown_parameter", "model_not_found":
		return false
	}
	switch strings.ToLower(strings.TrimSpace(errType)) {
	case "server_error", "rate_limit_error":
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
