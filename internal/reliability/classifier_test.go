package reliability

import (
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{0, false},
		{200, false},
		{400, false},
		{401, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestIsRetryableRealtimeError(t *testing.T) {
	cases := []struct {
		errType, code string
		want          bool
	}{
		{"invalid_request_error", "rate_limit_exceeded", true},
		{"server_error", "", true},
		{"invalid_request_error", "invalid_api_key", false},
		{"server_error", "session_expired", false},
		{"invalid_request_error", "", false},
		{"", " Overloaded ", true},
	}
	for _, tc := range cases {
		if got := IsRetryableRealtimeError(tc.errType, tc.code); got != tc.want {
			t.Fatalf("IsRetryableRealtimeError(%q, %q) = %v, want %v", tc.errType, tc.code, got, tc.want)
		}
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 700 * time.Millisecond
	if got := ExponentialBackoff(0, base, capDur); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(2, base, capDur); got != 400*time.Millisecond {
		t.Fatalf("attempt 2 = %v, want %v", got, 400*time.Millisecond)
	}
	if got := ExponentialBackoff(10, base, capDur); got != capDur {
		t.Fatalf("attempt 10 = %v, want %v", got, capDur)
	}
}
