package reliability

import "testing"

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
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
		code string
		want bool
	}{
		{"rate_limit_exceeded", true},
		{"server_error", true},
		{"invalid_api_key", false},
		{"audio_decode_failed", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsRetryableRealtimeError(tc.code); got != tc.want {
			t.Fatalf("IsRetryableRealtimeError(%q) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestIsFatalRealtimeError(t *testing.T) {
	cases := []struct {
		code string
		want bool
	}{
		{"invalid_api_key", true},
		{"session_expired", true},
		{"authentication_failed", true},
		{"rate_limit_exceeded", false},
		{"audio_decode_failed", false},
	}
	for _, tc := range cases {
		if got := IsFatalRealtimeError(tc.code); got != tc.want {
			t.Fatalf("IsFatalRealtimeError(%q) = %v, want %v", tc.code, got, tc.want)
		}
	}
}
