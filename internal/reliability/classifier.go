package reliability

import "strings"

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableRealtimeError classifies retryable upstream realtime error codes.
func IsRetryableRealtimeError(code string) bool {
	switch code {
	case "rate_limit_exceeded", "rate_limited", "server_error", "service_unavailable", "resource_exhausted":
		return true
	default:
		return false
	}
}

// IsFatalRealtimeError reports whether an upstream error code should end the
// session rather than surface as a recoverable error event.
func IsFatalRealtimeError(code string) bool {
	switch code {
	case "invalid_api_key", "invalid_request_error", "session_expired", "token_expired":
		return true
	}
	return strings.HasPrefix(code, "auth")
}
