package httpclient

import (
	"net/http"
	"testing"
	"time"
)

func TestParseOpenAIHeaders(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "12")
	headers.Set("x-ratelimit-remaining-requests", "42")
	headers.Set("x-ratelimit-remaining-tokens", "10000")

	info := ParseOpenAIHeaders(headers)

	if info.RetryAfter != 12*time.Second {
		t.Errorf("RetryAfter = %v, want 12s", info.RetryAfter)
	}
	if info.RequestsRemaining != 42 {
		t.Errorf("RequestsRemaining = %d, want 42", info.RequestsRemaining)
	}
	if info.TokensRemaining != 10000 {
		t.Errorf("TokensRemaining = %d, want 10000", info.TokensRemaining)
	}
}

func TestParseOpenAIHeaders_Empty(t *testing.T) {
	info := ParseOpenAIHeaders(http.Header{})

	if info.RetryAfter != 0 {
		t.Errorf("RetryAfter = %v, want 0", info.RetryAfter)
	}
	if info.ResetTime != 0 {
		t.Errorf("ResetTime = %d, want 0", info.ResetTime)
	}
}

func TestParseRetryAfterHeader(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "5")

	info := ParseRetryAfterHeader(headers)
	if info.RetryAfter != 5*time.Second {
		t.Errorf("RetryAfter = %v, want 5s", info.RetryAfter)
	}

	info = ParseRetryAfterHeader(http.Header{})
	if info.RetryAfter != 0 {
		t.Errorf("RetryAfter = %v, want 0 for missing header", info.RetryAfter)
	}
}
