package myq

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsTerminalLoginError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"challenge", &LoginError{Step: "authorize", Err: ErrChallengeRequired}, true},
		{"bad credentials", &LoginError{Step: "submit", Err: ErrInvalidCredentials}, true},
		{"rate limited", &LoginError{Step: "authorize", Err: ErrRateLimited}, true},
		{"exchange rejection", &ExchangeError{Status: 400, Body: `{"error":"invalid_grant"}`}, true},
		{"form not found", &LoginError{Step: "parse-form", Err: ErrFormNotFound}, false},
		{"missing code", &LoginError{Step: "redirect", Err: ErrMissingAuthorizationCode}, false},
		{"plain transport", errors.New("connection reset by peer"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTerminalLoginError(tt.err); got != tt.want {
				t.Errorf("IsTerminalLoginError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsRetryableError(t *testing.T) {
	if !IsRetryableError(errors.New("dial tcp: connection refused")) {
		t.Error("connection refused should be retryable")
	}
	if !IsRetryableError(fmt.Errorf("request failed: %w", errors.New("unexpected EOF"))) {
		t.Error("wrapped EOF should be retryable")
	}
	// Terminal login failures are never retryable, whatever their text says.
	if IsRetryableError(&LoginError{Step: "submit", Err: ErrInvalidCredentials}) {
		t.Error("credential rejection misclassified as retryable")
	}
	if IsRetryableError(nil) {
		t.Error("nil misclassified as retryable")
	}
}

func TestLoginErrorMessage(t *testing.T) {
	err := &LoginError{Step: "authorize", Status: 503, Body: "upstream unavailable", Err: errors.New("boom")}
	want := `login step "authorize" failed: boom (status 503): upstream unavailable`
	if got := err.Error(); got != want {
		t.Errorf("message = %q, want %q", got, want)
	}
}
