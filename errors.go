package myq

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Sentinel errors for the credential-flow scraper.
var (
	// ErrChallengeRequired indicates the identity provider served an
	// interactive bot-verification page instead of the login form. No
	// credentials path can resolve it; do not retry automatically.
	ErrChallengeRequired = errors.New("interactive browser verification required")

	// ErrInvalidCredentials indicates the provider rejected the email/password
	// pair. Retrying with the same credentials will not help.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrFormNotFound indicates the login page did not contain the expected
	// anti-forgery token field. Usually a transient scrape failure.
	ErrFormNotFound = errors.New("login form verification token not found")

	// ErrMissingAuthorizationCode indicates the post-login redirect did not
	// carry an authorization code.
	ErrMissingAuthorizationCode = errors.New("no authorization code in redirect")

	// ErrRateLimited indicates the authorize endpoint kept returning 429 after
	// the bounded backoff ladder was exhausted.
	ErrRateLimited = errors.New("rate limited by identity provider")
)

// LoginError wraps a failure in one step of the scraped login flow with
// enough context to diagnose it without rerunning: the step name, the HTTP
// status observed and a truncated body preview.
type LoginError struct {
	Step   string
	Status int
	Body   string
	Err    error
}

func (e *LoginError) Error() string {
	msg := fmt.Sprintf("login step %q failed", e.Step)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *LoginError) Unwrap() error {
	return e.Err
}

// ExchangeError indicates the token endpoint rejected the authorization code
// or PKCE verifier. Terminal for the attempt that produced it.
type ExchangeError struct {
	Status int
	Body   string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed: status %d: %s", e.Status, e.Body)
}

// AuthenticationError is surfaced when every recovery path failed: the
// refresh attempt (if one was possible) and the full re-login. The previously
// stored token set is left untouched so stale-but-present credentials remain
// available for best-effort use.
type AuthenticationError struct {
	RefreshErr error
	LoginErr   error
}

func (e *AuthenticationError) Error() string {
	if e.RefreshErr != nil {
		return fmt.Sprintf("authentication failed: refresh: %v; login: %v", e.RefreshErr, e.LoginErr)
	}
	return fmt.Sprintf("authentication failed: login: %v", e.LoginErr)
}

func (e *AuthenticationError) Unwrap() error {
	return e.LoginErr
}

// APIError is a downstream call that failed after a valid token was attached.
// Not retried, except for the single 401-triggered re-login in Client.do.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// Unauthorized reports whether the downstream rejected the bearer token.
func (e *APIError) Unauthorized() bool {
	return e.Status == 401
}

// IsTerminalLoginError reports whether a failed login attempt should not be
// retried by the caller: challenge pages, bad credentials, exhausted rate
// limiting and token-endpoint rejections fall in this bucket. FormNotFound,
// MissingAuthorizationCode and plain transport failures are transient scrape
// failures, eligible for caller-level retry with backoff.
func IsTerminalLoginError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrChallengeRequired) || errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrRateLimited) {
		return true
	}
	var ee *ExchangeError
	return errors.As(err, &ee)
}

// retryableErrorPatterns contains error message substrings that indicate retryable transport errors.
var retryableErrorPatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"i/o timeout",
	"context deadline exceeded",
	"TLS handshake timeout",
	"EOF",
	"malformed HTTP response",
	"transport connection broken",
	"use of closed network connection",
}

// IsRetryableError checks if the error is temporary and worth retrying.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if IsTerminalLoginError(err) {
		return false
	}

	if isNetworkTimeout(err) {
		return true
	}

	return containsRetryablePattern(err.Error())
}

func isNetworkTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func containsRetryablePattern(errStr string) bool {
	for _, pattern := range retryableErrorPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// bodyPreview truncates a response body for inclusion in error messages.
func bodyPreview(body []byte) string {
	const max = 500
	s := string(body)
	if len(s) > max {
		return s[:max]
	}
	return s
}
