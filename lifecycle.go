package myq

import (
	"context"
	"time"
)

// authState is the lifecycle position of the current token set, derived
// under the lifecycle lock.
type authState int

const (
	stateAbsent authState = iota // no usable credentials at all
	stateValid                   // access token fresh, nothing to do
	stateNearExpiry              // inside the grace window, or already expired
)

func (s authState) String() string {
	switch s {
	case stateAbsent:
		return "absent"
	case stateValid:
		return "valid"
	default:
		return "near-expiry"
	}
}

// state classifies the current token set. Caller must hold c.mu.
func (c *Client) state(now time.Time) authState {
	if c.tokens == nil || (c.tokens.AccessToken == "" && c.tokens.RefreshToken == "") {
		return stateAbsent
	}
	if c.tokens.AccessToken == "" {
		// Refresh token only (e.g. externally captured); refreshable.
		return stateNearExpiry
	}
	if now.Before(c.tokens.ExpiresAt.Add(-c.cfg.GraceWindow)) {
		return stateValid
	}
	return stateNearExpiry
}

// EnsureValid guarantees a usable access token on return: absent state
// triggers a full login, a token inside the grace window is refreshed, and a
// failed refresh falls back to a full login. Both failing surfaces an
// AuthenticationError and leaves the previous token set untouched, so
// stale-but-present credentials remain available for best-effort use.
//
// All transitions are serialized: concurrent callers block until the
// in-flight login or refresh resolves and then observe its outcome, so a
// burst of callers produces at most one network login.
func (c *Client) EnsureValid(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureValidLocked(ctx)
}

func (c *Client) ensureValidLocked(ctx context.Context) error {
	switch c.state(c.now()) {
	case stateValid:
		return nil

	case stateAbsent:
		c.logger.Log("no tokens found, attempting login")
		if err := c.login(ctx); err != nil {
			return &AuthenticationError{LoginErr: err}
		}
		return nil

	default:
		refreshErr := c.refreshTokens(ctx)
		if refreshErr == nil {
			return nil
		}
		c.logger.Log("token refresh failed, attempting full login: %v", refreshErr)
		if loginErr := c.login(ctx); loginErr != nil {
			return &AuthenticationError{RefreshErr: refreshErr, LoginErr: loginErr}
		}
		return nil
	}
}

// relogin performs the single 401-triggered full re-login. rejected is the
// access token the downstream refused; when a concurrent caller already
// replaced it there is nothing to do.
func (c *Client) relogin(ctx context.Context, rejected string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens != nil && c.tokens.AccessToken != "" && c.tokens.AccessToken != rejected {
		return nil
	}
	if err := c.login(ctx); err != nil {
		return &AuthenticationError{LoginErr: err}
	}
	return nil
}

// Tokens returns a copy of the current token set, or nil when absent.
func (c *Client) Tokens() *TokenSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens == nil {
		return nil
	}
	cp := *c.tokens
	return &cp
}
