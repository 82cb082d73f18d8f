package myq

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"strings"
	"time"

	http "github.com/bogdanfinn/fhttp"
	"github.com/google/uuid"
)

const (
	// Bounded 429 ladder on the authorize endpoint: 60s x attempt number.
	maxAuthorizeAttempts = 3
	authorizeBackoffUnit = 60 * time.Second

	// Redirect hops are followed explicitly; five is plenty for the
	// authorize -> login-form chain.
	maxRedirectHops = 5

	navigationAccept = "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.9"
)

// authorization is the outcome of a successful credential scrape: the code to
// exchange and the scope the provider actually granted, which may be narrower
// than the one requested.
type authorization struct {
	Code  string
	Scope string
}

// tokenResponse is the token endpoint's reply to both grant types.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
}

// login performs one full login attempt: fresh PKCE pair, credential scrape,
// token exchange, then wholesale replacement of the stored token set. On any
// failure the previous token set is left untouched. Caller must hold c.mu.
func (c *Client) login(ctx context.Context) error {
	if c.cfg.Email == "" || c.cfg.Password == "" {
		return errors.New("email and password required (set MYQ_EMAIL and MYQ_PASSWORD)")
	}

	attempt := uuid.NewString()[:8]
	c.logger.Log("[%s] starting OAuth login for %s***", attempt, emailPrefix(c.cfg.Email))

	pkce, err := GeneratePKCE()
	if err != nil {
		return err
	}

	auth, err := c.scrapeLogin(ctx, attempt, pkce)
	if err != nil {
		return err
	}

	tr, err := c.exchangeCode(ctx, attempt, auth, pkce.Verifier)
	if err != nil {
		return err
	}

	scope := tr.Scope
	if scope == "" {
		scope = auth.Scope
	}

	ts := &TokenSet{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    c.now().Add(time.Duration(tr.ExpiresIn)*time.Second - time.Minute),
		Scope:        scope,
	}
	if prev := c.tokens; prev != nil {
		// Identity and the rotating bot cookie survive a re-login.
		ts.AccountID = prev.AccountID
		ts.DeviceSerial = prev.DeviceSerial
		ts.CFCookie = prev.CFCookie
	}

	c.tokens = ts
	c.persist()
	c.logger.Log("[%s] login successful, tokens saved", attempt)
	return nil
}

// scrapeLogin drives the multi-hop credential exchange against the authorize
// endpoint: GET the authorization page, follow its redirects with the cookie
// jar carrying every hop's cookies, scrape the hidden login form, POST the
// credentials and pull the authorization code out of the final redirect.
func (c *Client) scrapeLogin(ctx context.Context, attempt string, pkce *PKCE) (*authorization, error) {
	params := url.Values{
		"acr_values":            {"unified_flow:v1  brand:myq"}, // double space is intentional
		"client_id":             {oauthClientID},
		"code_challenge":        {pkce.Challenge},
		"code_challenge_method": {"S256"},
		"prompt":                {"login"},
		"ui_locales":            {"en-US"},
		"redirect_uri":          {oauthRedirectURI},
		"response_type":         {"code"},
		"scope":                 {defaultScope},
	}
	authURL := c.eps.AuthorizeURL + "?" + params.Encode()

	c.logger.Log("[%s] fetching authorization page", attempt)

	resp, err := c.authorizeWithBackoff(ctx, attempt, authURL)
	if err != nil {
		return nil, err
	}

	pageURL, _ := url.Parse(authURL)

	// Follow the redirect chain by hand; cookies set on an intermediate hop
	// are required by the next one and the jar only sees hops we make.
	for hop := 0; resp.StatusCode >= 300 && resp.StatusCode < 400; hop++ {
		if hop >= maxRedirectHops {
			drainBody(resp)
			return nil, &LoginError{Step: "authorize", Err: errors.New("too many redirects")}
		}
		loc := resp.Header.Get("Location")
		drainBody(resp)
		if loc == "" {
			return nil, &LoginError{Step: "authorize", Status: resp.StatusCode, Err: errors.New("redirect without Location header")}
		}
		ref, err := url.Parse(loc)
		if err != nil {
			return nil, &LoginError{Step: "authorize", Err: err}
		}
		pageURL = pageURL.ResolveReference(ref)

		resp, err = c.loginNavigate(ctx, pageURL.String())
		if err != nil {
			return nil, &LoginError{Step: "authorize", Err: err}
		}
	}

	body, err := readResponseBody(resp)
	resp.Body.Close()
	if err != nil {
		return nil, &LoginError{Step: "authorize", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &LoginError{Step: "authorize", Status: resp.StatusCode, Body: bodyPreview(body)}
	}

	html := string(body)
	if IsChallengePage(html) {
		return nil, &LoginError{Step: "authorize", Err: ErrChallengeRequired}
	}

	c.logger.Log("[%s] parsing login form", attempt)
	form, err := parseLoginForm(body, pageURL)
	if err != nil {
		return nil, &LoginError{Step: "parse-form", Err: err}
	}

	form.Fields.Set("Email", c.cfg.Email)
	form.Fields.Set("Password", c.cfg.Password)
	if form.Fields.Get("UnifiedFlowRequested") == "" {
		form.Fields.Set("UnifiedFlowRequested", "True")
	}
	if form.Fields.Get("brand") == "" {
		form.Fields.Set("brand", "myq")
	}

	c.logger.Log("[%s] submitting credentials", attempt)
	resp, err = c.loginSubmit(ctx, form.Action, form.Fields)
	if err != nil {
		return nil, &LoginError{Step: "submit", Err: err}
	}

	if resp.StatusCode != http.StatusFound && resp.StatusCode != http.StatusSeeOther {
		body, _ := readResponseBody(resp)
		resp.Body.Close()
		lower := strings.ToLower(string(body))
		if strings.Contains(lower, "invalid") || strings.Contains(lower, "incorrect") {
			return nil, &LoginError{Step: "submit", Status: resp.StatusCode, Err: ErrInvalidCredentials}
		}
		return nil, &LoginError{Step: "submit", Status: resp.StatusCode, Body: bodyPreview(body)}
	}

	// A real login sets at least two session cookies; fewer means the
	// provider bounced the credentials back to the form.
	if len(resp.Cookies()) < 2 {
		drainBody(resp)
		return nil, &LoginError{Step: "submit", Status: resp.StatusCode, Err: ErrInvalidCredentials}
	}

	redirectLoc := resp.Header.Get("Location")
	drainBody(resp)

	actionURL, _ := url.Parse(form.Action)
	ref, err := url.Parse(redirectLoc)
	if err != nil {
		return nil, &LoginError{Step: "redirect", Err: err}
	}

	c.logger.Log("[%s] following redirect for authorization code", attempt)
	resp, err = c.loginFollow(ctx, actionURL.ResolveReference(ref).String())
	if err != nil {
		return nil, &LoginError{Step: "redirect", Err: err}
	}
	finalRedirect := resp.Header.Get("Location")
	drainBody(resp)

	redirect, err := url.Parse(finalRedirect)
	if err != nil {
		return nil, &LoginError{Step: "redirect", Err: err}
	}
	query := redirect.Query()

	code := query.Get("code")
	if code == "" {
		return nil, &LoginError{Step: "redirect", Body: bodyPreview([]byte(finalRedirect)), Err: ErrMissingAuthorizationCode}
	}

	scope := query.Get("scope")
	if scope == "" {
		scope = defaultScope
	}

	c.logger.Log("[%s] got authorization code", attempt)
	return &authorization{Code: code, Scope: scope}, nil
}

// authorizeWithBackoff issues the initial authorize GET, backing off on 429
// with an increasing delay up to a bounded number of attempts.
func (c *Client) authorizeWithBackoff(ctx context.Context, attempt, authURL string) (*http.Response, error) {
	for try := 1; ; try++ {
		resp, err := c.loginNavigate(ctx, authURL)
		if err != nil {
			return nil, &LoginError{Step: "authorize", Err: err}
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
		drainBody(resp)

		if try >= maxAuthorizeAttempts {
			return nil, &LoginError{Step: "authorize", Status: resp.StatusCode, Err: ErrRateLimited}
		}

		wait := authorizeBackoffUnit * time.Duration(try)
		c.logger.Log("[%s] rate limited (429), waiting %s (attempt %d/%d)", attempt, wait, try, maxAuthorizeAttempts)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, &LoginError{Step: "authorize", Err: err}
		}
	}
}

// exchangeCode trades the authorization code and PKCE verifier for a token
// set. The scope sent is the one the provider granted during the scrape, not
// the one originally requested; echoing the wrong scope is rejected.
func (c *Client) exchangeCode(ctx context.Context, attempt string, auth *authorization, verifier string) (*tokenResponse, error) {
	c.logger.Log("[%s] exchanging authorization code for tokens", attempt)

	form := url.Values{
		"client_id":     {oauthClientID},
		"code":          {auth.Code},
		"code_verifier": {verifier},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {oauthRedirectURI},
		"scope":         {auth.Scope},
	}

	resp, err := c.tokenPost(ctx, form, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readResponseBody(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ExchangeError{Status: resp.StatusCode, Body: bodyPreview(body)}
	}

	return parseTokenResponse(body)
}

// refreshTokens mints a new access token from the stored refresh token,
// echoing the stored scope verbatim. On success the token set is mutated in
// place, keeping the previous refresh token when the provider does not rotate
// it. Caller must hold c.mu.
func (c *Client) refreshTokens(ctx context.Context) error {
	if c.tokens == nil || c.tokens.RefreshToken == "" {
		return errors.New("no refresh token available")
	}

	c.logger.Log("refreshing access token")

	form := url.Values{
		"client_id":     {oauthClientID},
		"client_secret": {oauthClientSecret},
		"grant_type":    {"refresh_token"},
		"redirect_uri":  {oauthRedirectURI},
		"refresh_token": {c.tokens.RefreshToken},
		"scope":         {c.tokens.Scope},
	}

	resp, err := c.tokenPost(ctx, form, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := readResponseBody(resp)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return &ExchangeError{Status: resp.StatusCode, Body: bodyPreview(body)}
	}

	tr, err := parseTokenResponse(body)
	if err != nil {
		return err
	}

	c.tokens.AccessToken = tr.AccessToken
	if tr.RefreshToken != "" {
		c.tokens.RefreshToken = tr.RefreshToken
	}
	if tr.Scope != "" {
		c.tokens.Scope = tr.Scope
	}
	c.tokens.ExpiresAt = c.now().Add(time.Duration(tr.ExpiresIn)*time.Second - time.Minute)
	c.persist()

	c.logger.Log("token refreshed")
	return nil
}

func parseTokenResponse(body []byte) (*tokenResponse, error) {
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &ExchangeError{Status: http.StatusOK, Body: bodyPreview(body)}
	}
	if tr.AccessToken == "" {
		return nil, &ExchangeError{Status: http.StatusOK, Body: bodyPreview(body)}
	}
	if tr.ExpiresIn <= 0 {
		tr.ExpiresIn = 1800
	}
	return &tr, nil
}

// tokenPost posts a form to the token endpoint with the native-app headers.
func (c *Client) tokenPost(ctx context.Context, form url.Values, isRefresh bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.eps.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}

	req.Header = http.Header{
		"Accept-Encoding":   {"gzip"},
		"App-Version":       {appVersion},
		"BrandId":           {"1"},
		"MyQApplicationId":  {appID},
		"User-Agent":        {c.profile.APIUserAgent},
		"Content-Type":      {"application/x-www-form-urlencoded"},
		http.HeaderOrderKey: {
			"Accept-Encoding",
			"App-Version",
			"BrandId",
			"MyQApplicationId",
			"User-Agent",
			"Content-Type",
			"isRefresh",
			"Content-Length",
			"Cookie",
		},
		http.PHeaderOrderKey: PseudoHeaderOrder,
	}
	if isRefresh {
		req.Header.Set("isRefresh", "true")
	}

	return c.doRequest(req)
}

// loginNavigate makes a browser-like navigation request.
func (c *Client) loginNavigate(ctx context.Context, pageURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}

	req.Header = http.Header{
		"upgrade-insecure-requests": {"1"},
		"user-agent":                {c.profile.UserAgent},
		"accept":                    {navigationAccept},
		"sec-fetch-site":            {"none"},
		"sec-fetch-mode":            {"navigate"},
		"sec-fetch-dest":            {"document"},
		"accept-encoding":           {"gzip, deflate, br"},
		"accept-language":           {"en-US,en;q=0.9"},
		http.HeaderOrderKey: {
			"upgrade-insecure-requests",
			"user-agent",
			"accept",
			"sec-fetch-site",
			"sec-fetch-mode",
			"sec-fetch-dest",
			"accept-encoding",
			"accept-language",
			"Cookie",
		},
		http.PHeaderOrderKey: PseudoHeaderOrder,
	}

	return c.doRequest(req)
}

// loginSubmit posts the scraped login form.
func (c *Client) loginSubmit(ctx context.Context, actionURL string, fields url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, actionURL, strings.NewReader(fields.Encode()))
	if err != nil {
		return nil, err
	}

	req.Header = http.Header{
		"cache-control":             {"max-age=0"},
		"origin":                    {"null"},
		"upgrade-insecure-requests": {"1"},
		"content-type":              {"application/x-www-form-urlencoded"},
		"user-agent":                {c.profile.UserAgent},
		"accept":                    {navigationAccept},
		"sec-fetch-site":            {"same-origin"},
		"sec-fetch-mode":            {"navigate"},
		"sec-fetch-user":            {"?1"},
		"sec-fetch-dest":            {"document"},
		"accept-encoding":           {"gzip, deflate, br"},
		"accept-language":           {"en-US,en;q=0.9"},
		http.HeaderOrderKey: {
			"cache-control",
			"origin",
			"content-length",
			"upgrade-insecure-requests",
			"content-type",
			"user-agent",
			"accept",
			"sec-fetch-site",
			"sec-fetch-mode",
			"sec-fetch-user",
			"sec-fetch-dest",
			"accept-encoding",
			"accept-language",
			"Cookie",
		},
		http.PHeaderOrderKey: PseudoHeaderOrder,
	}

	return c.doRequest(req)
}

// loginFollow fetches a post-login redirect target without following further
// redirects; the caller wants the next Location header.
func (c *Client) loginFollow(ctx context.Context, pageURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}

	req.Header = http.Header{
		"cache-control":             {"max-age=0"},
		"origin":                    {"null"},
		"upgrade-insecure-requests": {"1"},
		"user-agent":                {c.profile.UserAgent},
		"accept":                    {navigationAccept},
		"sec-fetch-site":            {"same-origin"},
		"sec-fetch-mode":            {"navigate"},
		"sec-fetch-user":            {"?1"},
		"sec-fetch-dest":            {"document"},
		"accept-encoding":           {"gzip, deflate, br"},
		"accept-language":           {"en-US,en;q=0.9"},
		http.HeaderOrderKey: {
			"cache-control",
			"origin",
			"upgrade-insecure-requests",
			"user-agent",
			"accept",
			"sec-fetch-site",
			"sec-fetch-mode",
			"sec-fetch-user",
			"sec-fetch-dest",
			"accept-encoding",
			"accept-language",
			"Cookie",
		},
		http.PHeaderOrderKey: PseudoHeaderOrder,
	}

	return c.doRequest(req)
}

func drainBody(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func emailPrefix(email string) string {
	if len(email) < 3 {
		return email
	}
	return email[:3]
}
