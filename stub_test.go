package myq

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	nethttp "net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

const (
	stubEmail    = "user@example.com"
	stubPassword = "hunter2"
	stubAuthCode = "CODE123"
	stubCSRF     = "tok-1138"
)

// stubProvider fakes the identity provider: authorize page, login form,
// redirect chain, token endpoint (both grant types).
type stubProvider struct {
	t   *testing.T
	srv *httptest.Server

	mu             sync.Mutex
	authorizeHits  int
	formPosts      int
	exchangeHits   int
	refreshHits    int
	sleeps         []time.Duration
	issuedChall    string // code_challenge seen at authorize
	callbackCookie string // Cookie header observed at the callback hop

	// knobs
	rateLimit      bool
	serveChallenge bool
	loginCookies   int
	omitCode       bool
	refreshFail    bool
	refreshOmitRT  bool
	grantedScope   string
	accessToken    string
}

func newStubProvider(t *testing.T) *stubProvider {
	s := &stubProvider{
		t:            t,
		loginCookies: 2,
		grantedScope: defaultScope,
		accessToken:  "at-1",
	}

	mux := nethttp.NewServeMux()
	mux.HandleFunc("/connect/authorize", s.handleAuthorize)
	mux.HandleFunc("/Account/Login", s.handleLogin)
	mux.HandleFunc("/connect/authorize/callback", s.handleCallback)
	mux.HandleFunc("/connect/token", s.handleToken)

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *stubProvider) handleAuthorize(w nethttp.ResponseWriter, r *nethttp.Request) {
	s.mu.Lock()
	s.authorizeHits++
	s.issuedChall = r.URL.Query().Get("code_challenge")
	rateLimit, challenge := s.rateLimit, s.serveChallenge
	s.mu.Unlock()

	if rateLimit {
		w.WriteHeader(nethttp.StatusTooManyRequests)
		return
	}
	if challenge {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><div id="cf-browser-verification">Checking your browser</div></body></html>`)
		return
	}

	nethttp.SetCookie(w, &nethttp.Cookie{Name: "oauth.sid", Value: "sid-1", Path: "/"})
	w.Header().Set("Location", "/Account/Login?ReturnUrl=%2Fconnect%2Fauthorize")
	w.WriteHeader(nethttp.StatusFound)
}

func (s *stubProvider) handleLogin(w nethttp.ResponseWriter, r *nethttp.Request) {
	if r.Method == nethttp.MethodGet {
		nethttp.SetCookie(w, &nethttp.Cookie{Name: "antiforgery", Value: "af-1", Path: "/"})
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><body>
<form method="post" action="/Account/Login">
<input type="hidden" name="__RequestVerificationToken" value="%s" />
<input type="hidden" name="UnifiedFlowRequested" value="True" />
<input type="hidden" name="brand" value="myq" />
<input type="text" name="Email" />
<input type="password" name="Password" />
<button type="submit">Sign In</button>
</form>
</body></html>`, stubCSRF)
		return
	}

	s.mu.Lock()
	s.formPosts++
	cookies := s.loginCookies
	s.mu.Unlock()

	if err := r.ParseForm(); err != nil {
		w.WriteHeader(nethttp.StatusBadRequest)
		return
	}
	if r.Form.Get("__RequestVerificationToken") != stubCSRF {
		w.WriteHeader(nethttp.StatusBadRequest)
		fmt.Fprint(w, "missing verification token")
		return
	}
	if r.Form.Get("Email") != stubEmail || r.Form.Get("Password") != stubPassword {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>Invalid email or password</body></html>")
		return
	}

	for i := 0; i < cookies; i++ {
		nethttp.SetCookie(w, &nethttp.Cookie{Name: fmt.Sprintf("idsrv.session%d", i), Value: fmt.Sprintf("sess-%d", i), Path: "/"})
	}
	w.Header().Set("Location", "/connect/authorize/callback")
	w.WriteHeader(nethttp.StatusFound)
}

func (s *stubProvider) handleCallback(w nethttp.ResponseWriter, r *nethttp.Request) {
	s.mu.Lock()
	s.callbackCookie = r.Header.Get("Cookie")
	omitCode, scope := s.omitCode, s.grantedScope
	s.mu.Unlock()

	loc := "com.myqops://android?scope=" + escapeQuery(scope)
	if !omitCode {
		loc = "com.myqops://android?code=" + stubAuthCode + "&scope=" + escapeQuery(scope)
	}
	w.Header().Set("Location", loc)
	w.WriteHeader(nethttp.StatusFound)
}

func (s *stubProvider) handleToken(w nethttp.ResponseWriter, r *nethttp.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(nethttp.StatusBadRequest)
		return
	}

	switch r.Form.Get("grant_type") {
	case "authorization_code":
		s.mu.Lock()
		s.exchangeHits++
		chall, scope, token := s.issuedChall, s.grantedScope, s.accessToken
		s.mu.Unlock()

		if r.Form.Get("code") != stubAuthCode {
			w.WriteHeader(nethttp.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)
			return
		}
		if verifierChallenge(r.Form.Get("code_verifier")) != chall {
			w.WriteHeader(nethttp.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_request","error_description":"pkce verification failed"}`)
			return
		}
		// The exchange must echo the granted scope, not the requested one.
		if r.Form.Get("scope") != scope {
			w.WriteHeader(nethttp.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_scope"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":%q,"refresh_token":"rt-1","expires_in":1800,"token_type":"Bearer","scope":%q}`, token, scope)

	case "refresh_token":
		s.mu.Lock()
		s.refreshHits++
		fail, omitRT := s.refreshFail, s.refreshOmitRT
		s.mu.Unlock()

		if fail {
			w.WriteHeader(nethttp.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)
			return
		}
		if r.Form.Get("refresh_token") == "" || r.Form.Get("client_secret") == "" {
			w.WriteHeader(nethttp.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_request"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if omitRT {
			fmt.Fprintf(w, `{"access_token":"at-refreshed","expires_in":1800}`)
			return
		}
		fmt.Fprintf(w, `{"access_token":"at-refreshed","refresh_token":"rt-2","expires_in":1800,"scope":%q}`, r.Form.Get("scope"))

	default:
		w.WriteHeader(nethttp.StatusBadRequest)
		fmt.Fprint(w, `{"error":"unsupported_grant_type"}`)
	}
}

func (s *stubProvider) endpoints() Endpoints {
	return Endpoints{
		AuthorizeURL: s.srv.URL + "/connect/authorize",
		TokenURL:     s.srv.URL + "/connect/token",
	}
}

// newClient builds a client against the stub with a fresh cookie jar and a
// recording, non-blocking sleep.
func (s *stubProvider) newClient(t *testing.T, store TokenStore, eps Endpoints) *Client {
	t.Helper()

	httpClient, err := NewHTTPClient(nil, "")
	if err != nil {
		t.Fatalf("failed to create HTTP client: %v", err)
	}

	if eps.AuthorizeURL == "" {
		eps.AuthorizeURL = s.srv.URL + "/connect/authorize"
	}
	if eps.TokenURL == "" {
		eps.TokenURL = s.srv.URL + "/connect/token"
	}

	c := NewClient(httpClient, store, nil, Config{
		Email:     stubEmail,
		Password:  stubPassword,
		Endpoints: eps,
	})
	c.sleep = func(_ context.Context, d time.Duration) error {
		s.mu.Lock()
		s.sleeps = append(s.sleeps, d)
		s.mu.Unlock()
		return nil
	}
	return c
}

func (s *stubProvider) counters() (authorize, posts, exchanges, refreshes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authorizeHits, s.formPosts, s.exchangeHits, s.refreshHits
}

func verifierChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(hash[:])
}

func escapeQuery(s string) string {
	out := ""
	for _, r := range s {
		if r == ' ' {
			out += "%20"
			continue
		}
		out += string(r)
	}
	return out
}

// stubAPI fakes the device hosts: accounts listing, devices listing and the
// door-action endpoint.
type stubAPI struct {
	t   *testing.T
	srv *httptest.Server

	mu          sync.Mutex
	hits        int
	actionHits  int
	lastCookies []string // Cookie header of each door-action request

	// knobs
	rejectToken   string // respond 401 to this bearer token
	always401     bool
	rotateCookie  string // when non-empty, set __cf_bm to this value on every response
	doorState     string
	gzipResponses bool
}

func newStubAPI(t *testing.T) *stubAPI {
	s := &stubAPI{t: t, doorState: "closed"}

	mux := nethttp.NewServeMux()
	mux.HandleFunc("/api/v6.2/Accounts", s.guard(s.handleAccounts))
	mux.HandleFunc("/api/v6.2/Accounts/acct-1/Devices", s.guard(s.handleDevices))
	mux.HandleFunc("/api/v6.0/Accounts/acct-1/door_openers/", s.guard(s.handleDoorAction))

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *stubAPI) guard(next nethttp.HandlerFunc) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		s.mu.Lock()
		s.hits++
		reject, always, rotate := s.rejectToken, s.always401, s.rotateCookie
		s.mu.Unlock()

		if rotate != "" {
			nethttp.SetCookie(w, &nethttp.Cookie{Name: "__cf_bm", Value: rotate, Path: "/"})
		}

		auth := r.Header.Get("Authorization")
		if always || (reject != "" && auth == "Bearer "+reject) {
			w.WriteHeader(nethttp.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *stubAPI) handleAccounts(w nethttp.ResponseWriter, _ *nethttp.Request) {
	s.writeJSON(w, `{"items":[{"id":"acct-1","name":"Home"}]}`)
}

func (s *stubAPI) handleDevices(w nethttp.ResponseWriter, _ *nethttp.Request) {
	s.mu.Lock()
	state := s.doorState
	s.mu.Unlock()
	s.writeJSON(w, fmt.Sprintf(`{"items":[
{"serial_number":"hub-1","device_family":"gateway","name":"Hub","state":{"online":true}},
{"serial_number":"gdo-1","device_family":"garagedoor","name":"Garage Door","state":{"door_state":%q,"online":true,"last_update":"2024-01-01T00:00:00Z","last_status":"ok"}}
]}`, state))
}

func (s *stubAPI) handleDoorAction(w nethttp.ResponseWriter, r *nethttp.Request) {
	s.mu.Lock()
	s.actionHits++
	s.lastCookies = append(s.lastCookies, r.Header.Get("Cookie"))
	s.mu.Unlock()
	w.WriteHeader(nethttp.StatusAccepted)
}

func (s *stubAPI) writeJSON(w nethttp.ResponseWriter, body string) {
	s.mu.Lock()
	useGzip := s.gzipResponses
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if useGzip {
		w.Header().Set("Content-Encoding", "gzip")
		w.Write(gzipBytes([]byte(body)))
		return
	}
	fmt.Fprint(w, body)
}
