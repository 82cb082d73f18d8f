package myq

import (
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

// BrowserProfile bundles a TLS client profile with the user agents presented
// during the two halves of the protocol: the browser-like login scrape and
// the native-app API calls.
type BrowserProfile struct {
	TLSProfile   profiles.ClientProfile
	UserAgent    string // browser navigation UA for the OAuth login pages
	APIUserAgent string // native app UA for the device API hosts
}

// DefaultProfile is the default browser profile used for new clients.
// Set to AndroidChrome83Profile in tls_android83.go.
var DefaultProfile = AndroidChrome83Profile

// NewHTTPClient builds the underlying HTTP client: cookie jar shared across
// the whole redirect chain, redirects never followed automatically (cookies
// set on an intermediate hop are required by the next one, so each hop is
// observed explicitly), and an optional upstream proxy.
func NewHTTPClient(logger tls_client.Logger, proxyURL string) (tls_client.HttpClient, error) {
	return NewHTTPClientWithProfile(logger, proxyURL, DefaultProfile.TLSProfile)
}

func NewHTTPClientWithProfile(logger tls_client.Logger, proxyURL string, profile profiles.ClientProfile) (tls_client.HttpClient, error) {
	if logger == nil {
		logger = tls_client.NewNoopLogger()
	}

	jar := tls_client.NewCookieJar()
	options := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(30),
		tls_client.WithClientProfile(profile),
		tls_client.WithNotFollowRedirects(),
		tls_client.WithCookieJar(jar),
	}

	if proxyURL != "" {
		options = append(options, tls_client.WithProxyUrl(proxyURL))
	}

	return tls_client.NewHttpClient(logger, options...)
}
