package myq

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseProxyLine parses a proxy string in various formats and returns the
// normalized URL and a credential-free display string for logging.
// Supported formats:
//   - ip:port:username:password
//   - ip:port (IP authenticated, no credentials)
//   - http://username:password@ip:port
//   - https://username:password@ip:port
//   - http://ip:port (IP authenticated)
//   - https://ip:port (IP authenticated)
func ParseProxyLine(line string) (proxyURL, display string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", "", false
	}

	// Check if it's already a URL format
	if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
		parsed, err := url.Parse(line)
		if err != nil {
			return "", "", false
		}

		display = parsed.Host

		// Normalize to http:// (most proxy clients expect http)
		// Keep credentials if present
		if parsed.User != nil {
			password, _ := parsed.User.Password()
			proxyURL = fmt.Sprintf("http://%s:%s@%s", parsed.User.Username(), password, parsed.Host)
		} else {
			proxyURL = fmt.Sprintf("http://%s", parsed.Host)
		}
		return proxyURL, display, true
	}

	// Parse colon-separated format
	parts := strings.Split(line, ":")

	switch len(parts) {
	case 2:
		// ip:port (IP authenticated)
		host, port := parts[0], parts[1]
		proxyURL = fmt.Sprintf("http://%s:%s", host, port)
		display = fmt.Sprintf("%s:%s", host, port)
		return proxyURL, display, true

	case 4:
		// ip:port:username:password
		host, port, user, pass := parts[0], parts[1], parts[2], parts[3]
		proxyURL = fmt.Sprintf("http://%s:%s@%s:%s", user, pass, host, port)
		display = fmt.Sprintf("%s:%s", host, port)
		return proxyURL, display, true

	default:
		return "", "", false
	}
}
