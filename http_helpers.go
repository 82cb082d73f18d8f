package myq

import (
	"io"

	http "github.com/bogdanfinn/fhttp"
)

// PseudoHeaderOrder is the standard HTTP/2 pseudo-header order for all requests.
var PseudoHeaderOrder = []string{
	":method",
	":authority",
	":scheme",
	":path",
}

// readResponseBody reads the full response body and decompresses it according
// to the declared Content-Encoding. Decompression failures degrade to the raw
// bytes rather than erroring. Caller should defer resp.Body.Close().
func readResponseBody(resp *http.Response) ([]byte, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return decodeBody(resp.Header.Get("Content-Encoding"), raw), nil
}
