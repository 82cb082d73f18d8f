package myq

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// decodeBody decompresses raw according to encoding. Unknown encodings and
// decode failures return the raw bytes unchanged.
func decodeBody(encoding string, raw []byte) []byte {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return raw
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return raw
		}
		defer r.Close()
		return readOrRaw(r, raw)
	case "deflate":
		// Servers disagree on whether "deflate" means zlib-wrapped or raw
		// DEFLATE. Try zlib first, fall back to the raw stream.
		if r, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
			defer r.Close()
			if out, err := io.ReadAll(r); err == nil {
				return out
			}
		}
		fr := flate.NewReader(bytes.NewReader(raw))
		defer fr.Close()
		return readOrRaw(fr, raw)
	case "br":
		return readOrRaw(brotli.NewReader(bytes.NewReader(raw)), raw)
	case "zstd":
		d, err := zstd.NewReader(bytes.NewReader(raw))
		if err != nil {
			return raw
		}
		defer d.Close()
		return readOrRaw(d.IOReadCloser(), raw)
	default:
		return raw
	}
}

func readOrRaw(r io.Reader, raw []byte) []byte {
	out, err := io.ReadAll(r)
	if err != nil {
		return raw
	}
	return out
}
