package myq

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

func gzipBytes(data []byte) []byte {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	w.Write(data)
	w.Close()
	return buf.Bytes()
}

func zlibBytes(data []byte) []byte {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	w.Write(data)
	w.Close()
	return buf.Bytes()
}

func flateBytes(t *testing.T, data []byte) []byte {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		t.Fatal(err)
	}
	w.Write(data)
	w.Close()
	return buf.Bytes()
}

func brotliBytes(data []byte) []byte {
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	w.Write(data)
	w.Close()
	return buf.Bytes()
}

func zstdBytes(t *testing.T, data []byte) []byte {
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	w.Write(data)
	w.Close()
	return buf.Bytes()
}

func TestDecodeBody(t *testing.T) {
	plain := []byte(`{"access_token":"at-1","expires_in":1800}`)

	tests := []struct {
		name     string
		encoding string
		raw      []byte
	}{
		{"identity", "", plain},
		{"explicit identity", "identity", plain},
		{"gzip", "gzip", gzipBytes(plain)},
		{"deflate zlib", "deflate", zlibBytes(plain)},
		{"deflate raw", "deflate", flateBytes(t, plain)},
		{"brotli", "br", brotliBytes(plain)},
		{"zstd", "zstd", zstdBytes(t, plain)},
		{"case and whitespace", " GZIP ", gzipBytes(plain)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodeBody(tt.encoding, tt.raw)
			if !bytes.Equal(got, plain) {
				t.Errorf("decodeBody(%q) = %q, want %q", tt.encoding, got, plain)
			}
		})
	}
}

// Decode failures degrade to the raw bytes so the caller can still log or
// preview the body instead of losing it.
func TestDecodeBodyGraceful(t *testing.T) {
	garbage := []byte("\x1f\x8b definitely not a gzip stream")

	if got := decodeBody("gzip", garbage); !bytes.Equal(got, garbage) {
		t.Errorf("corrupt gzip: got %q, want raw bytes back", got)
	}
	if got := decodeBody("br", []byte{0xff, 0xfe}); len(got) == 0 {
		t.Error("corrupt brotli: want raw bytes back, got empty")
	}
	if got := decodeBody("sdch", garbage); !bytes.Equal(got, garbage) {
		t.Errorf("unknown encoding: got %q, want raw bytes back", got)
	}
}
