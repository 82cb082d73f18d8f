package myq

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// PKCE is a verifier/challenge pair per RFC 7636. One pair is generated per
// login attempt and discarded after the token exchange.
type PKCE struct {
	Verifier  string
	Challenge string
}

// GeneratePKCE creates a cryptographically random code verifier and its
// corresponding S256 code challenge.
func GeneratePKCE() (*PKCE, error) {
	verifier, err := generateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}

	return &PKCE{
		Verifier:  verifier,
		Challenge: generateCodeChallenge(verifier),
	}, nil
}

// generateCodeVerifier returns a URL-safe base64 encoding of 32 random bytes,
// a high-entropy string the client later uses to prove it initiated the
// authorization request.
func generateCodeVerifier() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(bytes), nil
}

// generateCodeChallenge derives the challenge by SHA-256 hashing the verifier
// and base64url-encoding the digest without padding.
func generateCodeChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(hash[:])
}
