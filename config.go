package myq

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

const defaultTokensFile = "myq_tokens.json"

// Config carries the identity and wiring for one client instance.
type Config struct {
	Email    string
	Password string

	// Proxy is an optional upstream proxy for dodging provider-side rate
	// limits. Accepts the same formats as ParseProxyLine.
	Proxy string

	// TokensFile is where the FileStore persists the token set. Defaults to
	// myq_tokens.json in the working directory.
	TokensFile string

	// Endpoints overrides the provider endpoints; zero value means production.
	Endpoints Endpoints

	// GraceWindow is the lead time before expiry at which tokens are
	// proactively refreshed. Defaults to 5 minutes.
	GraceWindow time.Duration
}

// LoadConfig reads configuration from the environment, with .env fallback.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Email:      os.Getenv("MYQ_EMAIL"),
		Password:   os.Getenv("MYQ_PASSWORD"),
		TokensFile: os.Getenv("MYQ_TOKENS_FILE"),
	}
	if cfg.TokensFile == "" {
		cfg.TokensFile = defaultTokensFile
	}

	if raw := os.Getenv("MYQ_PROXY"); raw != "" {
		proxyURL, _, ok := ParseProxyLine(raw)
		if !ok {
			return Config{}, fmt.Errorf("invalid MYQ_PROXY value: %q", raw)
		}
		cfg.Proxy = proxyURL
	}

	return cfg, nil
}
