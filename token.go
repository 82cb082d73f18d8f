package myq

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// TokenSet is the current credential set for one identity. It is owned by the
// client's lifecycle lock; failures never partially clear it, so the previous
// credentials stay usable until a replacement is confirmed.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	AccountID    string // resolved lazily on first successful API call
	DeviceSerial string // resolved lazily on first successful API call
	CFCookie     string // rotating Cloudflare bot-mitigation cookie
	Scope        string // scope granted by the previous exchange, echoed on refresh
}

// TokenStore persists a TokenSet across process restarts. The persisted
// representation is a shared contract with external collaborators that may
// write captured tokens into the same location, so Load must treat whatever
// it finds as valid input and tolerate a missing or malformed store by
// returning (nil, nil).
type TokenStore interface {
	Load() (*TokenSet, error)
	Save(*TokenSet) error
}

// tokenFile is the on-disk JSON layout. Field names and the unix-seconds
// expiry are dictated by the capture collaborator writing the same file.
type tokenFile struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	ExpiresAt    float64 `json:"expires_at"`
	AccountID    string  `json:"account_id"`
	DeviceSerial string  `json:"device_serial"`
	CFCookie     string  `json:"cf_cookie"`
	TokenScope   string  `json:"token_scope"`
	ExpiresIn    int     `json:"expires_in"`
	TokenType    string  `json:"token_type"`
	Scope        string  `json:"scope"`
}

// FileStore keeps the token set in a JSON file.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() (*TokenSet, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, nil
	}

	var f tokenFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, nil
	}
	if f.AccessToken == "" && f.RefreshToken == "" {
		return nil, nil
	}

	expiresAt := time.Unix(int64(f.ExpiresAt), 0)
	if f.ExpiresAt == 0 {
		// Externally captured tokens sometimes omit the expiry; assume a
		// fresh 30-minute access token.
		expiresAt = time.Now().Add(30 * time.Minute)
	}

	scope := f.TokenScope
	if scope == "" {
		scope = defaultScope
	}

	return &TokenSet{
		AccessToken:  f.AccessToken,
		RefreshToken: f.RefreshToken,
		ExpiresAt:    expiresAt,
		AccountID:    f.AccountID,
		DeviceSerial: f.DeviceSerial,
		CFCookie:     f.CFCookie,
		Scope:        scope,
	}, nil
}

func (s *FileStore) Save(ts *TokenSet) error {
	if ts == nil {
		return nil
	}

	f := tokenFile{
		AccessToken:  ts.AccessToken,
		RefreshToken: ts.RefreshToken,
		ExpiresAt:    float64(ts.ExpiresAt.Unix()),
		AccountID:    ts.AccountID,
		DeviceSerial: ts.DeviceSerial,
		CFCookie:     ts.CFCookie,
		TokenScope:   ts.Scope,
		ExpiresIn:    1800,
		TokenType:    "Bearer",
		Scope:        ts.Scope,
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return os.WriteFile(s.path, data, 0600)
}

// memoryStore backs a client constructed without a persistent store.
type memoryStore struct {
	ts *TokenSet
}

func (m *memoryStore) Load() (*TokenSet, error) {
	if m.ts == nil {
		return nil, nil
	}
	cp := *m.ts
	return &cp, nil
}

func (m *memoryStore) Save(ts *TokenSet) error {
	cp := *ts
	m.ts = &cp
	return nil
}
