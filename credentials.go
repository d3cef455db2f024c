package jembatan

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// ExpiryBuffer is how long before ExpiresAt a credential stops being valid,
// so a request started just before expiry does not race a dead token.
const ExpiryBuffer = 300 * time.Second

const defaultTokenType = "Bearer"

// Keys used to mirror a credential into a KeyValueStore.
const (
	KeyAccessToken  = "API_ACCESS_TOKEN"
	KeyRefreshToken = "API_REFRESH_TOKEN"
	KeyExpiresAt    = "API_TOKEN_EXPIRES_AT"
)

// ErrNoCredential is returned by CredentialStore.Token when no valid credential is held.
var ErrNoCredential = errors.New("jembatan: no valid credential")

// Credential is an access/refresh token bundle. A nil ExpiresAt (Unix
// seconds) means the credential never expires.
type Credential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    *int64 `json:"expires_at,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
}

// ExpiresAtUnix is a convenience for building Credential.ExpiresAt.
func ExpiresAtUnix(t time.Time) *int64 {
	v := t.Unix()
	return &v
}

func (c Credential) tokenType() string {
	if c.TokenType == "" {
		return defaultTokenType
	}
	return c.TokenType
}

// PersistenceMode selects where a CredentialStore mirrors its state.
type PersistenceMode string

const (
	PersistenceMemory      PersistenceMode = "memory"
	PersistenceEnvironment PersistenceMode = "environment"
)

// CredentialStore holds at most one credential (last write wins) and judges
// its validity. It never returns errors: persistence failures are logged.
// Safe for concurrent use.
type CredentialStore struct {
	mu   sync.RWMutex
	cred *Credential
	// persistMu serializes writers so the mirror in kv always ends in the
	// same state as memory.
	persistMu sync.Mutex

	kv     KeyValueStore
	logger Logger
	now    func() time.Time
}

// StoreOption configures a CredentialStore.
type StoreOption func(*CredentialStore)

// WithPersistence mirrors the credential into kv and loads any credential
// already present there.
func WithPersistence(kv KeyValueStore) StoreOption {
	return func(s *CredentialStore) {
		s.kv = kv
	}
}

// WithStoreLogger sets the logger used for persistence failures.
func WithStoreLogger(logger Logger) StoreOption {
	return func(s *CredentialStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStoreClock overrides the time source used for expiry checks.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *CredentialStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewCredentialStore creates an empty in-memory store unless WithPersistence is given.
func NewCredentialStore(opts ...StoreOption) *CredentialStore {
	s := &CredentialStore{
		logger: NopLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.kv != nil {
		s.load()
	}
	return s
}

func (s *CredentialStore) load() {
	access, ok := s.kv.Get(KeyAccessToken)
	if !ok || access == "" {
		return
	}

	cred := Credential{AccessToken: access}
	if refresh, ok := s.kv.Get(KeyRefreshToken); ok {
		cred.RefreshToken = refresh
	}
	if raw, ok := s.kv.Get(KeyExpiresAt); ok && raw != "" {
		if exp, err := strconv.ParseInt(raw, 10, 64); err == nil {
			cred.ExpiresAt = &exp
		} else {
			s.logger.Warn("Ignoring unparsable persisted expiry", "key", KeyExpiresAt, "error", err)
		}
	}
	s.cred = &cred
	s.logger.Debug("Loaded persisted credential", "hasRefreshToken", cred.RefreshToken != "", "hasExpiry", cred.ExpiresAt != nil)
}

// SetCredential replaces the current credential unconditionally. No
// validation happens here; validity is judged at use time.
func (s *CredentialStore) SetCredential(c Credential) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	cp := c
	if c.ExpiresAt != nil {
		exp := *c.ExpiresAt
		cp.ExpiresAt = &exp
	}
	s.cred = &cp
	s.mu.Unlock()

	if s.kv != nil {
		s.persist(cp)
	}
}

func (s *CredentialStore) persist(c Credential) {
	s.setKey(KeyAccessToken, c.AccessToken)
	if c.RefreshToken != "" {
		s.setKey(KeyRefreshToken, c.RefreshToken)
	} else {
		s.deleteKey(KeyRefreshToken)
	}
	if c.ExpiresAt != nil {
		s.setKey(KeyExpiresAt, strconv.FormatInt(*c.ExpiresAt, 10))
	} else {
		s.deleteKey(KeyExpiresAt)
	}
}

func (s *CredentialStore) setKey(key, value string) {
	if err := s.kv.Set(key, value); err != nil {
		s.logger.Warn("Failed to persist credential field", "key", key, "error", err)
	}
}

func (s *CredentialStore) deleteKey(key string) {
	if err := s.kv.Delete(key); err != nil {
		s.logger.Warn("Failed to delete persisted credential field", "key", key, "error", err)
	}
}

// Credential returns a copy of the current credential.
func (s *CredentialStore) Credential() (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return Credential{}, false
	}
	cp := *s.cred
	if s.cred.ExpiresAt != nil {
		exp := *s.cred.ExpiresAt
		cp.ExpiresAt = &exp
	}
	return cp, true
}

// IsValid is false with no credential or an empty access token. With an
// expiry it requires ExpiresAt > now + ExpiryBuffer.
func (s *CredentialStore) IsValid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.validLocked()
}

func (s *CredentialStore) validLocked() bool {
	if s.cred == nil || s.cred.AccessToken == "" {
		return false
	}
	if s.cred.ExpiresAt == nil {
		return true
	}
	return *s.cred.ExpiresAt > s.now().Add(ExpiryBuffer).Unix()
}

// ClearCredential drops the credential and any persisted copy.
func (s *CredentialStore) ClearCredential() {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	s.cred = nil
	s.mu.Unlock()

	if s.kv != nil {
		s.deleteKey(KeyAccessToken)
		s.deleteKey(KeyRefreshToken)
		s.deleteKey(KeyExpiresAt)
	}
}

// AuthorizationHeader returns "{TokenType} {AccessToken}" for a valid credential.
func (s *CredentialStore) AuthorizationHeader() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.validLocked() {
		return "", false
	}
	return s.cred.tokenType() + " " + s.cred.AccessToken, true
}

// RefreshToken returns the refresh token of the held credential, valid or not.
func (s *CredentialStore) RefreshToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil || s.cred.RefreshToken == "" {
		return "", false
	}
	return s.cred.RefreshToken, true
}

// Token implements oauth2.TokenSource over the held credential.
func (s *CredentialStore) Token() (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.validLocked() {
		return nil, ErrNoCredential
	}
	tok := &oauth2.Token{
		AccessToken:  s.cred.AccessToken,
		RefreshToken: s.cred.RefreshToken,
		TokenType:    s.cred.tokenType(),
	}
	if s.cred.ExpiresAt != nil {
		tok.Expiry = time.Unix(*s.cred.ExpiresAt, 0)
	}
	return tok, nil
}

// CredentialFromToken converts an oauth2 token into a Credential.
func CredentialFromToken(tok *oauth2.Token) Credential {
	cred := Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		cred.ExpiresAt = ExpiresAtUnix(tok.Expiry)
	}
	return cred
}

var _ oauth2.TokenSource = (*CredentialStore)(nil)
