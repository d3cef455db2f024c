package jembatan

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/zalando/go-keyring"
)

// KeyValueStore is the external store a CredentialStore mirrors into when
// persistence is enabled.
type KeyValueStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}

// EnvStore persists into the process environment. Prefix is prepended to
// every key, e.g. "MYAPP_" yields MYAPP_API_ACCESS_TOKEN.
type EnvStore struct {
	Prefix string
}

func (s EnvStore) Get(key string) (string, bool) {
	return os.LookupEnv(s.Prefix + key)
}

func (s EnvStore) Set(key, value string) error {
	return os.Setenv(s.Prefix+key, value)
}

func (s EnvStore) Delete(key string) error {
	return os.Unsetenv(s.Prefix + key)
}

// DefaultKeyringService is the keychain service name used when none is set.
const DefaultKeyringService = "jembatan"

// KeyringStore persists into the operating system keychain.
type KeyringStore struct {
	Service string
}

func (s KeyringStore) service() string {
	if s.Service == "" {
		return DefaultKeyringService
	}
	return s.Service
}

func (s KeyringStore) Get(key string) (string, bool) {
	value, err := keyring.Get(s.service(), key)
	if err != nil {
		return "", false
	}
	return value, true
}

func (s KeyringStore) Set(key, value string) error {
	if err := keyring.Set(s.service(), key, value); err != nil {
		return fmt.Errorf("storing %s in keychain: %w", key, err)
	}
	return nil
}

// Delete removes a key; a key that does not exist is not an error.
func (s KeyringStore) Delete(key string) error {
	err := keyring.Delete(s.service(), key)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("deleting %s from keychain: %w", key, err)
	}
	return nil
}

// MemoryStore is a map-backed KeyValueStore for tests and embedding.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore returns a MemoryStore seeded with initial.
func NewMemoryStore(initial map[string]string) *MemoryStore {
	values := make(map[string]string, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &MemoryStore{values: values}
}

func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

var (
	_ KeyValueStore = EnvStore{}
	_ KeyValueStore = KeyringStore{}
	_ KeyValueStore = (*MemoryStore)(nil)
)
