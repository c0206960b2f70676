package tokenstore

import (
	"sync"

	"github.com/takutakahashi/portalgate/internal/domain/entities"
)

// MemoryStore keeps the credential in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	access  string
	refresh string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save stores both tokens
func (m *MemoryStore) Save(accessToken, refreshToken string) error {
	if err := validatePair(accessToken, refreshToken); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.access = accessToken
	m.refresh = refreshToken
	return nil
}

// Access returns the access token
func (m *MemoryStore) Access() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.access
}

// Refresh returns the refresh token
func (m *MemoryStore) Refresh() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refresh
}

// Credential returns both tokens under one lock
func (m *MemoryStore) Credential() entities.Credential {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return entities.Credential{AccessToken: m.access, RefreshToken: m.refresh}
}

// Clear removes both tokens
func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.access = ""
	m.refresh = ""
	return nil
}

// Close is a no-op for memory storage
func (m *MemoryStore) Close() error {
	return nil
}
