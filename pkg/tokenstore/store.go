// Package tokenstore keeps the access/refresh token pair for a client profile.
package tokenstore

import (
	"errors"

	"github.com/takutakahashi/portalgate/internal/domain/entities"
)

var (
	// ErrEmptyToken is returned by Save when either token is empty
	ErrEmptyToken = errors.New("access and refresh tokens must both be non-empty")
	// ErrUnknownType is returned by NewStore for an unsupported backend type
	ErrUnknownType = errors.New("unknown token store type")
)

// Store persists the credential pair. The pair is either fully present or
// fully absent. Reads never fail: a storage problem reads as "" which callers
// treat as not authenticated.
type Store interface {
	// Save stores both tokens, replacing any previous pair
	Save(accessToken, refreshToken string) error
	// Access returns the access token or ""
	Access() string
	// Refresh returns the refresh token or ""
	Refresh() string
	// Credential returns both tokens from a single read, or the zero value
	Credential() entities.Credential
	// Clear removes both tokens. Clearing an empty store is not an error.
	Clear() error
	// Close releases backend resources
	Close() error
}

// Load returns the stored credential when both tokens are present
func Load(s Store) (entities.Credential, bool) {
	cred := s.Credential()
	if !cred.Complete() {
		return entities.Credential{}, false
	}
	return cred, true
}

func validatePair(accessToken, refreshToken string) error {
	if accessToken == "" || refreshToken == "" {
		return ErrEmptyToken
	}
	return nil
}
