package tokenstore

import (
	"errors"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/takutakahashi/portalgate/internal/domain/entities"
	plog "github.com/takutakahashi/portalgate/pkg/logger"
	"github.com/takutakahashi/portalgate/pkg/utils"
)

// tokenDocument is the on-disk layout of a FileStore
type tokenDocument struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FileStore persists the credential as a JSON document. Every write replaces
// the file atomically with mode 0600, so other processes sharing the profile
// see the latest pair on their next read.
type FileStore struct {
	filePath string
	sealer   *sealer
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewFileStore creates a file store. A non-empty encryptionKey enables at-rest
// encryption.
func NewFileStore(filePath, encryptionKey string, logger *slog.Logger) (*FileStore, error) {
	logger = plog.OrDiscard(logger)
	store := &FileStore{
		filePath: filePath,
		logger:   logger,
	}
	if encryptionKey != "" {
		var err error
		if store.sealer, err = newSealer(encryptionKey); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// Path returns the backing file path
func (f *FileStore) Path() string {
	return f.filePath
}

// Save stores both tokens
func (f *FileStore) Save(accessToken, refreshToken string) error {
	if err := validatePair(accessToken, refreshToken); err != nil {
		return err
	}

	doc := tokenDocument{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		UpdatedAt:    time.Now().UTC(),
	}
	if f.sealer != nil {
		var err error
		if doc.AccessToken, err = f.sealer.seal(accessToken); err != nil {
			return err
		}
		if doc.RefreshToken, err = f.sealer.seal(refreshToken); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return utils.WriteJSONFile(f.filePath, doc, 0600)
}

// Access returns the access token
func (f *FileStore) Access() string {
	access, _ := f.read()
	return access
}

// Refresh returns the refresh token
func (f *FileStore) Refresh() string {
	_, refresh := f.read()
	return refresh
}

// Credential returns both tokens from one read of the file
func (f *FileStore) Credential() entities.Credential {
	access, refresh := f.read()
	return entities.Credential{AccessToken: access, RefreshToken: refresh}
}

// Clear removes the token file
func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return utils.RemoveIfExists(f.filePath)
}

// Close is a no-op; the file is not held open
func (f *FileStore) Close() error {
	return nil
}

func (f *FileStore) read() (string, string) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var doc tokenDocument
	if err := utils.ReadJSONFile(f.filePath, &doc); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			f.logger.Warn("token file unreadable, treating as signed out", "path", f.filePath, "error", err)
		}
		return "", ""
	}

	access, refresh := doc.AccessToken, doc.RefreshToken
	if f.sealer != nil {
		var errA, errR error
		access, errA = f.sealer.open(doc.AccessToken)
		refresh, errR = f.sealer.open(doc.RefreshToken)
		if err := errors.Join(errA, errR); err != nil {
			f.logger.Warn("token file cannot be decrypted, treating as signed out", "path", f.filePath, "error", err)
			return "", ""
		}
	}

	if access == "" || refresh == "" {
		return "", ""
	}
	return access, refresh
}
