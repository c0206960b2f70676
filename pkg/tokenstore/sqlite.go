package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/takutakahashi/portalgate/internal/domain/entities"
	plog "github.com/takutakahashi/portalgate/pkg/logger"
	"github.com/takutakahashi/portalgate/pkg/utils"
	_ "modernc.org/sqlite"
)

const credentialsSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL,
	updated_at    INTEGER NOT NULL
);
`

const upsertCredential = `
INSERT INTO credentials (id, access_token, refresh_token, updated_at)
VALUES (1, ?1, ?2, ?3)
ON CONFLICT(id) DO UPDATE SET
	access_token = excluded.access_token,
	refresh_token = excluded.refresh_token,
	updated_at = excluded.updated_at;
`

// SQLiteStore persists the credential as a single row in a SQLite database
type SQLiteStore struct {
	sqlDB  *sql.DB
	sealer *sealer
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) a SQLite token database. A non-empty
// encryptionKey enables at-rest encryption.
func OpenSQLite(path, encryptionKey string, logger *slog.Logger) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	logger = plog.OrDiscard(logger)

	cleanPath := filepath.Clean(path)
	if err := utils.EnsureDir(filepath.Dir(cleanPath), 0700); err != nil {
		return nil, err
	}

	dsn := "file:" + cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(credentialsSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create credentials table: %w", err)
	}

	store := &SQLiteStore{sqlDB: sqlDB, logger: logger}
	if encryptionKey != "" {
		if store.sealer, err = newSealer(encryptionKey); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}
	return store, nil
}

// Save stores both tokens
func (s *SQLiteStore) Save(accessToken, refreshToken string) error {
	if err := validatePair(accessToken, refreshToken); err != nil {
		return err
	}

	access, refresh := accessToken, refreshToken
	if s.sealer != nil {
		var err error
		if access, err = s.sealer.seal(accessToken); err != nil {
			return err
		}
		if refresh, err = s.sealer.seal(refreshToken); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.sqlDB.ExecContext(ctx, upsertCredential, access, refresh, time.Now().UTC().UnixMilli()); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

// Access returns the access token
func (s *SQLiteStore) Access() string {
	access, _ := s.read()
	return access
}

// Refresh returns the refresh token
func (s *SQLiteStore) Refresh() string {
	_, refresh := s.read()
	return refresh
}

// Credential returns both tokens from one query
func (s *SQLiteStore) Credential() entities.Credential {
	access, refresh := s.read()
	return entities.Credential{AccessToken: access, RefreshToken: refresh}
}

// Clear deletes the stored row
func (s *SQLiteStore) Clear() error {
	if _, err := s.sqlDB.Exec(`DELETE FROM credentials WHERE id = 1`); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

// Close closes the database handle
func (s *SQLiteStore) Close() error {
	return s.sqlDB.Close()
}

func (s *SQLiteStore) read() (string, string) {
	var access, refresh string
	err := s.sqlDB.QueryRow(`SELECT access_token, refresh_token FROM credentials WHERE id = 1`).Scan(&access, &refresh)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("token database unreadable, treating as signed out", "error", err)
		}
		return "", ""
	}

	if s.sealer != nil {
		var errA, errR error
		access, errA = s.sealer.open(access)
		refresh, errR = s.sealer.open(refresh)
		if err := errors.Join(errA, errR); err != nil {
			s.logger.Warn("stored tokens cannot be decrypted, treating as signed out", "error", err)
			return "", ""
		}
	}
	return access, refresh
}
