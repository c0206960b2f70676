package tokenstore

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Config selects and configures a Store backend
type Config struct {
	// Type is one of "memory", "file" or "sqlite". Empty means memory.
	Type string `mapstructure:"type" json:"type"`
	// Path is the token file or database path. Relative paths resolve against Dir.
	Path string `mapstructure:"path" json:"path"`
	// Dir is the profile directory used when Path is empty or relative
	Dir string `mapstructure:"-" json:"-"`
	// Encrypt seals tokens at rest
	Encrypt bool `mapstructure:"encrypt" json:"encrypt"`
	// EncryptionKey overrides PORTALGATE_ENCRYPTION_KEY
	EncryptionKey string `mapstructure:"encryption_key" json:"-"`

	Logger *slog.Logger `mapstructure:"-" json:"-"`
}

// NewStore creates a Store based on the configuration
func NewStore(config Config) (Store, error) {
	var key string
	if config.Encrypt {
		key = config.EncryptionKey
		if key == "" {
			key = os.Getenv(EncryptionKeyEnv)
		}
		if key == "" && config.Type != "memory" && config.Type != "" {
			return nil, fmt.Errorf("token_store.encrypt is set but %s is empty", EncryptionKeyEnv)
		}
	}

	switch config.Type {
	case "memory", "":
		return NewMemoryStore(), nil

	case "file":
		return NewFileStore(resolvePath(config, "tokens.json"), key, config.Logger)

	case "sqlite":
		return OpenSQLite(resolvePath(config, "tokens.db"), key, config.Logger)

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, config.Type)
	}
}

func resolvePath(config Config, defaultName string) string {
	path := config.Path
	if path == "" {
		path = defaultName
	}
	if filepath.IsAbs(path) || config.Dir == "" {
		return path
	}
	return filepath.Join(config.Dir, path)
}
