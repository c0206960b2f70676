// Package userdir resolves the client-local directories portalgate keeps state in.
package userdir

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// HomeEnv overrides the base directory
const HomeEnv = "PORTALGATE_HOME"

// DefaultProfile is used when no profile is named
const DefaultProfile = "default"

// Manager handles per-profile directory operations
type Manager struct {
	baseDir string
}

// NewManager creates a manager rooted at baseDir. An empty baseDir means DefaultBaseDir().
func NewManager(baseDir string) *Manager {
	if baseDir == "" {
		baseDir = DefaultBaseDir()
	}
	return &Manager{baseDir: baseDir}
}

// DefaultBaseDir returns $PORTALGATE_HOME, or portalgate under the user config
// directory ($XDG_CONFIG_HOME on Linux), or ./.portalgate as a last resort
func DefaultBaseDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "portalgate")
	}
	return ".portalgate"
}

// BaseDir returns the root directory
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// ConfigFile returns the default config file path
func (m *Manager) ConfigFile() string {
	return filepath.Join(m.baseDir, "config.yaml")
}

// ProfileDir returns the directory for a profile
func (m *Manager) ProfileDir(profile string) (string, error) {
	if profile == "" {
		profile = DefaultProfile
	}

	sanitized := sanitizeProfile(profile)
	if sanitized == "" {
		return "", fmt.Errorf("invalid profile name: %s", profile)
	}

	return filepath.Join(m.baseDir, "profiles", sanitized), nil
}

// EnsureProfileDir creates the profile directory with mode 0700 if needed
func (m *Manager) EnsureProfileDir(profile string) (string, error) {
	dir, err := m.ProfileDir(profile)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create profile directory %s: %w", dir, err)
	}

	return dir, nil
}

// Profiles lists existing profile names in sorted order
func (m *Manager) Profiles() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(m.baseDir, "profiles"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// sanitizeProfile removes characters that could escape the profiles directory
func sanitizeProfile(profile string) string {
	sanitized := profile
	sanitized = strings.ReplaceAll(sanitized, "/", "_")
	sanitized = strings.ReplaceAll(sanitized, "\\", "_")
	sanitized = strings.ReplaceAll(sanitized, "..", "__")
	sanitized = strings.ReplaceAll(sanitized, " ", "_")

	sanitized = strings.Trim(sanitized, ".-")

	if sanitized == "" || strings.Trim(sanitized, "_") == "" {
		return ""
	}

	return sanitized
}
