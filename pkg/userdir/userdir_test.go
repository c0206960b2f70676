package userdir

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewManager(t *testing.T) {
	m := NewManager("/tmp/pg")
	if m.BaseDir() != "/tmp/pg" {
		t.Errorf("Expected base dir /tmp/pg, got %s", m.BaseDir())
	}
	if m.ConfigFile() != "/tmp/pg/config.yaml" {
		t.Errorf("Unexpected config file %s", m.ConfigFile())
	}
}

func TestDefaultBaseDir_Env(t *testing.T) {
	t.Setenv(HomeEnv, "/custom/home")
	if got := NewManager("").BaseDir(); got != "/custom/home" {
		t.Errorf("Expected /custom/home, got %s", got)
	}
}

func TestDefaultBaseDir_XDG(t *testing.T) {
	t.Setenv(HomeEnv, "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := DefaultBaseDir(); got != "/xdg/portalgate" {
		t.Errorf("Expected /xdg/portalgate, got %s", got)
	}
}

func TestProfileDir(t *testing.T) {
	m := NewManager("/base")

	dir, err := m.ProfileDir("")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if dir != "/base/profiles/default" {
		t.Errorf("Expected default profile dir, got %s", dir)
	}

	dir, err = m.ProfileDir("../../etc")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if filepath.Dir(dir) != "/base/profiles" {
		t.Errorf("Profile escaped the profiles directory: %s", dir)
	}

	if _, err := m.ProfileDir("..."); err == nil {
		t.Error("Expected error for invalid profile name")
	}
}

func TestSanitizeProfile(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"alice", "alice"},
		{"work/staging", "work_staging"},
		{"work\\staging", "work_staging"},
		{"a..b", "a__b"},
		{"my profile", "my_profile"},
		{".hidden", "hidden"},
		{"-x-", "x"},
		{"", ""},
		{"...", ""},
		{"///", ""},
	}

	for _, test := range tests {
		result := sanitizeProfile(test.input)
		if result != test.expected {
			t.Errorf("sanitizeProfile(%q) = %q, expected %q", test.input, result, test.expected)
		}
	}
}

func TestEnsureProfileDirAndList(t *testing.T) {
	m := NewManager(t.TempDir())

	profiles, err := m.Profiles()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(profiles) != 0 {
		t.Errorf("Expected no profiles, got %v", profiles)
	}

	for _, p := range []string{"work", "default"} {
		dir, err := m.EnsureProfileDir(p)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("Profile dir not created: %v", err)
		}
		if info.Mode().Perm() != 0700 {
			t.Errorf("Expected mode 0700, got %v", info.Mode().Perm())
		}
	}

	profiles, err = m.Profiles()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(profiles) != 2 || profiles[0] != "default" || profiles[1] != "work" {
		t.Errorf("Unexpected profiles %v", profiles)
	}
}
