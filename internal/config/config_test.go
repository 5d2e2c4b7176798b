package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := &Config{DefaultSession: "work"}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultSession: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestLoadSessionDefaults(t *testing.T) {
	cfg, err := LoadSession(filepath.Join(t.TempDir(), "session.toml"))
	if err != nil {
		t.Fatalf("LoadSession() error = %v", err)
	}
	if cfg.Server.URL != DefaultServerURL {
		t.Errorf("URL = %q, want %q", cfg.Server.URL, DefaultServerURL)
	}
	if cfg.Sync.PollInterval.Duration != DefaultPollInterval {
		t.Errorf("PollInterval = %v, want %v", cfg.Sync.PollInterval, DefaultPollInterval)
	}
	if cfg.Sync.TypingTimeout.Duration != 4*time.Second {
		t.Errorf("TypingTimeout = %v, want 4s", cfg.Sync.TypingTimeout)
	}
	if cfg.Metrics.Addr != DefaultMetricsAddr {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, DefaultMetricsAddr)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should require a participant id")
	}
}

func TestLoadSessionFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.toml")
	content := `
[server]
url = "http://chat.local:9000"
participant_id = "u-ana"

[sync]
poll_interval = "2s"
page_size = 20

[metrics]
addr = ""
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadSession(path)
	if err != nil {
		t.Fatalf("LoadSession() error = %v", err)
	}
	if cfg.Server.URL != "http://chat.local:9000" {
		t.Errorf("URL = %q", cfg.Server.URL)
	}
	if cfg.Server.DisplayName != "u-ana" {
		t.Errorf("DisplayName = %q, want participant id fallback", cfg.Server.DisplayName)
	}
	if cfg.Sync.PollInterval.Duration != 2*time.Second {
		t.Errorf("PollInterval = %v, want 2s", cfg.Sync.PollInterval)
	}
	if cfg.Sync.PageSize != 20 {
		t.Errorf("PageSize = %d, want 20", cfg.Sync.PageSize)
	}
	if cfg.Sync.MatchWindow.Duration != DefaultMatchWindow {
		t.Errorf("MatchWindow = %v, want default", cfg.Sync.MatchWindow)
	}
	if cfg.Metrics.Addr != "" {
		t.Errorf("Metrics.Addr = %q, want disabled", cfg.Metrics.Addr)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadSessionInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.toml")
	if err := os.WriteFile(path, []byte("[sync]\npoll_interval = \"soon\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSession(path); err == nil {
		t.Error("LoadSession() expected error for bad duration")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv(EnvServerURL, "https://override.example")
	t.Setenv(EnvParticipantID, "u-env")

	path := filepath.Join(t.TempDir(), "session.toml")
	if err := Save(path, &SessionConfig{Server: ServerConfig{URL: "http://file", ParticipantID: "u-file"}}); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadSession(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.URL != "https://override.example" || cfg.Server.ParticipantID != "u-env" {
		t.Errorf("server = %+v, want env overrides", cfg.Server)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(EnvToken+"=secret\n"), 0600); err != nil {
		t.Fatal(err)
	}
	// Setenv restores the variable after the test; godotenv only fills
	// variables that are unset.
	t.Setenv(EnvToken, "")
	_ = os.Unsetenv(EnvToken)

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv(EnvToken); got != "secret" {
		t.Errorf("%s = %q, want secret", EnvToken, got)
	}
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing .env should be ignored, got %v", err)
	}
}
