package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Environment variables overriding the [server] table.
const (
	EnvServerURL     = "CHATSYNC_SERVER_URL"
	EnvParticipantID = "CHATSYNC_PARTICIPANT_ID"
	EnvDisplayName   = "CHATSYNC_DISPLAY_NAME"
	EnvToken         = "CHATSYNC_TOKEN"
)

// Defaults of the [sync] and [metrics] tables.
const (
	DefaultServerURL       = "http://127.0.0.1:8080"
	DefaultPollInterval    = 5 * time.Second
	DefaultTypingTimeout   = 4 * time.Second
	DefaultTypingInterval  = time.Second
	DefaultMatchWindow     = 30 * time.Second
	DefaultPageSize        = 50
	DefaultPollConcurrency = 4
	DefaultMetricsAddr     = "127.0.0.1:9464"
)

// Duration is a time.Duration written as a string in TOML ("5s").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ServerConfig locates the backend and identifies the local participant.
type ServerConfig struct {
	URL           string `toml:"url"`
	ParticipantID string `toml:"participant_id"`
	DisplayName   string `toml:"display_name"`
	Token         string `toml:"token,omitempty"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	PollInterval    Duration `toml:"poll_interval"`
	TypingTimeout   Duration `toml:"typing_timeout"`
	TypingInterval  Duration `toml:"typing_interval"`
	MatchWindow     Duration `toml:"match_window"`
	PageSize        int      `toml:"page_size"`
	PollConcurrency int      `toml:"poll_concurrency"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// SessionConfig represents a session's session.toml.
type SessionConfig struct {
	Server  ServerConfig  `toml:"server"`
	Sync    SyncConfig    `toml:"sync"`
	Metrics MetricsConfig `toml:"metrics"`
}

// LoadSession reads a session config. A missing file yields the defaults;
// environment overrides are applied either way.
func LoadSession(path string) (*SessionConfig, error) {
	cfg := &SessionConfig{Metrics: MetricsConfig{Addr: DefaultMetricsAddr}}
	if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read session config: %w", err)
	}
	cfg.ApplyEnv()
	cfg.WithDefaults()
	return cfg, nil
}

// LoadDotEnv loads KEY=value pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides the [server] table from CHATSYNC_* variables.
func (c *SessionConfig) ApplyEnv() {
	for env, field := range map[string]*string{
		EnvServerURL:     &c.Server.URL,
		EnvParticipantID: &c.Server.ParticipantID,
		EnvDisplayName:   &c.Server.DisplayName,
		EnvToken:         &c.Server.Token,
	} {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*field = v
		}
	}
}

// WithDefaults fills every unset field.
func (c *SessionConfig) WithDefaults() *SessionConfig {
	if c.Server.URL == "" {
		c.Server.URL = DefaultServerURL
	}
	if c.Server.DisplayName == "" {
		c.Server.DisplayName = c.Server.ParticipantID
	}
	setDuration(&c.Sync.PollInterval, DefaultPollInterval)
	setDuration(&c.Sync.TypingTimeout, DefaultTypingTimeout)
	setDuration(&c.Sync.TypingInterval, DefaultTypingInterval)
	setDuration(&c.Sync.MatchWindow, DefaultMatchWindow)
	if c.Sync.PageSize <= 0 {
		c.Sync.PageSize = DefaultPageSize
	}
	if c.Sync.PollConcurrency <= 0 {
		c.Sync.PollConcurrency = DefaultPollConcurrency
	}
	return c
}

// Validate reports settings the daemon cannot start without.
func (c *SessionConfig) Validate() error {
	if c.Server.ParticipantID == "" {
		return fmt.Errorf("server.participant_id is required (or set %s)", EnvParticipantID)
	}
	return nil
}

func setDuration(d *Duration, def time.Duration) {
	if d.Duration <= 0 {
		d.Duration = def
	}
}
