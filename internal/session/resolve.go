package session

import (
	"fmt"
	"os"
	"regexp"

	"github.com/matheus3301/chatsync/internal/config"
)

const (
	DefaultSessionName = "main"

	// EnvSession selects a session when no flag is given.
	EnvSession = "CHATSYNC_SESSION"
)

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name is usable as a session directory.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: must match %s", name, nameRegexp)
	}
	return nil
}

// Resolve picks the active session: the flag, then $CHATSYNC_SESSION, then
// default_session from config.toml, then "main". The winner is validated.
func Resolve(flagOverride string) (string, error) {
	name := flagOverride
	if name == "" {
		name = os.Getenv(EnvSession)
	}
	if name == "" {
		if cfg, err := config.Load(ConfigPath()); err == nil {
			name = cfg.DefaultSession
		}
	}
	if name == "" {
		name = DefaultSessionName
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}
