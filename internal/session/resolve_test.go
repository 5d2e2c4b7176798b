package session

import (
	"strings"
	"testing"

	"github.com/matheus3301/chatsync/internal/config"
)

func TestResolvePrecedence(t *testing.T) {
	t.Setenv(EnvHome, t.TempDir())
	t.Setenv(EnvSession, "")

	got, err := Resolve("")
	if err != nil {
		t.Fatal(err)
	}
	if got != DefaultSessionName {
		t.Errorf("Resolve() without config = %q, want %q", got, DefaultSessionName)
	}

	if err := config.Save(ConfigPath(), &config.Config{DefaultSession: "work"}); err != nil {
		t.Fatal(err)
	}
	if got, _ := Resolve(""); got != "work" {
		t.Errorf("Resolve() = %q, want config default", got)
	}

	t.Setenv(EnvSession, "from-env")
	if got, _ := Resolve(""); got != "from-env" {
		t.Errorf("Resolve() = %q, want env override", got)
	}
	if got, _ := Resolve("other"); got != "other" {
		t.Errorf("Resolve(other) = %q, want flag override", got)
	}
}

func TestResolveRejectsInvalidNames(t *testing.T) {
	t.Setenv(EnvHome, t.TempDir())
	t.Setenv(EnvSession, "")

	if _, err := Resolve("../escape"); err == nil {
		t.Error("Resolve(../escape) should fail")
	}

	// A bad default in config.toml is reported, not silently replaced.
	if err := config.Save(ConfigPath(), &config.Config{DefaultSession: "Bad Name"}); err != nil {
		t.Fatal(err)
	}
	if _, err := Resolve(""); err == nil {
		t.Error("Resolve() with invalid config default should fail")
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"main", false},
		{"ana-laptop", false},
		{"team_2", false},
		{"a", false},
		{strings.Repeat("a", 64), false},
		{"", true},
		{"Main", true},
		{"two words", true},
		{"with.dot", true},
		{strings.Repeat("a", 65), true},
		{"ana@host", true},
		{"nested/path", true},
	}
	for _, tt := range tests {
		err := ValidateName(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
	}
}
