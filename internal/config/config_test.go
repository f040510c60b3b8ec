package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tasktrail/internal/domain"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Auth.TokenTTL != 24*time.Hour {
		t.Fatalf("token ttl = %s", cfg.Auth.TokenTTL)
	}
	if cfg.Tasks.TitleMaxLength != 200 {
		t.Fatalf("title max = %d", cfg.Tasks.TitleMaxLength)
	}
	if len(cfg.Bootstrap.Actors) != 4 || cfg.Bootstrap.Actors[0].Role != domain.RoleAdmin {
		t.Fatalf("unexpected bootstrap actors: %+v", cfg.Bootstrap.Actors)
	}
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("auth:\n  token_ttl: 15m\nbootstrap:\n  enabled: false\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Auth.TokenTTL != 15*time.Minute {
		t.Fatalf("token ttl = %s", cfg.Auth.TokenTTL)
	}
	if cfg.Auth.Issuer != "tasktrail" {
		t.Fatalf("issuer default lost: %q", cfg.Auth.Issuer)
	}
	if cfg.Bootstrap.Enabled {
		t.Fatal("bootstrap should be disabled")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"zero ttl":        "auth:\n  token_ttl: 0s\n",
		"bad title limit": "tasks:\n  title_max_length: 0\n",
		"unknown role":    "bootstrap:\n  actors:\n    - email: a@b.c\n      role: ROOT\n",
		"duplicate email": "bootstrap:\n  actors:\n    - email: a@b.c\n      role: ADMIN\n    - email: A@b.c\n      role: VIEWER\n",
		"missing email":   "bootstrap:\n  actors:\n    - role: ADMIN\n",
		"malformed":       "auth: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := FromYAML([]byte(doc)); err == nil {
				t.Fatalf("expected error for %s", name)
			}
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOrDefault(dir)
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if cfg.Tasks.TitleMaxLength != 200 {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("tasks:\n  title_max_length: 50\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Tasks.TitleMaxLength != 50 {
		t.Fatalf("title max = %d", cfg.Tasks.TitleMaxLength)
	}
}
