package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tasktrail/internal/domain"
)

const FileName = "tasktrail.yml"

// Config models tasktrail.yml.
type Config struct {
	Auth struct {
		TokenTTL time.Duration `yaml:"token_ttl" json:"token_ttl"`
		Issuer   string        `yaml:"issuer" json:"issuer"`
	} `yaml:"auth" json:"auth"`
	Tasks struct {
		TitleMaxLength int `yaml:"title_max_length" json:"title_max_length"`
	} `yaml:"tasks" json:"tasks"`
	Bootstrap Bootstrap `yaml:"bootstrap" json:"bootstrap"`
}

// Bootstrap lists actors seeded at startup when missing.
type Bootstrap struct {
	Enabled  bool             `yaml:"enabled" json:"enabled"`
	Password string           `yaml:"password" json:"-"`
	Actors   []BootstrapActor `yaml:"actors" json:"actors"`
}

type BootstrapActor struct {
	Email string      `yaml:"email" json:"email"`
	Role  domain.Role `yaml:"role" json:"role"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("config.auth.token_ttl must be positive")
	}
	if c.Tasks.TitleMaxLength <= 0 {
		return fmt.Errorf("config.tasks.title_max_length must be positive")
	}
	seen := map[string]bool{}
	for i, a := range c.Bootstrap.Actors {
		email := strings.ToLower(strings.TrimSpace(a.Email))
		if email == "" {
			return fmt.Errorf("config.bootstrap.actors[%d].email is required", i)
		}
		if seen[email] {
			return fmt.Errorf("config.bootstrap.actors has duplicate email %s", email)
		}
		seen[email] = true
		if !a.Role.Valid() {
			return fmt.Errorf("config.bootstrap.actors[%d] has unknown role %q", i, a.Role)
		}
	}
	if c.Bootstrap.Enabled && len(c.Bootstrap.Actors) > 0 && c.Bootstrap.Password == "" {
		return fmt.Errorf("config.bootstrap.password is required when bootstrap is enabled")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with tt config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault returns Default() when the workspace has no config file.
func LoadOrDefault(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// FromYAML parses config over the defaults and validates it, so a file only
// needs the keys it changes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `auth:
  token_ttl: 24h
  issuer: tasktrail

tasks:
  title_max_length: 200

bootstrap:
  enabled: true
  password: password123
  actors:
    - email: admin@task.local
      role: ADMIN
    - email: manager@task.local
      role: MANAGER
    - email: member@task.local
      role: MEMBER
    - email: viewer@task.local
      role: VIEWER
`
