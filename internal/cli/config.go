package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultServer  = "http://localhost:8081"
	defaultTimeout = 2 * time.Minute
)

// Config is the CLI configuration. Values come from the YAML file first,
// then .env and the environment, then command-line flags.
type Config struct {
	Server     string        `yaml:"server"`
	Token      string        `yaml:"token,omitempty"`
	ClientType string        `yaml:"client_type,omitempty"`
	Language   string        `yaml:"language,omitempty"`
	Prefs      string        `yaml:"prefs,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
}

// DefaultConfigPath is ~/.config/chatwire/config.yaml, or "" when the user
// config dir is unknown.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "chatwire", "config.yaml")
}

func defaultPrefsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "chatwire-prefs.db")
	}
	return filepath.Join(dir, "chatwire", "prefs.db")
}

// LoadConfig reads path and overlays the environment. A missing file is an
// error only when explicit is set.
func LoadConfig(path string, explicit bool) (Config, error) {
	cfg := Config{
		Server:     defaultServer,
		ClientType: "cli",
		Language:   "en-US",
		Prefs:      defaultPrefsPath(),
		Timeout:    defaultTimeout,
	}
	if path = strings.TrimSpace(path); path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist) && !explicit:
		default:
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	_ = godotenv.Load()
	cfg.Server = firstNonEmpty(os.Getenv("CHATWIRE_SERVER"), cfg.Server)
	cfg.Token = firstNonEmpty(os.Getenv("CHATWIRE_TOKEN"), cfg.Token)
	cfg.Language = firstNonEmpty(os.Getenv("CHATWIRE_LANGUAGE"), cfg.Language)
	cfg.Prefs = firstNonEmpty(os.Getenv("CHATWIRE_PREFS"), cfg.Prefs)
	if raw := strings.TrimSpace(os.Getenv("CHATWIRE_TIMEOUT")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("CHATWIRE_TIMEOUT: %w", err)
		}
		cfg.Timeout = d
	}
	cfg.Server = strings.TrimRight(strings.TrimSpace(cfg.Server), "/")
	return cfg, nil
}

// SocketURL is the websocket endpoint of the configured server.
func (c Config) SocketURL() string {
	return c.Server + "/ws"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
