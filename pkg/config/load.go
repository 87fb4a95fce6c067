package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment variables that take precedence over the file.
const (
	EnvAPIKey      = "OPENAI_API_KEY"
	EnvBaseURL     = "OPENAI_BASE_URL"
	EnvDatabaseURL = "DATABASE_URL"
)

// Load reads path over the defaults and applies environment overrides.
// An empty path or a missing file yields the defaults.
func Load(path string) (AppConfig, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			k := koanf.New(".")
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return AppConfig{}, fmt.Errorf("load config file: %w", err)
			}
			if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
				return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return AppConfig{}, fmt.Errorf("stat config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *AppConfig) {
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv(EnvBaseURL); v != "" {
		cfg.Model.BaseURL = v
	}
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		cfg.Database.DSN = v
	}
}
