package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file, applies defaults and
// environment overrides, and validates the result. A missing file is not an
// error; the defaults then apply.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, &ConfigError{
					Message: fmt.Sprintf("error reading configuration file: %v", err),
				}
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, &ConfigError{
				Message: fmt.Sprintf("error parsing configuration file: %v", err),
			}
		}
	}

	cfg.SetDefaults()
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets the environment override file values. Credentials in the
// environment always win so they can stay out of the config file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		cfg.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		cfg.Spotify.ClientSecret = v
	}
	if v := os.Getenv("DOWNLOADS_DIR"); v != "" {
		cfg.Download.Dir = v
	}
	if v := os.Getenv("YT_DLP_PATH"); v != "" {
		cfg.Download.YtDlpPath = v
	}
}
