// Package config loads and validates the server configuration from YAML,
// with environment overrides for credentials.
package config

import (
	"fmt"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

// ServerSettings holds the HTTP server configuration.
type ServerSettings struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// AllowedOrigins lists CORS origins; "*" allows everything.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// ShutdownTimeoutSeconds bounds graceful shutdown.
	ShutdownTimeoutSeconds int `yaml:"shutdown_timeout_seconds"`
}

// DownloadSettings holds extraction and storage configuration.
type DownloadSettings struct {
	// Dir is the base directory for downloaded batches.
	Dir string `yaml:"dir"`

	// DefaultQuality is the bitrate used when a request does not specify one.
	DefaultQuality string `yaml:"default_quality"`

	// ItemTimeoutSeconds bounds each track extraction.
	ItemTimeoutSeconds int `yaml:"item_timeout_seconds"`

	// YtDlpPath overrides the yt-dlp binary location.
	YtDlpPath string `yaml:"yt_dlp_path"`
}

// SpotifySettings holds Spotify API access configuration. Credentials come
// from the environment when not set here.
type SpotifySettings struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	CacheMaxSize    int `yaml:"cache_max_size"`
	CacheTTLSeconds int `yaml:"cache_ttl"`

	RateLimitEnabled  bool    `yaml:"rate_limit_enabled"`
	RateLimitRequests int     `yaml:"rate_limit_requests"`
	RateLimitWindow   float64 `yaml:"rate_limit_window"`
}

// Configured reports whether Spotify credentials are present.
func (s *SpotifySettings) Configured() bool {
	return s.ClientID != "" && s.ClientSecret != ""
}

// CacheTTL returns the cache TTL as a duration.
func (s *SpotifySettings) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLSeconds) * time.Second
}

// RateLimitWindowDuration returns the rate limit window as a duration.
func (s *SpotifySettings) RateLimitWindowDuration() time.Duration {
	return time.Duration(s.RateLimitWindow * float64(time.Second))
}

// Config is the full server configuration.
type Config struct {
	Server   ServerSettings   `yaml:"server"`
	Download DownloadSettings `yaml:"download"`
	Spotify  SpotifySettings  `yaml:"spotify"`

	// LogPath is the JSON log file location.
	LogPath string `yaml:"log_path"`

	// HistoryPath is the SQLite download history location; empty disables
	// history.
	HistoryPath string `yaml:"history_path"`
}

// SetDefaults fills in zero values.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.ShutdownTimeoutSeconds == 0 {
		c.Server.ShutdownTimeoutSeconds = 10
	}
	if c.Download.Dir == "" {
		c.Download.Dir = "downloads"
	}
	if c.Download.DefaultQuality == "" {
		c.Download.DefaultQuality = "192"
	}
	if c.Download.ItemTimeoutSeconds == 0 {
		c.Download.ItemTimeoutSeconds = 600
	}
	if c.Download.YtDlpPath == "" {
		c.Download.YtDlpPath = "yt-dlp"
	}
	if c.Spotify.CacheMaxSize == 0 {
		c.Spotify.CacheMaxSize = 256
	}
	if c.Spotify.CacheTTLSeconds == 0 {
		c.Spotify.CacheTTLSeconds = 3600
	}
	if c.Spotify.RateLimitRequests == 0 {
		c.Spotify.RateLimitRequests = 10
	}
	if c.Spotify.RateLimitWindow == 0 {
		c.Spotify.RateLimitWindow = 1.0
	}
	if c.LogPath == "" {
		c.LogPath = "logs/server.log"
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &ConfigError{Message: fmt.Sprintf("invalid server port: %d", c.Server.Port)}
	}
	switch c.Download.DefaultQuality {
	case "96", "128", "192", "320":
	default:
		return &ConfigError{Message: fmt.Sprintf("invalid default quality: %q (expected 96, 128, 192 or 320)", c.Download.DefaultQuality)}
	}
	if c.Download.ItemTimeoutSeconds < 1 {
		return &ConfigError{Message: fmt.Sprintf("item timeout too short: %ds", c.Download.ItemTimeoutSeconds)}
	}
	return nil
}

// ItemTimeout returns the per-item extraction timeout as a duration.
func (c *Config) ItemTimeout() time.Duration {
	return time.Duration(c.Download.ItemTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown window as a duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
