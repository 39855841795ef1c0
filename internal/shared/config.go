package shared

import (
	_ "embed"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

//go:embed config.example.toml
var exampleConf []byte

// Environment variables that override values read from the config file.
const (
	EnvClientID     = "SPOTIFY_CLIENT_ID"
	EnvClientSecret = "SPOTIFY_CLIENT_SECRET"
	EnvRedirectURI  = "SPOTIFY_REDIRECT_URI"
	EnvCredentials  = "CROWDSPOT_CREDENTIALS"
	EnvCachePath    = "CROWDSPOT_CACHE"
	EnvLogLevel     = "CROWDSPOT_LOG_LEVEL"
)

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	LogLevel string        `toml:"log_level"`
	Spotify  SpotifyConfig `toml:"spotify"`
	Session  SessionConfig `toml:"session"`
	API      APIConfig     `toml:"api"`
	Cache    CacheConfig   `toml:"cache"`
	Server   ServerConfig  `toml:"server"`
}

// SpotifyConfig contains Spotify application credentials and catalog defaults.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
	Market       string `toml:"market"`
	PageLimit    int    `toml:"page_limit"`
}

// SessionConfig locates the persisted credential.
type SessionConfig struct {
	CredentialsPath string `toml:"credentials_path"`
}

// APIConfig points the catalog client at the Web API.
type APIConfig struct {
	BaseURL           string  `toml:"base_url"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// CacheConfig locates the sqlite album-track cache. An empty path keeps the cache in memory.
type CacheConfig struct {
	Path string `toml:"path"`
}

// ServerConfig contains the redirect listener settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns the host:port the redirect listener binds to.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys absent from the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %w", ErrMissingConfig, err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %w", ErrInvalidConfig, err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, exampleConf, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadEnv loads variables from the given dotenv files into the process environment.
//
// Missing files are ignored; variables already set in the environment win.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("%w: failed to load %s: %w", ErrInvalidConfig, f, err)
		}
	}
	return nil
}

// ApplyEnv overrides config values with any non-empty environment variables.
func (c *Config) ApplyEnv() {
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	override(&c.Spotify.ClientID, EnvClientID)
	override(&c.Spotify.ClientSecret, EnvClientSecret)
	override(&c.Spotify.RedirectURI, EnvRedirectURI)
	override(&c.Session.CredentialsPath, EnvCredentials)
	override(&c.Cache.Path, EnvCachePath)
	override(&c.LogLevel, EnvLogLevel)
}

// Validate reports missing values required to talk to the Web API.
func (c *Config) Validate() error {
	switch {
	case c.Spotify.ClientID == "":
		return fmt.Errorf("%w: spotify.client_id is required", ErrMissingCredentials)
	case c.Spotify.RedirectURI == "":
		return fmt.Errorf("%w: spotify.redirect_uri is required", ErrInvalidConfig)
	case c.Session.CredentialsPath == "":
		return fmt.Errorf("%w: session.credentials_path is required", ErrInvalidConfig)
	case c.Spotify.PageLimit < 0 || c.Spotify.PageLimit > 50:
		return fmt.Errorf("%w: spotify.page_limit must be between 0 and 50", ErrInvalidConfig)
	case c.API.RequestsPerSecond < 0:
		return fmt.Errorf("%w: api.requests_per_second must not be negative", ErrInvalidConfig)
	}
	return nil
}

// ExpandPaths resolves a leading "~" in file paths against the user's home directory.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{&c.Session.CredentialsPath, &c.Cache.Path} {
		expanded, err := ExpandHome(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

// ExpandHome replaces a leading "~" with the current user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
