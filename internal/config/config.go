package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Live     LiveConfig     `yaml:"live"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds database connection settings. An empty URL selects
// the in-memory store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "postgres" or "sqlite"
	URL    string `yaml:"url"`
}

// RedisConfig holds the optional shared ticket backend. An empty URL keeps
// tickets in process memory.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// AuthConfig holds identity settings.
type AuthConfig struct {
	JWTSecret   string `yaml:"jwt_secret"`
	DevMode     bool   `yaml:"dev_mode"`     // allow DevIdentity when no caller identity is present
	DevIdentity string `yaml:"dev_identity"` // default: "dev-user"
}

// LiveConfig holds settings for the live event stream.
type LiveConfig struct {
	TicketExpiry      time.Duration `yaml:"ticket_expiry"`
	TicketSweep       time.Duration `yaml:"ticket_sweep"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	PollTimeout       time.Duration `yaml:"poll_timeout"`
	KeepAliveInterval time.Duration `yaml:"keepalive_interval"`
	AllowQueryToken   bool          `yaml:"allow_query_token"` // deprecated ?token= fallback

	// WildcardIdentities may subscribe to every workflow at once. Empty
	// disables wildcard streams.
	WildcardIdentities []string `yaml:"wildcard_identities"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// defaults returns a Config populated with sensible default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{Driver: DriverPostgres},
		Auth:     AuthConfig{DevIdentity: "dev-user"},
		Live: LiveConfig{
			TicketExpiry:      60 * time.Second,
			TicketSweep:       60 * time.Second,
			PollInterval:      2 * time.Second,
			PollTimeout:       5 * time.Second,
			KeepAliveInterval: 30 * time.Second,
			AllowQueryToken:   true,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a YAML configuration file at path and returns a Config.
// Environment overrides are applied on top of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault tries to load "config.yaml" from the current directory.
// If the file does not exist, it returns defaults with environment
// overrides applied. Any other error (e.g. permission denied, malformed
// YAML) is returned.
func LoadDefault() (*Config, error) {
	cfg, err := Load("config.yaml")
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	cfg = defaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFiles loads variables from the given .env files into the process
// environment. Missing files are skipped; variables already set win.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("FLOWCAST_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("FLOWCAST_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FLOWCAST_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("FLOWCAST_DEV_MODE"); v != "" {
		dev, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FLOWCAST_DEV_MODE: %w", err)
		}
		c.Auth.DevMode = dev
	}
	if v := os.Getenv("FLOWCAST_WILDCARD_IDENTITIES"); v != "" {
		c.Live.WildcardIdentities = c.Live.WildcardIdentities[:0]
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				c.Live.WildcardIdentities = append(c.Live.WildcardIdentities, id)
			}
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("database.driver %q: unsupported", c.Database.Driver)
	}

	for name, d := range map[string]time.Duration{
		"live.ticket_expiry":      c.Live.TicketExpiry,
		"live.ticket_sweep":       c.Live.TicketSweep,
		"live.poll_interval":      c.Live.PollInterval,
		"live.poll_timeout":       c.Live.PollTimeout,
		"live.keepalive_interval": c.Live.KeepAliveInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q: unsupported", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q: unsupported", c.Log.Format)
	}
	if c.Auth.DevMode && c.Auth.DevIdentity == "" {
		return errors.New("auth.dev_identity is required when auth.dev_mode is enabled")
	}
	return nil
}
