// internal/config/config.go
//
// Configuration for the newsroom server.
// Values are layered: struct defaults, then an optional YAML file, then
// environment variables (see envKeys for the variable names).

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// MinJWTSecretLength is the shortest signing secret the server will start with.
const MinJWTSecretLength = 32

// MinSessionDuration floors SESSION_DURATION.
const MinSessionDuration = time.Hour

// DefaultSessionDuration is used when SESSION_DURATION is unset.
const DefaultSessionDuration = 7 * 24 * time.Hour

// ConfigPathEnvVar overrides the YAML config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// ErrWeakJWTSecret is returned by Validate when JWT_SECRET is missing or short.
var ErrWeakJWTSecret = errors.New("JWT_SECRET must be set and at least 32 characters")

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Security SecurityConfig `koanf:"security"`
	Upload   UploadConfig   `koanf:"upload"`
	Logging  LoggingConfig  `koanf:"logging"`
}

type ServerConfig struct {
	Port             int           `koanf:"port"`
	Environment      string        `koanf:"environment"` // development | production | test
	SiteURL          string        `koanf:"site_url"`
	CORSOrigins      []string      `koanf:"cors_origins"`
	EnableSetupRoute bool          `koanf:"enable_setup_route"`
	RequestTimeout   time.Duration `koanf:"request_timeout"`
}

// DatabaseConfig selects the store. POSTGRES_URL wins over DATABASE_PATH;
// with neither set the server runs in legacy admin mode without users/posts.
type DatabaseConfig struct {
	PostgresURL string `koanf:"postgres_url"`
	SQLitePath  string `koanf:"sqlite_path"`
}

type SecurityConfig struct {
	JWTSecret         string        `koanf:"jwt_secret"`
	AdminPassword     string        `koanf:"admin_password"`
	SessionDuration   time.Duration `koanf:"session_duration"`
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

type UploadConfig struct {
	BlobToken  string `koanf:"blob_token"`
	BlobAPIURL string `koanf:"blob_api_url"`
	MaxBytes   int64  `koanf:"max_bytes"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json | console
}

// IsProduction reports whether cookies should be Secure and error details hidden.
func (c *Config) IsProduction() bool { return c.Server.Environment == "production" }

// IsDevelopment reports whether error details may be returned to clients.
func (c *Config) IsDevelopment() bool { return c.Server.Environment == "development" }

// HasDatabase reports whether any user/post store is configured.
func (c *Config) HasDatabase() bool {
	return c.Database.PostgresURL != "" || c.Database.SQLitePath != ""
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           3000,
			Environment:    "development",
			SiteURL:        "http://localhost:3000",
			CORSOrigins:    []string{"http://localhost:3000"},
			RequestTimeout: 15 * time.Second,
		},
		Security: SecurityConfig{
			SessionDuration:   DefaultSessionDuration,
			RateLimitRequests: 300,
			RateLimitWindow:   time.Minute,
		},
		Upload: UploadConfig{
			BlobAPIURL: "https://blob.vercel-storage.com",
			MaxBytes:   5 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// envKeys maps environment variable names (lower-cased) to config paths.
var envKeys = map[string]string{
	"port":                  "server.port",
	"environment":           "server.environment",
	"node_env":              "server.environment",
	"next_public_site_url":  "server.site_url",
	"cors_origins":          "server.cors_origins",
	"enable_setup_route":    "server.enable_setup_route",
	"request_timeout":       "server.request_timeout",
	"postgres_url":          "database.postgres_url",
	"database_path":         "database.sqlite_path",
	"jwt_secret":            "security.jwt_secret",
	"admin_password":        "security.admin_password",
	"session_duration":      "security.session_duration",
	"rate_limit_requests":   "security.rate_limit_requests",
	"rate_limit_window":     "security.rate_limit_window",
	"rate_limit_disabled":   "security.rate_limit_disabled",
	"blob_read_write_token": "upload.blob_token",
	"blob_api_url":          "upload.blob_api_url",
	"log_level":             "logging.level",
	"log_format":            "logging.format",
}

func envTransform(key string) string {
	return envKeys[strings.ToLower(key)]
}

var sliceKeys = []string{"server.cors_origins"}

// Load builds the configuration and validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := splitSlices(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range []string{"config.yaml", "config.yml"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// splitSlices turns comma separated env values into string slices.
func splitSlices(k *koanf.Koanf) error {
	for _, key := range sliceKeys {
		s, ok := k.Get(key).(string)
		if !ok {
			continue
		}
		var out []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if err := k.Set(key, out); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return nil
}

func (c *Config) normalize() {
	c.Server.Environment = strings.ToLower(strings.TrimSpace(c.Server.Environment))
	if c.Security.SessionDuration <= 0 {
		c.Security.SessionDuration = DefaultSessionDuration
	}
	if c.Security.SessionDuration < MinSessionDuration {
		c.Security.SessionDuration = MinSessionDuration
	}
	c.Database.PostgresURL = strings.TrimSpace(c.Database.PostgresURL)
	c.Database.SQLitePath = strings.TrimSpace(c.Database.SQLitePath)
}

// Validate rejects configurations the server must not start with.
func (c *Config) Validate() error {
	if len(c.Security.JWTSecret) < MinJWTSecretLength {
		return ErrWeakJWTSecret
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Server.Port)
	}
	switch c.Server.Environment {
	case "development", "production", "test":
	default:
		return fmt.Errorf("unknown ENVIRONMENT %q", c.Server.Environment)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown LOG_FORMAT %q", c.Logging.Format)
	}
	if c.Upload.MaxBytes <= 0 {
		return errors.New("upload max bytes must be positive")
	}
	return nil
}
