// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Config holds the server configuration.
type Config struct {
	// Mode is the operating mode: strict or dev.
	Mode string `toml:"mode"`

	// PublicOrigin is the public origin (scheme + host + port) for this instance.
	// Used to build the callback URL of the authentication challenge.
	// Example: "https://localbox.example.com"
	PublicOrigin string `toml:"public_origin"`

	// ListenAddr is the address to listen on.
	// Example: ":8000"
	ListenAddr string `toml:"listen_addr"`

	// Server holds server-level settings.
	Server ServerConfig `toml:"server"`

	// TLS configuration
	TLS TLSConfig `toml:"tls"`

	// Filesystem holds storage settings.
	Filesystem FilesystemConfig `toml:"filesystem"`

	// OAuth holds the external token verification settings.
	OAuth OAuthConfig `toml:"oauth"`

	// Database selects and configures the datastore backend.
	Database DatabaseConfig `toml:"database"`

	// Cache configuration (backs the authentication cache).
	Cache CacheConfig `toml:"cache"`

	// Logging configuration
	Logging LoggingConfig `toml:"logging"`

	// Metrics configuration
	Metrics MetricsConfig `toml:"metrics"`
}

// ServerConfig holds server-level settings.
type ServerConfig struct {
	ReadTimeoutMS  int `toml:"read_timeout_ms"`
	WriteTimeoutMS int `toml:"write_timeout_ms"`
	IdleTimeoutMS  int `toml:"idle_timeout_ms"`

	// RequestTimeoutMS bounds handler execution; 0 disables the timeout.
	RequestTimeoutMS int `toml:"request_timeout_ms"`

	// MaxUploadBytes caps a single upload; 0 means unlimited.
	MaxUploadBytes int64 `toml:"max_upload_bytes"`
}

// TLSConfig holds TLS-related settings.
type TLSConfig struct {
	// Mode is one of: off, static, selfsigned
	Mode string `toml:"mode"`

	// CertFile and KeyFile for static mode
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`

	// SelfSignedDir holds the generated certificate in selfsigned mode.
	SelfSignedDir string `toml:"selfsigned_dir"`
}

// FilesystemConfig holds storage settings.
type FilesystemConfig struct {
	// Bindpoint is the directory holding one subdirectory per user.
	Bindpoint string `toml:"bindpoint"`
}

// OAuthConfig holds the external token verification settings.
type OAuthConfig struct {
	// VerifyURL is called with the client's Authorization header.
	// A 2xx response body carries the username.
	VerifyURL string `toml:"verify_url"`

	// RedirectURL is the login page advertised in the WWW-Authenticate challenge.
	RedirectURL string `toml:"redirect_url"`

	// BackURL overrides the redirect_uri callback. Empty derives it from the request.
	BackURL string `toml:"back_url"`

	// CacheTTLSeconds is how long a verified token stays cached. Default: 600.
	CacheTTLSeconds int `toml:"cache_ttl_seconds"`

	// TimeoutMS bounds a single verification call.
	TimeoutMS int `toml:"timeout_ms"`

	// MaxResponseBytes bounds the verification response body.
	MaxResponseBytes int64 `toml:"max_response_bytes"`

	// CAFile and CADir add trusted roots for the verification endpoint.
	CAFile string `toml:"ca_file"`
	CADir  string `toml:"ca_dir"`

	// InsecureSkipVerify disables TLS verification (dev-only)
	InsecureSkipVerify bool `toml:"insecure_skip_verify"`
}

// DatabaseConfig selects the datastore backend.
type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `toml:"driver"`

	SQLite   SQLiteConfig   `toml:"sqlite"`
	Postgres PostgresConfig `toml:"postgres"`
}

// SQLiteConfig holds settings for the embedded backend.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// PostgresConfig holds settings for the client/server backend.
type PostgresConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	Database     string `toml:"database"`
	SSLMode      string `toml:"ssl_mode"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// DSN renders the connection string understood by the postgres driver.
func (p PostgresConfig) DSN() string {
	sslMode := p.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, sslMode)
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	// Driver is the cache driver name: "memory" (default) or "redis".
	Driver string `toml:"driver"`

	// Drivers holds per-driver configuration.
	// Example: [cache.drivers.redis] address = "localhost:6379"
	Drivers map[string]any `toml:"drivers"`
}

// DriverConfig returns the raw config map for the selected cache driver.
func (c CacheConfig) DriverConfig() map[string]any {
	name := c.Driver
	if name == "" {
		name = "memory"
	}
	raw, ok := c.Drivers[name].(map[string]any)
	if !ok {
		return map[string]any{}
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	return out
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	// Default: info in strict mode, debug in dev mode.
	Level string `toml:"level"`

	// AllowSensitive permits logging of sensitive values (tokens, secrets).
	// Default: false. Use only for debugging.
	AllowSensitive bool `toml:"allow_sensitive"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// AuthCacheTTL returns the authentication cache TTL.
func (c *Config) AuthCacheTTL() time.Duration {
	return time.Duration(c.OAuth.CacheTTLSeconds) * time.Second
}

// VerifyTimeout returns the timeout of a single verification call.
func (c *Config) VerifyTimeout() time.Duration {
	return time.Duration(c.OAuth.TimeoutMS) * time.Millisecond
}

// RequestTimeout returns the handler timeout, or zero when disabled.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutMS) * time.Millisecond
}

// Redacted returns a string representation of the config with secrets redacted.
func (c *Config) Redacted() string {
	var sb strings.Builder
	sb.WriteString("Config{\n")
	sb.WriteString(fmt.Sprintf("  Mode: %q,\n", c.Mode))
	sb.WriteString(fmt.Sprintf("  PublicOrigin: %q,\n", c.PublicOrigin))
	sb.WriteString(fmt.Sprintf("  ListenAddr: %q,\n", c.ListenAddr))
	sb.WriteString("  Server: {\n")
	sb.WriteString(fmt.Sprintf("    RequestTimeoutMS: %d,\n", c.Server.RequestTimeoutMS))
	sb.WriteString(fmt.Sprintf("    MaxUploadBytes: %d,\n", c.Server.MaxUploadBytes))
	sb.WriteString("  },\n")
	sb.WriteString("  TLS: {\n")
	sb.WriteString(fmt.Sprintf("    Mode: %q,\n", c.TLS.Mode))
	sb.WriteString(fmt.Sprintf("    CertFile: %q,\n", c.TLS.CertFile))
	sb.WriteString(fmt.Sprintf("    KeyFile: %q,\n", c.TLS.KeyFile))
	sb.WriteString(fmt.Sprintf("    SelfSignedDir: %q,\n", c.TLS.SelfSignedDir))
	sb.WriteString("  },\n")
	sb.WriteString(fmt.Sprintf("  Filesystem.Bindpoint: %q,\n", c.Filesystem.Bindpoint))
	sb.WriteString("  OAuth: {\n")
	sb.WriteString(fmt.Sprintf("    VerifyURL: %q,\n", c.OAuth.VerifyURL))
	sb.WriteString(fmt.Sprintf("    RedirectURL: %q,\n", c.OAuth.RedirectURL))
	sb.WriteString(fmt.Sprintf("    BackURL: %q,\n", c.OAuth.BackURL))
	sb.WriteString(fmt.Sprintf("    CacheTTLSeconds: %d,\n", c.OAuth.CacheTTLSeconds))
	sb.WriteString(fmt.Sprintf("    TimeoutMS: %d,\n", c.OAuth.TimeoutMS))
	sb.WriteString(fmt.Sprintf("    CAFile: %q,\n", c.OAuth.CAFile))
	sb.WriteString(fmt.Sprintf("    InsecureSkipVerify: %v,\n", c.OAuth.InsecureSkipVerify))
	sb.WriteString("  },\n")
	sb.WriteString("  Database: {\n")
	sb.WriteString(fmt.Sprintf("    Driver: %q,\n", c.Database.Driver))
	sb.WriteString(fmt.Sprintf("    SQLite.Path: %q,\n", c.Database.SQLite.Path))
	sb.WriteString(fmt.Sprintf("    Postgres.Host: %q,\n", c.Database.Postgres.Host))
	sb.WriteString(fmt.Sprintf("    Postgres.Port: %d,\n", c.Database.Postgres.Port))
	sb.WriteString(fmt.Sprintf("    Postgres.User: %q,\n", c.Database.Postgres.User))
	sb.WriteString("    Postgres.Password: [REDACTED],\n")
	sb.WriteString(fmt.Sprintf("    Postgres.Database: %q,\n", c.Database.Postgres.Database))
	sb.WriteString("  },\n")
	sb.WriteString("  Cache: {\n")
	sb.WriteString(fmt.Sprintf("    Driver: %q,\n", c.Cache.Driver))
	names := make([]string, 0, len(c.Cache.Drivers))
	for name := range c.Cache.Drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	sb.WriteString(fmt.Sprintf("    Drivers: %q,\n", names))
	sb.WriteString("  },\n")
	sb.WriteString("  Logging: {\n")
	sb.WriteString(fmt.Sprintf("    Level: %q,\n", c.Logging.Level))
	sb.WriteString(fmt.Sprintf("    AllowSensitive: %v,\n", c.Logging.AllowSensitive))
	sb.WriteString("  },\n")
	sb.WriteString(fmt.Sprintf("  Metrics: {Enabled: %v, Path: %q},\n", c.Metrics.Enabled, c.Metrics.Path))
	sb.WriteString("}")
	return sb.String()
}

// PublicScheme returns "http" or "https" from PublicOrigin.
// Returns "" if PublicOrigin is empty or unparseable.
func (c *Config) PublicScheme() string {
	if c.PublicOrigin == "" {
		return ""
	}
	u, err := url.Parse(c.PublicOrigin)
	if err != nil || u.Scheme == "" {
		return ""
	}
	return strings.ToLower(u.Scheme)
}
