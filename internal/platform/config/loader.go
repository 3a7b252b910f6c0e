package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Mode represents the server operating mode.
type Mode string

const (
	ModeStrict Mode = "strict"
	ModeDev    Mode = "dev"
)

// ParseMode parses a mode string, returning an error for invalid values.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict", "":
		return ModeStrict, nil
	case "dev":
		return ModeDev, nil
	default:
		return "", fmt.Errorf("invalid mode %q: must be one of strict, dev", s)
	}
}

// LoaderOptions controls how configuration is loaded.
type LoaderOptions struct {
	// ConfigPath is the path to a TOML config file (optional).
	// If provided but file is missing or invalid, loading fails.
	ConfigPath string

	// ModeFlag is the --mode flag value (overrides config file mode).
	ModeFlag string

	// FlagOverrides are CLI flag values that override config file values.
	FlagOverrides FlagOverrides

	// Logger is used for warning messages (e.g., undecoded keys).
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// FlagOverrides holds CLI flag values that override config file values.
type FlagOverrides struct {
	ListenAddr     *string
	PublicOrigin   *string
	Bindpoint      *string
	TLSMode        *string
	VerifyURL      *string
	DatabaseDriver *string
	LoggingLevel   *string
}

// fileConfig mirrors Config but with pointer sections to detect presence.
type fileConfig struct {
	Mode         string `toml:"mode"`
	PublicOrigin string `toml:"public_origin"`
	ListenAddr   string `toml:"listen_addr"`

	Server     *ServerConfig     `toml:"server"`
	TLS        *TLSConfig        `toml:"tls"`
	Filesystem *FilesystemConfig `toml:"filesystem"`
	OAuth      *oauthConfig      `toml:"oauth"`
	Database   *databaseConfig   `toml:"database"`
	Cache      *CacheConfig      `toml:"cache"`
	Logging    *LoggingConfig    `toml:"logging"`
	Metrics    *metricsConfig    `toml:"metrics"`
}

type oauthConfig struct {
	VerifyURL          string `toml:"verify_url"`
	RedirectURL        string `toml:"redirect_url"`
	BackURL            string `toml:"back_url"`
	CacheTTLSeconds    int    `toml:"cache_ttl_seconds"`
	TimeoutMS          int    `toml:"timeout_ms"`
	MaxResponseBytes   int64  `toml:"max_response_bytes"`
	CAFile             string `toml:"ca_file"`
	CADir              string `toml:"ca_dir"`
	InsecureSkipVerify *bool  `toml:"insecure_skip_verify"`
}

type databaseConfig struct {
	Driver   string          `toml:"driver"`
	SQLite   *SQLiteConfig   `toml:"sqlite"`
	Postgres *PostgresConfig `toml:"postgres"`
}

type metricsConfig struct {
	Enabled *bool  `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load loads configuration with the following precedence:
//  1. Determine effective mode: --mode flag > mode in config file > default (strict)
//  2. Start from mode preset defaults
//  3. Overlay TOML config file values
//  4. Overlay CLI flags
//  5. Validate
//
// If ConfigPath is provided but the file is missing, unreadable, or invalid TOML,
// Load returns an error (fail fast). Unknown TOML keys produce a warning.
func Load(opts LoaderOptions) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var fc fileConfig

	if opts.ConfigPath != "" {
		data, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigPath, err)
		}
		md, err := toml.Decode(string(data), &fc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", opts.ConfigPath, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keyStr := k.String()
				// driver maps are decoded later by the drivers themselves
				if strings.HasPrefix(keyStr, "cache.drivers.") {
					continue
				}
				keys = append(keys, keyStr)
			}
			if len(keys) > 0 {
				logger.Warn("config file contains undecoded keys", "path", opts.ConfigPath, "keys", keys)
			}
		}
	}

	modeStr := "strict"
	if fc.Mode != "" {
		modeStr = fc.Mode
	}
	if opts.ModeFlag != "" {
		modeStr = opts.ModeFlag
	}
	mode, err := ParseMode(modeStr)
	if err != nil {
		return nil, err
	}

	cfg := presetForMode(mode)

	if opts.ConfigPath != "" {
		overlayFileConfig(cfg, &fc)
	}

	overlayFlags(cfg, opts.FlagOverrides)

	if err := validateEnums(cfg); err != nil {
		return nil, err
	}
	if err := validatePublicOrigin(cfg); err != nil {
		return nil, err
	}
	if err := validateOAuth(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// presetForMode returns the base config for a given mode.
func presetForMode(mode Mode) *Config {
	if mode == ModeDev {
		return DevConfig()
	}
	return StrictConfig()
}

// StrictConfig returns production-safe strict defaults.
func StrictConfig() *Config {
	return &Config{
		Mode:       string(ModeStrict),
		ListenAddr: ":8000",
		Server: ServerConfig{
			ReadTimeoutMS:    30000,
			WriteTimeoutMS:   0,
			IdleTimeoutMS:    120000,
			RequestTimeoutMS: 0,
		},
		TLS: TLSConfig{
			Mode: "static",
		},
		Filesystem: FilesystemConfig{
			Bindpoint: "/var/lib/localbox",
		},
		OAuth: OAuthConfig{
			CacheTTLSeconds:  600,
			TimeoutMS:        5000,
			MaxResponseBytes: 4096,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "/var/lib/localbox/localbox.db"},
			Postgres: PostgresConfig{
				Host:         "localhost",
				Port:         5432,
				User:         "localbox",
				Database:     "localbox",
				SSLMode:      "require",
				MaxOpenConns: 10,
				MaxIdleConns: 5,
			},
		},
		Cache: CacheConfig{
			Driver: "memory",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// DevConfig returns development mode defaults.
func DevConfig() *Config {
	cfg := StrictConfig()
	cfg.Mode = string(ModeDev)
	cfg.TLS.Mode = "off"
	cfg.TLS.SelfSignedDir = ".localbox/certs"
	cfg.Filesystem.Bindpoint = ".localbox/files"
	cfg.Database.SQLite.Path = ".localbox/localbox.db"
	cfg.Database.Postgres.SSLMode = "disable"
	cfg.OAuth.InsecureSkipVerify = true
	cfg.Logging.Level = "debug"
	return cfg
}

// overlayFileConfig applies TOML file values onto cfg.
func overlayFileConfig(cfg *Config, fc *fileConfig) {
	if fc.PublicOrigin != "" {
		cfg.PublicOrigin = fc.PublicOrigin
	}
	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}

	if fc.Server != nil {
		if fc.Server.ReadTimeoutMS != 0 {
			cfg.Server.ReadTimeoutMS = fc.Server.ReadTimeoutMS
		}
		if fc.Server.WriteTimeoutMS != 0 {
			cfg.Server.WriteTimeoutMS = fc.Server.WriteTimeoutMS
		}
		if fc.Server.IdleTimeoutMS != 0 {
			cfg.Server.IdleTimeoutMS = fc.Server.IdleTimeoutMS
		}
		if fc.Server.RequestTimeoutMS != 0 {
			cfg.Server.RequestTimeoutMS = fc.Server.RequestTimeoutMS
		}
		if fc.Server.MaxUploadBytes != 0 {
			cfg.Server.MaxUploadBytes = fc.Server.MaxUploadBytes
		}
	}

	if fc.TLS != nil {
		if fc.TLS.Mode != "" {
			cfg.TLS.Mode = fc.TLS.Mode
		}
		if fc.TLS.CertFile != "" {
			cfg.TLS.CertFile = fc.TLS.CertFile
		}
		if fc.TLS.KeyFile != "" {
			cfg.TLS.KeyFile = fc.TLS.KeyFile
		}
		if fc.TLS.SelfSignedDir != "" {
			cfg.TLS.SelfSignedDir = fc.TLS.SelfSignedDir
		}
	}

	if fc.Filesystem != nil && fc.Filesystem.Bindpoint != "" {
		cfg.Filesystem.Bindpoint = fc.Filesystem.Bindpoint
	}

	if fc.OAuth != nil {
		if fc.OAuth.VerifyURL != "" {
			cfg.OAuth.VerifyURL = fc.OAuth.VerifyURL
		}
		if fc.OAuth.RedirectURL != "" {
			cfg.OAuth.RedirectURL = fc.OAuth.RedirectURL
		}
		if fc.OAuth.BackURL != "" {
			cfg.OAuth.BackURL = fc.OAuth.BackURL
		}
		if fc.OAuth.CacheTTLSeconds != 0 {
			cfg.OAuth.CacheTTLSeconds = fc.OAuth.CacheTTLSeconds
		}
		if fc.OAuth.TimeoutMS != 0 {
			cfg.OAuth.TimeoutMS = fc.OAuth.TimeoutMS
		}
		if fc.OAuth.MaxResponseBytes != 0 {
			cfg.OAuth.MaxResponseBytes = fc.OAuth.MaxResponseBytes
		}
		if fc.OAuth.CAFile != "" {
			cfg.OAuth.CAFile = fc.OAuth.CAFile
		}
		if fc.OAuth.CADir != "" {
			cfg.OAuth.CADir = fc.OAuth.CADir
		}
		if fc.OAuth.InsecureSkipVerify != nil {
			cfg.OAuth.InsecureSkipVerify = *fc.OAuth.InsecureSkipVerify
		}
	}

	if fc.Database != nil {
		if fc.Database.Driver != "" {
			cfg.Database.Driver = fc.Database.Driver
		}
		if fc.Database.SQLite != nil && fc.Database.SQLite.Path != "" {
			cfg.Database.SQLite.Path = fc.Database.SQLite.Path
		}
		if pg := fc.Database.Postgres; pg != nil {
			if pg.Host != "" {
				cfg.Database.Postgres.Host = pg.Host
			}
			if pg.Port != 0 {
				cfg.Database.Postgres.Port = pg.Port
			}
			if pg.User != "" {
				cfg.Database.Postgres.User = pg.User
			}
			if pg.Password != "" {
				cfg.Database.Postgres.Password = pg.Password
			}
			if pg.Database != "" {
				cfg.Database.Postgres.Database = pg.Database
			}
			if pg.SSLMode != "" {
				cfg.Database.Postgres.SSLMode = pg.SSLMode
			}
			if pg.MaxOpenConns != 0 {
				cfg.Database.Postgres.MaxOpenConns = pg.MaxOpenConns
			}
			if pg.MaxIdleConns != 0 {
				cfg.Database.Postgres.MaxIdleConns = pg.MaxIdleConns
			}
		}
	}

	if fc.Cache != nil {
		if fc.Cache.Driver != "" {
			cfg.Cache.Driver = fc.Cache.Driver
		}
		if len(fc.Cache.Drivers) > 0 {
			cfg.Cache.Drivers = fc.Cache.Drivers
		}
	}

	if fc.Logging != nil {
		if fc.Logging.Level != "" {
			cfg.Logging.Level = fc.Logging.Level
		}
		// AllowSensitive is a bool, overlay when section present
		cfg.Logging.AllowSensitive = fc.Logging.AllowSensitive
	}

	if fc.Metrics != nil {
		if fc.Metrics.Enabled != nil {
			cfg.Metrics.Enabled = *fc.Metrics.Enabled
		}
		if fc.Metrics.Path != "" {
			cfg.Metrics.Path = fc.Metrics.Path
		}
	}
}

// overlayFlags applies CLI flag values onto cfg.
func overlayFlags(cfg *Config, f FlagOverrides) {
	if f.ListenAddr != nil && *f.ListenAddr != "" {
		cfg.ListenAddr = *f.ListenAddr
	}
	if f.PublicOrigin != nil && *f.PublicOrigin != "" {
		cfg.PublicOrigin = *f.PublicOrigin
	}
	if f.Bindpoint != nil && *f.Bindpoint != "" {
		cfg.Filesystem.Bindpoint = *f.Bindpoint
	}
	if f.TLSMode != nil && *f.TLSMode != "" {
		cfg.TLS.Mode = *f.TLSMode
	}
	if f.VerifyURL != nil && *f.VerifyURL != "" {
		cfg.OAuth.VerifyURL = *f.VerifyURL
	}
	if f.DatabaseDriver != nil && *f.DatabaseDriver != "" {
		cfg.Database.Driver = *f.DatabaseDriver
	}
	if f.LoggingLevel != nil && *f.LoggingLevel != "" {
		cfg.Logging.Level = *f.LoggingLevel
	}
}

// validateEnums validates enum-like config fields and returns an error for invalid values.
func validateEnums(cfg *Config) error {
	switch cfg.TLS.Mode {
	case "off":
	case "static":
		if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
			return fmt.Errorf("tls.mode static requires tls.cert_file and tls.key_file")
		}
	case "selfsigned":
		if cfg.Mode != string(ModeDev) {
			return fmt.Errorf("tls.mode selfsigned is only allowed in dev mode")
		}
	default:
		return fmt.Errorf("invalid tls.mode %q: must be one of off, static, selfsigned", cfg.TLS.Mode)
	}

	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path must not be empty")
		}
	case "postgres":
		if cfg.Database.Postgres.Host == "" || cfg.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres requires host and database")
		}
	default:
		return fmt.Errorf("invalid database.driver %q: must be one of sqlite, postgres", cfg.Database.Driver)
	}

	// cache.driver (empty defaults to memory)
	switch cfg.Cache.Driver {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("invalid cache.driver %q: must be one of memory or redis", cfg.Cache.Driver)
	}

	switch cfg.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q: must be one of trace, debug, info, warn, error", cfg.Logging.Level)
	}

	if strings.TrimSpace(cfg.Filesystem.Bindpoint) == "" {
		return fmt.Errorf("filesystem.bindpoint must not be empty")
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("invalid metrics.path %q: must start with '/'", cfg.Metrics.Path)
	}

	return nil
}

// validateOAuth checks the verification endpoint settings.
func validateOAuth(cfg *Config) error {
	if cfg.OAuth.VerifyURL == "" {
		return fmt.Errorf("oauth.verify_url must be set")
	}
	for name, raw := range map[string]string{
		"oauth.verify_url":   cfg.OAuth.VerifyURL,
		"oauth.redirect_url": cfg.OAuth.RedirectURL,
		"oauth.back_url":     cfg.OAuth.BackURL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, raw, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("invalid %s %q: scheme must be http or https", name, raw)
		}
		if u.Host == "" {
			return fmt.Errorf("invalid %s %q: must include a host", name, raw)
		}
	}
	if cfg.Mode == string(ModeStrict) && strings.HasPrefix(cfg.OAuth.VerifyURL, "http://") {
		return fmt.Errorf("oauth.verify_url must use https in strict mode")
	}
	if cfg.OAuth.CacheTTLSeconds < 0 {
		return fmt.Errorf("oauth.cache_ttl_seconds must not be negative")
	}
	return nil
}

// validatePublicOrigin checks the public_origin config value when set.
// Must be an absolute URL with http/https scheme, a host, no userinfo,
// query, fragment, or path. Whitespace is rejected, not trimmed.
func validatePublicOrigin(cfg *Config) error {
	if cfg.PublicOrigin == "" {
		return nil
	}

	origin := cfg.PublicOrigin

	if origin != strings.TrimSpace(origin) {
		return fmt.Errorf("invalid public_origin %q: must not contain leading or trailing whitespace", origin)
	}

	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid public_origin %q: %w", origin, err)
	}

	if !u.IsAbs() {
		return fmt.Errorf("invalid public_origin %q: must be an absolute URL with http or https scheme", origin)
	}

	switch u.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("invalid public_origin %q: scheme must be http or https, got %q", origin, u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("invalid public_origin %q: must include a host", origin)
	}
	if u.User != nil {
		return fmt.Errorf("invalid public_origin %q: must not include userinfo", origin)
	}
	if u.RawQuery != "" {
		return fmt.Errorf("invalid public_origin %q: must not include a query string", origin)
	}
	if u.Fragment != "" {
		return fmt.Errorf("invalid public_origin %q: must not include a fragment", origin)
	}
	if u.Path != "" && u.Path != "/" {
		return fmt.Errorf("invalid public_origin %q: must not include a path", origin)
	}

	return nil
}
