// Package main is the entrypoint for the localbox-go server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MahdiBaghbani/localbox-go/internal/components/authcache"
	"github.com/MahdiBaghbani/localbox-go/internal/components/identity"
	"github.com/MahdiBaghbani/localbox-go/internal/components/linkindex"
	"github.com/MahdiBaghbani/localbox-go/internal/components/pathcodec"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/cache"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/config"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/deps"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/http/client"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/http/server"
	tlspkg "github.com/MahdiBaghbani/localbox-go/internal/platform/http/tls"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/logutil"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/metrics"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/store"

	// Register cache and datastore drivers
	_ "github.com/MahdiBaghbani/localbox-go/internal/platform/cache/loader"
	_ "github.com/MahdiBaghbani/localbox-go/internal/platform/store/loader"
)

const (
	shutdownTimeout    = 30 * time.Second
	authSweepInterval  = time.Minute
	startupInitTimeout = 30 * time.Second
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file (optional)")
	modeFlag := flag.String("mode", "", "Operating mode: strict or dev (overrides config)")
	listenAddr := flag.String("listen", "", "Listen address (overrides config)")
	publicOrigin := flag.String("public-origin", "", "Public origin used in authentication challenges (overrides config)")
	bindpoint := flag.String("bindpoint", "", "Directory holding the user homes (overrides config)")
	tlsMode := flag.String("tls-mode", "", "TLS mode: off, static, or selfsigned (overrides config)")
	verifyURL := flag.String("verify-url", "", "Token verification endpoint (overrides config)")
	databaseDriver := flag.String("database-driver", "", "Datastore driver: sqlite or postgres (overrides config)")
	loggingLevel := flag.String("logging-level", "", "Log level: trace, debug, info, warn, error (overrides config)")
	flag.Parse()

	// Bootstrap logger for config loading errors
	bootstrapLogger := logutil.NewJSON(os.Stdout, "info")

	// Precedence: mode preset -> TOML file -> CLI flags
	cfg, err := config.Load(config.LoaderOptions{
		ConfigPath: *configPath,
		ModeFlag:   *modeFlag,
		FlagOverrides: config.FlagOverrides{
			ListenAddr:     listenAddr,
			PublicOrigin:   publicOrigin,
			Bindpoint:      bindpoint,
			TLSMode:        tlsMode,
			VerifyURL:      verifyURL,
			DatabaseDriver: databaseDriver,
			LoggingLevel:   loggingLevel,
		},
		Logger: bootstrapLogger,
	})
	if err != nil {
		bootstrapLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logutil.NewJSON(os.Stdout, cfg.Logging.Level)
	slog.SetDefault(logger)
	logger.Info("effective configuration", "config", cfg.Redacted())

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	d, err := buildDeps(cfg, logger)
	if err != nil {
		return err
	}

	srv, err := server.New(d)
	if err != nil {
		_ = d.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sweepAuthCache(ctx, d.AuthCache, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	logger.Info("server started, press Ctrl+C to stop", "listen_addr", cfg.ListenAddr)

	select {
	case err := <-errCh:
		_ = d.Close()
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildDeps wires the process services. On error everything opened so far is
// closed again.
func buildDeps(cfg *config.Config, logger *slog.Logger) (_ *deps.Deps, err error) {
	d := &deps.Deps{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = d.Close()
		}
	}()

	if cfg.Metrics.Enabled {
		d.Metrics = metrics.New()
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupInitTimeout)
	defer cancel()

	if err := os.MkdirAll(cfg.Filesystem.Bindpoint, 0o755); err != nil {
		return nil, err
	}
	d.Codec, err = pathcodec.New(cfg.Filesystem.Bindpoint)
	if err != nil {
		return nil, err
	}

	ds, err := store.New(&store.DriverConfig{
		Driver:       cfg.Database.Driver,
		SQLitePath:   cfg.Database.SQLite.Path,
		PostgresDSN:  cfg.Database.Postgres.DSN(),
		MaxOpenConns: cfg.Database.Postgres.MaxOpenConns,
		MaxIdleConns: cfg.Database.Postgres.MaxIdleConns,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	if err := ds.Init(ctx); err != nil {
		return nil, err
	}
	d.Store = ds
	logger.Info("datastore ready", "driver", ds.Name())

	opts := []linkindex.Option{linkindex.WithLogger(logger)}
	if d.Metrics != nil {
		opts = append(opts, linkindex.WithObserver(d.Metrics.SetShareLinks))
	}
	d.Index = linkindex.New(opts...)
	if err := d.Index.Build(ctx, d.Codec.Bindpoint()); err != nil {
		return nil, err
	}

	d.Cache, err = cache.New(cfg.Cache.Driver, cfg.Cache.DriverConfig(), logger)
	if err != nil {
		return nil, err
	}
	d.AuthCache = authcache.New(d.Cache, cfg.AuthCacheTTL(), logger)

	roots, err := tlspkg.RootCAs(cfg.OAuth.CAFile, cfg.OAuth.CADir)
	if err != nil {
		return nil, err
	}
	if cfg.OAuth.InsecureSkipVerify {
		logger.Warn("token verification skips TLS certificate checks")
	}
	httpClient := client.New(client.Options{
		Timeout:            cfg.VerifyTimeout(),
		MaxResponseBytes:   cfg.OAuth.MaxResponseBytes,
		RootCAs:            roots,
		InsecureSkipVerify: cfg.OAuth.InsecureSkipVerify,
	})
	verifier := identity.NewHTTPVerifier(cfg.OAuth.VerifyURL, httpClient)
	d.Authenticator = identity.NewAuthenticator(d.AuthCache, verifier, d.Metrics, logger)

	return d, nil
}

func sweepAuthCache(ctx context.Context, ac *authcache.AuthCache, logger *slog.Logger) {
	ticker := time.NewTicker(authSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := ac.Sweep(ctx); n > 0 {
				logger.Debug("expired auth cache entries dropped", "count", n)
			}
		}
	}
}
