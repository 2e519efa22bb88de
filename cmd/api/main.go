package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/advisory"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/app"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/config"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/search"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/session"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/store"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "strategy-api",
		Short:         "Real-time sync engine for the strategy tracker",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newServeCommand(), newSeedThemesCommand(), newGraphCommand(), newMigrateCommand())
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	docs, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer docs.Close()

	var opts []app.Option
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
		opts = append(opts, app.WithSearchIndex(meili))
	}

	if cfg.Advisory.APIKey != "" {
		generator, err := advisory.NewOpenAI(advisory.Config{
			APIKey:    cfg.Advisory.APIKey,
			BaseURL:   cfg.Advisory.BaseURL,
			Model:     cfg.Advisory.Model,
			PerMinute: cfg.Advisory.PerMinute,
		}, logger)
		if err != nil {
			return err
		}
		opts = append(opts, app.WithGenerator(generator))
	}

	registry := app.NewRegistry(cfg, docs, logger, opts...)
	defer registry.Close()

	httpServer := app.NewHTTPServer(registry, []byte(cfg.JWTSecret), cfg.AccessTTL, cfg.CORSOrigin, logger)
	if cfg.Backend == config.BackendRedis {
		revocations, err := session.NewRedisRevocations(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer revocations.Close()
		httpServer.WithRevocations(revocations)
	}
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("strategy api listening", "addr", cfg.Addr, "backend", cfg.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown error", "error", err)
		}
		return nil
	})
	return group.Wait()
}

func newSeedThemesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-themes",
		Short: "Write the default themes that are missing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			docs, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer docs.Close()
			written, err := app.SeedThemes(cmd.Context(), docs, time.Now())
			if err != nil {
				return err
			}
			logger.Info("seeded default themes", "count", written)
			return nil
		},
	}
}

func setup() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.DocumentStore, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		return store.NewRedisStore(cfg.RedisURL, logger)
	case config.BackendPostgres:
		return store.OpenPostgresStore(ctx, cfg.DatabaseURL, cfg.MigrationsDir, logger)
	case config.BackendMemory:
		logger.Warn("using in-memory document store; data is lost on exit")
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
