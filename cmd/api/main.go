package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/dee-identity/dee_registry/internal/auth"
	"github.com/dee-identity/dee_registry/internal/config"
	"github.com/dee-identity/dee_registry/internal/infra"
	"github.com/dee-identity/dee_registry/internal/logging"
	"github.com/dee-identity/dee_registry/internal/server"
)

func main() {
	cmd := &cli.Command{
		Name:  "dee-registry",
		Usage: "DID identity registry and credential ledger",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Flags:  []cli.Flag{&cli.BoolFlag{Name: "migrate", Usage: "Apply pending migrations before serving", Sources: cli.EnvVars("AUTO_MIGRATE")}},
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "Apply or roll back database migrations",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "down", Usage: "Roll back this many migrations instead of applying"},
				},
				Action: migrate,
			},
			{
				Name:  "token",
				Usage: "Issue an actor token for the API",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "actor", Usage: "Actor identifier to embed as the token subject", Required: true},
					&cli.DurationFlag{Name: "ttl", Usage: "Token lifetime", Value: 24 * time.Hour},
				},
				Action: token,
			},
		},
		DefaultCommand: "serve",
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		if cmd.Bool("migrate") {
			if err := infra.Migrate(cfg.DatabaseURL, logger); err != nil {
				return err
			}
		}
		db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer db.Close()
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory storage")
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL, logger)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	} else {
		logger.Warn("REDIS_URL not set; rate limits are process-local and idempotency is disabled")
	}

	srv, err := server.New(ctx, cfg, db, cache, logger)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", slog.String("addr", cfg.Address()), slog.String("env", cfg.AppEnv))
		return srv.Listen()
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server exited cleanly")
	return nil
}

func migrate(_ context.Context, cmd *cli.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.LogLevel)
	if steps := int(cmd.Int("down")); steps > 0 {
		return infra.MigrateDown(cfg.DatabaseURL, steps, logger)
	}
	return infra.Migrate(cfg.DatabaseURL, logger)
}

func token(_ context.Context, cmd *cli.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set to issue tokens")
	}
	tok, err := auth.IssueActorToken([]byte(cfg.JWTSecret), cmd.String("actor"), cmd.Duration("ttl"), time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.Root().Writer, tok)
	return nil
}
