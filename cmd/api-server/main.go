package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/scheduling-engine/internal/api"
	"github.com/hackgods/scheduling-engine/internal/config"
	"github.com/hackgods/scheduling-engine/internal/db"
	"github.com/hackgods/scheduling-engine/internal/engine"
	"github.com/hackgods/scheduling-engine/internal/lock"
	"github.com/hackgods/scheduling-engine/internal/logging"
	redisclient "github.com/hackgods/scheduling-engine/internal/redis"
	"github.com/hackgods/scheduling-engine/internal/worker"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "api-server",
		Short:        "Scheduling and token queue API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var (
		store   string
		migrate bool
		sweep   bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if store != "postgres" && store != "memory" {
				return fmt.Errorf("--store must be postgres or memory, got %q", store)
			}
			return runServer(store, migrate, sweep)
		},
	}
	cmd.Flags().StringVar(&store, "store", "postgres", "Backing store: postgres or memory")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply pending migrations before serving")
	cmd.Flags().BoolVar(&sweep, "noshow-sweep", false, "Run the no-show sweep inside the server process")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(true)
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Env, cfg.LogLevel)

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			pool, err := db.ConnectPostgres(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := db.Migrate(ctx, pool)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			logger.Info().Int("applied", applied).Msg("migrations complete")
			return nil
		},
	}
}

func runServer(store string, migrate, sweep bool) error {
	cfg, err := config.Load(store == "postgres")
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	logger := logging.New(cfg.Env, cfg.LogLevel)
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("store", store).
		Str("timezone", cfg.Timezone.String()).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		eng  *engine.Engine
		deps []api.Dependency
	)
	switch store {
	case "memory":
		logger.Warn().Msg("using the in-memory store; data is lost on exit")
		memEng, mem := engine.Memory(cfg, logger)
		eng = memEng
		deps = append(deps, api.Dependency{Name: "store", Ping: mem.Ping, Critical: true})
	default:
		closeFn, pgEng, pgDeps, err := postgresEngine(rootCtx, cfg, migrate, logger)
		if err != nil {
			return err
		}
		defer closeFn()
		eng, deps = pgEng, pgDeps
	}

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Engine: eng,
			Health: api.NewHealthHandler(cfg.Env, version, deps...),
			Logger: logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down api-server")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	})
	if sweep {
		g.Go(func() error {
			return worker.NewNoShowSweeper(eng.Appointments, cfg.WorkerInterval, cfg.NoShowGrace, logger).Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("api-server stopped with error")
		return err
	}
	logger.Info().Msg("api-server stopped")
	return nil
}

// postgresEngine connects Postgres and Redis. Redis only coordinates
// instances; when it is unreachable the server falls back to in-process
// locks and relies on Postgres advisory locks for correctness.
func postgresEngine(ctx context.Context, cfg config.Config, migrate bool, logger zerolog.Logger) (func(), *engine.Engine, []api.Dependency, error) {
	pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg)
	cancelPg()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("postgres connection: %w", err)
	}
	logger.Info().Msg("connected to Postgres")

	if migrate {
		applied, err := db.Migrate(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info().Int("applied", applied).Msg("migrations complete")
	}

	deps := []api.Dependency{{Name: "postgres", Ping: pool.Ping, Critical: true}}
	closers := []func(){pool.Close}

	var locker lock.Locker
	rdb, err := redisclient.Connect(ctx, cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, using in-process locks")
		locker = lock.NewLocal()
	} else {
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
		locker = lock.NewRetrying(redisclient.NewRedisLocker(rdb, cfg.LockTTL), cfg.LockWait, cfg.LockRetryDelay)
		deps = append(deps, api.Dependency{Name: "redis", Ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		closers = append(closers, func() {
			if err := rdb.Close(); err != nil {
				logger.Error().Err(err).Msg("error closing redis")
			}
		})
	}

	closeFn := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return closeFn, engine.Postgres(cfg, pool, locker, logger), deps, nil
}
