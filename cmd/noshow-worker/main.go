package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/scheduling-engine/internal/config"
	"github.com/hackgods/scheduling-engine/internal/db"
	"github.com/hackgods/scheduling-engine/internal/engine"
	"github.com/hackgods/scheduling-engine/internal/lock"
	"github.com/hackgods/scheduling-engine/internal/logging"
	"github.com/hackgods/scheduling-engine/internal/worker"
)

func main() {
	cfg, err := config.Load(true)
	if err != nil {
		logging.New("", "info").Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.Env, cfg.LogLevel)
	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Dur("grace", cfg.NoShowGrace).
		Msg("noshow-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg)
	cancelPg()
	if err != nil {
		logger.Error().Err(err).Msg("postgres connection error")
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info().Msg("connected to Postgres")

	// Status updates only take row-level guards, so no distributed locker
	// is needed here.
	eng := engine.Postgres(cfg, pool, lock.NewLocal(), logger)

	if err := worker.NewNoShowSweeper(eng.Appointments, cfg.WorkerInterval, cfg.NoShowGrace, logger).Run(rootCtx); err != nil {
		logger.Error().Err(err).Msg("noshow-worker stopped with error")
		return
	}
	logger.Info().Msg("noshow-worker stopped")
}
