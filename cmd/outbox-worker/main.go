package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/notify"
)

// outbox-worker retries event_logs rows whose post-commit delivery failed or
// never ran (for example because the api-server died between commit and
// dispatch).
func main() {
	cfg, err := config.Load()
	if err != nil {
		stderrLogger := zerolog.New(os.Stderr)
		stderrLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(logging.Options{
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
		Service: "outbox-worker",
	})
	logger.Info().Dur("interval", cfg.OutboxInterval).Int("batch", cfg.OutboxBatch).Dur("lease", cfg.OutboxLease).Msg("outbox-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	notifier, mailer, closeNotifier, err := notify.FromConfig(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("notifier setup error")
	}
	defer func() {
		if err := closeNotifier(); err != nil {
			logger.Warn().Err(err).Msg("error closing notifier")
		}
	}()

	repo := appointment.NewPgRepository(pgPool)
	dispatcher := appointment.NewDispatcher(repo, notifier, mailer, logger)

	runOnce(rootCtx, dispatcher, cfg, logger)

	ticker := time.NewTicker(cfg.OutboxInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping outbox worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, dispatcher, cfg, logger)
		}
	}
}

func runOnce(ctx context.Context, d *appointment.Dispatcher, cfg config.Config, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	report, err := d.DispatchPending(runCtx, cfg.OutboxBatch, cfg.OutboxLease)
	if err != nil {
		logger.Error().Err(err).Msg("outbox run error")
		return
	}
	logger.Info().
		Int("sent", report.Sent).
		Int("notify_failures", report.NotifyFailures).
		Int("email_failures", report.EmailFailures).
		Dur("duration", time.Since(start)).
		Msg("outbox run complete")
}
