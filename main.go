package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mailintel_server/config"
	"mailintel_server/internal/bootstrap"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const (
	shutdownTimeout = 30 * time.Second // Maximum time to wait for graceful shutdown
	idlePollDelay   = 30 * time.Second // How long service mode waits when the queue is empty
)

func main() {
	// Load .env file if exists (for local development)
	_ = godotenv.Load()

	mode := flag.String("mode", "all", "Run mode: api, worker, monitor, all")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("failed to load config")
	}

	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := bootstrap.NewDependencies(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize dependencies")
	}
	defer cleanup()

	switch *mode {
	case "worker":
		// Single pipeline pass: recover, group, drain the queue, exit.
		if err := runPipelinePass(ctx, deps, log); err != nil {
			log.Fatal().Err(err).Msg("pipeline run failed")
		}
	case "api":
		go runMonitor(ctx, deps)
		runAPI(ctx, deps, log)
	case "monitor":
		runMonitor(ctx, deps)
	case "all":
		go runMonitor(ctx, deps)
		go runWorkerLoop(ctx, deps, log)
		runAPI(ctx, deps, log)
	default:
		log.Fatal().Str("mode", *mode).Msg("unknown mode")
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var out = zerolog.New(os.Stdout)
	if cfg.IsDevelopment() {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return out.With().Timestamp().Str("service", "mailintel").Logger()
}

// runPipelinePass executes one full claim-analyze-persist cycle: requeue
// orphans from a previous crash, group ungrouped emails into chains, then
// drain the claimable queue.
func runPipelinePass(ctx context.Context, deps *bootstrap.Dependencies, log zerolog.Logger) error {
	recovered, err := deps.EmailRepo.RecoverOrphans(ctx, deps.Config.OrphanGrace)
	if err != nil {
		return err
	}
	if recovered > 0 {
		log.Warn().Int("recovered", recovered).Msg("requeued orphaned rows from a previous run")
	}

	grouped, err := deps.ChainService.BuildChains(ctx)
	if err != nil {
		return err
	}
	log.Info().Int("grouped", grouped).Msg("chain grouping done")

	summary, err := deps.Executor.Run(ctx)
	if err != nil {
		return err
	}
	log.Info().
		Int("processed", summary.Processed).
		Int("failed", summary.Failed).
		Int("timed_out", summary.TimedOut).
		Str("elapsed", summary.Elapsed).
		Msg("pipeline pass complete")
	return nil
}

// runWorkerLoop keeps running pipeline passes until shutdown, idling
// between passes when the queue is empty.
func runWorkerLoop(ctx context.Context, deps *bootstrap.Dependencies, log zerolog.Logger) {
	for {
		if err := runPipelinePass(ctx, deps, log); err != nil {
			log.Error().Err(err).Msg("pipeline pass failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(idlePollDelay):
		}
	}
}

func runMonitor(ctx context.Context, deps *bootstrap.Dependencies) {
	deps.Monitor.Run(ctx, deps.Config.MonitorInterval)
}

func runAPI(ctx context.Context, deps *bootstrap.Dependencies, log zerolog.Logger) {
	app := bootstrap.NewAPI(deps)

	go func() {
		<-ctx.Done()
		log.Info().Dur("timeout", shutdownTimeout).Msg("shutting down API server")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			log.Error().Err(err).Msg("API shutdown error")
		}
	}()

	addr := ":" + deps.Config.Port
	log.Info().Str("addr", addr).Msg("starting API server")
	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("API server stopped")
	}
}
