// Command worker settles jobs that were left queued or running by an API
// process that died. Only jobs older than the longest possible job lifetime
// are touched, so it can run next to a live API.
package main

import (
	"context"
	"errors"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"genorch/internal/adapter/repo"
	"genorch/internal/domain"
	"genorch/internal/infra"
	"genorch/internal/infra/credentials"
	"genorch/internal/orchestrator"
	"genorch/internal/providers/taskapi"
)

const defaultSweepInterval = time.Minute

type reconcileWorker struct {
	svc      *orchestrator.Service
	logger   infra.Logger
	interval time.Duration
	minAge   time.Duration
}

func main() {
	var (
		once     bool
		interval time.Duration
	)
	flag.BoolVar(&once, "once", false, "run a single sweep and exit")
	flag.DurationVar(&interval, "interval", defaultSweepInterval, "time between sweeps")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel).With().Str("cmd", "worker").Logger()

	if !cfg.UsesDatabase() {
		logger.Fatal().Msg("worker: DATABASE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	runner := infra.NewSQLRunner(pool, logger)

	apiKey, err := credentials.NewStore(runner).ResolveProviderKey(ctx, cfg.ProviderAPIKey)
	if err != nil {
		logger.Warn().Err(err).Msg("worker: failed to load provider api key from store")
	}
	provider, err := taskapi.NewClient(taskapi.Options{
		APIKey:         apiKey,
		BaseURL:        cfg.ProviderBaseURL,
		Logger:         &logger,
		RequestTimeout: cfg.ProviderTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure provider client")
	}

	var deliverer domain.Deliverer
	if cfg.WebhookURL != "" {
		deliverer, err = orchestrator.NewWebhookDeliverer(orchestrator.WebhookOptions{
			URL:     cfg.WebhookURL,
			Secret:  cfg.WebhookSecret,
			Timeout: cfg.ProviderTimeout,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: failed to configure delivery webhook")
		}
	} else {
		deliverer = orchestrator.NewLogDeliverer(logger)
	}

	svc, err := orchestrator.New(orchestrator.Config{
		PollInterval:   cfg.PollInterval,
		DefaultTimeout: cfg.JobTimeout,
		SettleTimeout:  cfg.SettleTimeout,
	}, orchestrator.Deps{
		Jobs:      repo.NewJobRepository(runner),
		Wallet:    repo.NewWalletRepository(runner),
		Provider:  provider,
		Deliverer: deliverer,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure orchestrator")
	}

	w := &reconcileWorker{
		svc:      svc,
		logger:   logger,
		interval: interval,
		minAge:   safeOrphanAge(cfg),
	}
	if once {
		w.sweep(ctx)
		return
	}
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

// safeOrphanAge is the youngest a job can be while no live API process may
// still own it.
func safeOrphanAge(cfg *infra.Config) time.Duration {
	age := cfg.JobTimeout + cfg.SettleTimeout + 2*cfg.PollInterval
	if cfg.OrphanAge > age {
		return cfg.OrphanAge
	}
	return age
}

func (w *reconcileWorker) Run(ctx context.Context) error {
	w.logger.Info().Dur("min_age", w.minAge).Msg("worker: started")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		w.sweep(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *reconcileWorker) sweep(ctx context.Context) {
	n, err := w.svc.RecoverOrphans(ctx, w.minAge)
	if err != nil {
		w.logger.Error().Err(err).Msg("worker: sweep failed")
		return
	}
	if n > 0 {
		w.logger.Warn().Int("jobs", n).Msg("worker: settled orphaned jobs")
	}
}
