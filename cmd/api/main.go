package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"genorch/internal/adapter/memstore"
	"genorch/internal/adapter/repo"
	"genorch/internal/admission"
	"genorch/internal/domain"
	"genorch/internal/http/handlers"
	httpapi "genorch/internal/http/httpapi"
	"genorch/internal/infra"
	"genorch/internal/infra/credentials"
	"genorch/internal/infra/geoip"
	"genorch/internal/orchestrator"
	"genorch/internal/providers/taskapi"
)

const guardSweepInterval = 5 * time.Minute

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("api stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("server stopped")
}

type storage struct {
	jobs   domain.JobRecords
	wallet domain.Wallet
	creds  *credentials.Store
	close  func()
}

func openStorage(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*storage, error) {
	if !cfg.UsesDatabase() {
		logger.Warn().Msg("DATABASE_URL not set; jobs and balances are kept in memory")
		return &storage{
			jobs:   memstore.NewJobStore(),
			wallet: memstore.NewWallet(),
			close:  func() {},
		}, nil
	}
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	runner := infra.NewSQLRunner(pool, logger)
	return &storage{
		jobs:   repo.NewJobRepository(runner),
		wallet: repo.NewWalletRepository(runner),
		creds:  credentials.NewStore(runner),
		close:  pool.Close,
	}, nil
}

func newAdmission(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*admission.Controller, *redis.Client, error) {
	g := cfg.Guard
	guardCfg := admission.GuardConfig{
		BlockDuration:     g.BlockDuration,
		BlockAfterStrikes: g.BlockAfterStrikes,
		CooldownBase:      g.CooldownBase,
		CooldownRepeat:    g.CooldownRepeat,
		DedupTTL:          g.DedupTTL,
		HeavyLimit:        g.HeavyLimit,
		HeavyWindow:       g.HeavyWindow,
		ActionLimit:       g.ActionLimit,
		ActionWindow:      g.ActionWindow,
		BurstLimit:        g.BurstLimit,
		BurstWindow:       g.BurstWindow,
	}
	opts := []admission.GuardOption{admission.WithGuardLogger(logger)}

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	var idem admission.IdempotencyStore
	if rdb != nil {
		logger.Info().Msg("idempotency and event dedup backed by redis")
		idem = admission.NewRedisIdempotency(rdb, cfg.IdempotencyTTL)
		opts = append(opts, admission.WithDedup(admission.NewRedisDedup(rdb)))
	} else {
		idem = admission.NewMemoryIdempotency(cfg.IdempotencyTTL, nil)
	}

	guard := admission.NewGuard(guardCfg, opts...)
	return admission.NewController(guard, idem, admission.NewJobLock()), rdb, nil
}

func newDeliverer(cfg *infra.Config, logger zerolog.Logger) (domain.Deliverer, error) {
	if cfg.WebhookURL == "" {
		return orchestrator.NewLogDeliverer(logger), nil
	}
	return orchestrator.NewWebhookDeliverer(orchestrator.WebhookOptions{
		URL:     cfg.WebhookURL,
		Secret:  cfg.WebhookSecret,
		Timeout: cfg.ProviderTimeout,
	})
}

func run(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) error {
	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.close()

	adm, rdb, err := newAdmission(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	apiKey, err := store.creds.ResolveProviderKey(ctx, cfg.ProviderAPIKey)
	if err != nil {
		logger.Warn().Err(err).Msg("provider key lookup failed; using environment value")
		apiKey = cfg.ProviderAPIKey
	}
	if apiKey == "" {
		logger.Warn().Msg("no provider API key configured; generations will be rejected")
	}
	provider, err := taskapi.NewClient(taskapi.Options{
		APIKey:         apiKey,
		BaseURL:        cfg.ProviderBaseURL,
		Logger:         &logger,
		RequestTimeout: cfg.ProviderTimeout,
	})
	if err != nil {
		return err
	}

	deliverer, err := newDeliverer(cfg, logger)
	if err != nil {
		return err
	}

	svc, err := orchestrator.New(orchestrator.Config{
		PollInterval:   cfg.PollInterval,
		DefaultTimeout: cfg.JobTimeout,
		MaxPollErrors:  cfg.MaxPollErrors,
		SettleTimeout:  cfg.SettleTimeout,
		PreemptWait:    cfg.PreemptWait,
	}, orchestrator.Deps{
		Admission: adm,
		Jobs:      store.jobs,
		Wallet:    store.wallet,
		Provider:  provider,
		Deliverer: deliverer,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	geo, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip database unavailable")
	}
	defer geo.Close()

	app := handlers.NewApp(svc, cfg.PriceFor, logger)
	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:       cfg.JWTSecret,
		AllowedOrigins:  cfg.AllowedOrigins,
		DefaultLocale:   cfg.DefaultLocale,
		CountryLookup:   geo.Lookup(),
		RateLimitPerMin: cfg.RateLimitPerMin,
		Logger:          logger,
	})
	server := infra.NewHTTPServer(cfg, router)

	// Anything still unsettled at start-up was left by a previous process.
	recovered, err := svc.RecoverOrphans(ctx, cfg.OrphanAge)
	if err != nil {
		logger.Error().Err(err).Msg("orphan recovery failed")
	} else if recovered > 0 {
		logger.Warn().Int("jobs", recovered).Msg("settled orphaned jobs")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Msgf("API listening on %s", server.Addr())
		return server.Start()
	})
	g.Go(func() error {
		ticker := time.NewTicker(guardSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := adm.Guard.Sweep(); n > 0 {
					logger.Debug().Int("users", n).Msg("guard state swept")
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout+cfg.SettleTimeout)
		defer cancel()
		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := svc.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}
