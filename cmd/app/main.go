// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"sales-crm-docgen/internal/config"
	"sales-crm-docgen/internal/domain/ports/adapter"
	aiAdapters "sales-crm-docgen/internal/infra/adapters/ai"
	tele "sales-crm-docgen/internal/infra/adapters/telegram"
	"sales-crm-docgen/internal/infra/api"
	"sales-crm-docgen/internal/infra/api/apiv1"
	"sales-crm-docgen/internal/infra/credentials"
	pg "sales-crm-docgen/internal/infra/db/postgres"
	"sales-crm-docgen/internal/infra/i18n"
	"sales-crm-docgen/internal/infra/logging"
	"sales-crm-docgen/internal/infra/metrics"
	"sales-crm-docgen/internal/infra/prompts"
	red "sales-crm-docgen/internal/infra/redis"
	"sales-crm-docgen/internal/infra/sched"
	"sales-crm-docgen/internal/infra/security"
	"sales-crm-docgen/internal/infra/worker"
	"sales-crm-docgen/internal/normalize"
	"sales-crm-docgen/internal/retry"
	"sales-crm-docgen/internal/usecase"
)

// set with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "dev"
	commit  = "none"
)

const shutdownGrace = 30 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("docgen stopped with error")
	}
	logger.Info().Msg("docgen stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	rateLimiter := red.NewRateLimiter(redisClient)
	locker := red.NewLocker(redisClient)

	// ---- Encryption ----
	encKey := cfg.Security.EncryptionKey
	if len(encKey) != 32 {
		if !cfg.Runtime.Dev {
			return errors.New("security.encryption_key must be 32 bytes")
		}
		logger.Warn().Msg("security.encryption_key not set or not 32 bytes; falling back to dev key (INSECURE)")
		encKey = "0123456789abcdef0123456789abcdef"
	}
	encSvc, err := security.NewEncryptionService(encKey)
	if err != nil {
		return err
	}

	// ---- Repositories ----
	jobRepo := pg.NewDocJobRepoCacheDecorator(pg.NewDocJobRepo(pool), redisClient, cfg.Redis.TTL, logger)
	credRepo := pg.NewCredentialRepo(pool, encSvc)

	// ---- AI providers ----
	provider, providerFor := buildProvider(cfg.AI, logger)
	resolver := credentials.NewResolver(credRepo, map[string]string{
		aiAdapters.ProviderOpenAI:    cfg.AI.OpenAIKey,
		aiAdapters.ProviderAnthropic: cfg.AI.AnthropicKey,
		aiAdapters.ProviderGemini:    cfg.AI.GeminiKey,
	}, providerFor, logger)

	var promptSource adapter.PromptSource
	if cfg.AI.PromptsFile != "" {
		promptSource, err = prompts.Load(cfg.AI.PromptsFile)
	} else {
		promptSource, err = prompts.NewDefaultSource()
	}
	if err != nil {
		return err
	}

	// ---- Use cases ----
	jobs := usecase.NewJobManager(
		jobRepo,
		provider,
		promptSource,
		aiAdapters.ConfigModelSelector{AI: cfg.AI},
		resolver,
		&retry.Controller{MaxRetries: cfg.Retry.MaxRetries, BaseDelay: cfg.Retry.BaseDelay},
		normalize.New(normalize.Options{}),
		usecase.JobManagerOptions{
			MaxTokens:    cfg.AI.MaxTokens,
			WriteTimeout: cfg.Jobs.WriteTimeout,
			ExecTimeout:  cfg.Jobs.ExecTimeout,
			Estimator:    aiAdapters.NewTokenEstimator(),
			ProviderName: providerFor,
		},
		logger,
	)

	var notifier adapter.JobNotifier = tele.NewNoopNotifier(logger)
	if cfg.Notify.TelegramToken != "" {
		tr, err := i18n.NewTranslator(i18n.LocalesFS, cfg.Notify.Language)
		if err != nil {
			return err
		}
		tn, err := tele.NewJobNotifier(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, tr, logger)
		if err != nil {
			logger.Error().Err(err).Msg("telegram notifier disabled")
		} else {
			notifier = tn
		}
	}

	// Background jobs outlive the HTTP shutdown by the drain grace.
	poolCtx, poolCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer poolCancel()
	workers := worker.NewPool(cfg.Jobs.Workers, cfg.Jobs.QueueSize, logger)
	workers.Start(poolCtx)

	dispatcher := usecase.NewDispatcher(poolCtx, jobs, workers, notifier, cfg.HTTP.SyncTimeout, logger)

	// ---- HTTP ----
	router := api.NewRouter(api.RouterDeps{
		API:         apiv1.NewServer(dispatcher, jobs, credRepo, logger),
		Auth:        api.NewAuthManager(cfg.HTTP.JWTSecret),
		RateLimiter: rateLimiter,
		HTTP:        cfg.HTTP,
		Redis:       cfg.Redis,
		Health: map[string]api.HealthFunc{
			"postgres": pool.Ping,
			"redis":    redisClient.Ping,
		},
	}, logger)
	server := api.NewServer(cfg.HTTP.Port, router, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx, shutdownGrace) })
	g.Go(func() error {
		return ignoreCanceled(sched.NewStaleJobReaper(cfg.Jobs.ReapInterval, cfg.Jobs.StaleAfter, jobRepo, locker, logger).Run(gctx))
	})
	if !cfg.Jobs.DisablePoller {
		processor := worker.NewJobProcessor(jobs, dispatcher, cfg.Jobs.PollInterval, logger)
		g.Go(func() error { processor.Start(gctx, workers); return nil })
	}
	g.Go(func() error { reportPoolStats(gctx, pool, workers); return nil })

	err = g.Wait()

	logger.Info().Int("queued", workers.Pending()).Msg("draining background jobs")
	drain := time.AfterFunc(shutdownGrace, poolCancel)
	workers.Stop()
	drain.Stop()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// buildProvider returns the upstream provider and the function naming the
// provider behind a model.
func buildProvider(cfg config.AIConfig, logger *zerolog.Logger) (adapter.LLMProvider, func(string) string) {
	if cfg.Provider == aiAdapters.ProviderNoop {
		logger.Warn().Msg("AI provider: noop (canned replies)")
		return aiAdapters.NewNoopProvider(logger), func(string) string { return aiAdapters.ProviderNoop }
	}

	hc := &http.Client{Timeout: 0} // streams are bounded by jobs.exec_timeout or the sync timeout
	multi := aiAdapters.NewMultiProvider(aiAdapters.ProviderOpenAI, map[string]adapter.LLMProvider{
		aiAdapters.ProviderOpenAI:    aiAdapters.NewOpenAIAdapter(cfg.OpenAIKey, cfg.OpenAIBaseURL, hc),
		aiAdapters.ProviderAnthropic: aiAdapters.NewAnthropicAdapter(cfg.AnthropicKey, cfg.AnthropicBaseURL, hc),
		aiAdapters.ProviderGemini:    aiAdapters.NewGeminiAdapter(cfg.GeminiKey, cfg.GeminiURL),
	}, cfg.ModelProviders)
	logger.Info().
		Str("default_model", cfg.DefaultModel).
		Int("concurrent_limit", cfg.ConcurrentLimit).
		Msg("AI provider: live")
	return aiAdapters.NewLimitedProvider(multi, cfg.ConcurrentLimit), multi.ProviderFor
}

func reportPoolStats(ctx context.Context, pool *pgxpool.Pool, workers *worker.Pool) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := pool.Stat()
			metrics.SetDBPoolStats(s.TotalConns(), s.IdleConns(), s.AcquiredConns())
			metrics.SetWorkerQueueDepth(workers.Pending())
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
