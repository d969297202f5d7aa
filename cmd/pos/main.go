package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/TienDattttt/Retail-Chain-Management-sub000/internal/handlers"
	"github.com/TienDattttt/Retail-Chain-Management-sub000/internal/platform/config"
	"github.com/TienDattttt/Retail-Chain-Management-sub000/internal/platform/idempotency"
	"github.com/TienDattttt/Retail-Chain-Management-sub000/internal/platform/observability"
	"github.com/TienDattttt/Retail-Chain-Management-sub000/internal/platform/requestctx"
	"github.com/TienDattttt/Retail-Chain-Management-sub000/internal/platform/salesapi"
	"github.com/TienDattttt/Retail-Chain-Management-sub000/internal/platform/secrets"
	"github.com/TienDattttt/Retail-Chain-Management-sub000/internal/platform/session"
	"github.com/TienDattttt/Retail-Chain-Management-sub000/internal/repositories"
	"github.com/TienDattttt/Retail-Chain-Management-sub000/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger("pos", strings.TrimSpace(os.Getenv("POS_ENVIRONMENT")))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("pos")
	ctx = requestctx.WithLogger(ctx, logger)

	fetcher := secrets.NewFetcher(
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(os.Getenv("POS_SECRET_FALLBACK_FILE")),
	)

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var vErr *config.ValidationError
		if errors.As(err, &vErr) {
			logger.Fatal("invalid configuration", zap.Strings("fields", vErr.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(cfg, startedAt)

	salesClient, err := salesapi.NewClient(salesapi.Options{
		BaseURL:  cfg.Sales.BaseURL,
		APIToken: cfg.Sales.APIToken,
		Timeout:  cfg.Sales.Timeout,
		Breaker: salesapi.BreakerSettings{
			MaxRequests:  cfg.Sales.Breaker.MaxRequests,
			Interval:     cfg.Sales.Breaker.Interval,
			OpenTimeout:  cfg.Sales.Breaker.OpenTimeout,
			TripFailures: cfg.Sales.Breaker.TripFailures,
		},
		Logger: logger.Named("salesapi"),
	})
	if err != nil {
		logger.Fatal("failed to initialise sales api client", zap.Error(err))
	}

	var redisClient *redis.Client
	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
	}

	sessions, err := newOperatorSessions(cfg, redisClient, logger.Named("session"))
	if err != nil {
		logger.Fatal("failed to initialise session store", zap.Error(err))
	}

	var idempotencyStore idempotency.Store = idempotency.NewMemoryStore()
	if redisClient != nil {
		redisStore, err := idempotency.NewRedisStore(redisClient, "")
		if err != nil {
			logger.Fatal("failed to initialise idempotency store", zap.Error(err))
		}
		idempotencyStore = redisStore
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
		idempotency.WithPersistPolicy(idempotency.PersistSuccessful),
	)

	terminals := services.NewTerminalRegistry(services.TerminalRegistryDeps{
		IdleTTL: cfg.Terminal.IdleTTL,
		Clock:   time.Now,
		Logger:  observability.EventLogger(logger.Named("terminal")),
	})

	checkoutCoordinator, err := services.NewCheckoutCoordinator(services.CheckoutCoordinatorDeps{
		Sales:  salesClient,
		Logger: observability.EventLogger(logger.Named("checkout")),
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout coordinator", zap.Error(err))
	}

	systemService, err := newSystemService(salesClient, redisClient, terminals, buildInfo)
	if err != nil {
		logger.Warn("health: system service init failed", zap.Error(err))
	}

	workersCtx, workersCancel := context.WithCancel(context.Background())
	var workersWG sync.WaitGroup
	if cfg.Terminal.IdleTTL > 0 && cfg.Terminal.SweepInterval > 0 {
		runPeriodic(workersCtx, &workersWG, cfg.Terminal.SweepInterval, func(runCtx context.Context) {
			now := time.Now().UTC()
			if removed := terminals.CleanupIdle(runCtx, now); removed > 0 {
				logger.Named("terminal").Info("idle terminals evicted", zap.Int("count", removed))
			}
			if cache, ok := sessions.(*session.RedisStore); ok {
				if removed := cache.PruneCache(now); removed > 0 {
					logger.Named("session").Debug("cached sessions pruned", zap.Int("count", removed))
				}
			}
		})
	}
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupLogger := logger.Named("idempotency")
		runPeriodic(workersCtx, &workersWG, cfg.Idempotency.CleanupInterval, func(runCtx context.Context) {
			runCtx, cancel := context.WithTimeout(runCtx, time.Minute)
			defer cancel()
			removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
			if err != nil {
				cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
				return
			}
			if removed > 0 {
				cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		})
	}

	posHandlers := handlers.NewPOSHandlers(handlers.POSHandlersDeps{
		Terminals:     terminals,
		Checkout:      checkoutCoordinator,
		Catalog:       salesClient,
		CheckoutGuard: idempotencyMiddleware,
		Scheduler:     services.RealScheduler,
		CallbackDelay: cfg.Terminal.CallbackRedirectDelay,
		Logger:        observability.EventLogger(logger.Named("callback")),
	})

	httpLogger := logger.Named("http")
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(httpLogger),
		observability.TraceMiddleware(strings.TrimSpace(os.Getenv("POS_TRACE_PROJECT_ID"))),
		observability.RecoveryMiddleware(httpLogger),
		observability.RequestLoggerMiddleware(),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(systemService),
	)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithPOSMiddlewares(handlers.RequireOperator(sessions)),
		handlers.WithPOSRoutes(posHandlers.Routes),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := httpLogger.With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("pos api listening", zap.String("salesBaseUrl", cfg.Sales.BaseURL), zap.String("sessionBackend", cfg.Session.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	workersCancel()
	workersWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(os.Getenv("POS_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("POS_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Environment,
		StartedAt:   started,
	}
}

func newOperatorSessions(cfg config.Config, client *redis.Client, logger *zap.Logger) (services.OperatorSessions, error) {
	if cfg.Session.Backend != config.SessionBackendRedis {
		logger.Warn("session: using in-process store; operators must be seeded before they can sign in")
		return session.NewMemoryStore(time.Now), nil
	}
	if client == nil {
		return nil, errors.New("session: redis backend selected without redis address")
	}
	store, err := session.NewRedisStore(client, session.RedisOptions{
		KeyPrefix: cfg.Session.KeyPrefix,
		CacheTTL:  cfg.Session.CacheTTL,
		Clock:     time.Now,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

func newSystemService(sales *salesapi.Client, client *redis.Client, terminals *services.TerminalRegistry, build services.BuildInfo) (services.SystemService, error) {
	checks := make([]repositories.DependencyCheck, 0, 2)
	if sales != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "sales_api",
			Timeout: 2 * time.Second,
			Check:   sales.Ping,
		})
	}
	if client != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "redis",
			Timeout:  time.Second,
			Optional: true,
			Check: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			},
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	repo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		Health:    repo,
		Terminals: terminals,
		Clock:     time.Now,
		Build:     build,
	})
}

func runPeriodic(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}
