package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/NikhilSetiya/statsbridge/internal/analytics"
	"github.com/NikhilSetiya/statsbridge/internal/api"
	"github.com/NikhilSetiya/statsbridge/internal/cache"
	"github.com/NikhilSetiya/statsbridge/pkg/config"
	"github.com/NikhilSetiya/statsbridge/pkg/logging"
	"github.com/NikhilSetiya/statsbridge/pkg/metrics"
	"github.com/NikhilSetiya/statsbridge/pkg/resilience"
	"github.com/NikhilSetiya/statsbridge/pkg/tracing"
)

const version = "1.0.0"

func main() {
	// Load .env if present; environment variables take precedence
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "statsbridge",
		Version:     version,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	tracer, err := tracing.NewTracingService(&tracing.Config{
		ServiceName:    "statsbridge",
		ServiceVersion: version,
		Environment:    os.Getenv("ENVIRONMENT"),
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	redisClient, err := cache.NewRedisClient(cfg.RedisURL(), cfg.Redis.PoolSize)
	if err != nil {
		log.Fatalf("Failed to configure Redis: %v", err)
	}
	defer redisClient.Close()

	cacheService := cache.NewService(redisClient, nil)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := cacheService.Ping(pingCtx); err != nil {
		log.Fatalf("Redis health check failed: %v", err)
	}
	cancelPing()
	logger.Info("Redis connection established")

	m := metrics.NewMetrics(nil)

	breakers := resilience.NewBreakerRegistry(resilience.BreakerConfig{
		FailureThreshold: cfg.Resilience.CircuitBreaker.FailureThreshold,
		Cooldown:         cfg.Resilience.CircuitBreaker.Cooldown,
		OnStateChange:    m.BreakerStateChanged,
	})

	retrier := resilience.NewRetrier(resilience.RetryPolicy{
		Enabled:     cfg.Resilience.Retry.Enabled,
		MaxAttempts: cfg.Resilience.Retry.MaxAttempts,
		Backoff: resilience.BackoffConfig{
			Strategy:     resilience.BackoffStrategy(cfg.Resilience.Retry.Strategy),
			BaseDelay:    cfg.Resilience.Retry.BaseDelay,
			MaxDelay:     cfg.Resilience.Retry.MaxDelay,
			JitterFactor: cfg.Resilience.Retry.JitterFactor,
		},
		HistorySize: cfg.Resilience.Retry.HistorySize,
	})

	locks, err := resilience.NewLockManager(resilience.LockManagerConfig{
		Timeout:         cfg.Resilience.Lock.Timeout,
		DeadlockTimeout: cfg.Resilience.Lock.DeadlockTimeout,
		ConflictPolicy:  resilience.ConflictPolicy(cfg.Resilience.Lock.ConflictPolicy),
	})
	if err != nil {
		log.Fatalf("Failed to create lock manager: %v", err)
	}

	fallbacks := cache.NewFallbackStore(cacheService)
	executor := resilience.NewDefaultActionExecutor(fallbacks)

	degradation, err := resilience.NewDegradationManager(resilience.DegradationManagerConfig{
		DegradationThreshold: cfg.Resilience.Degradation.DegradationThreshold,
		RecoveryThreshold:    cfg.Resilience.Degradation.RecoveryThreshold,
		MinSampleSize:        cfg.Resilience.Degradation.MinSampleSize,
		AutoRecovery:         cfg.Resilience.Degradation.AutoRecovery,
		HealthCheckInterval:  cfg.Resilience.Degradation.HealthCheckInterval,
		HistorySize:          cfg.Resilience.Degradation.HistorySize,
	}, nil, sessionFallbackStrategies(), executor)
	if err != nil {
		log.Fatalf("Failed to create degradation manager: %v", err)
	}

	// The registry always exists for the status API; the orchestrator only
	// consults it when breakers are enabled.
	orchBreakers := breakers
	if !cfg.Resilience.CircuitBreaker.Enabled {
		orchBreakers = nil
	}

	orchestrator := resilience.NewOrchestrator(resilience.OrchestratorConfig{
		LockEnabled:        cfg.Resilience.Lock.Enabled,
		RetryEnabled:       cfg.Resilience.Retry.Enabled,
		DegradationEnabled: cfg.Resilience.Degradation.Enabled,
	}, locks, retrier, orchBreakers, degradation)
	orchestrator.AddObserver(m)

	httpClient := tracer.InstrumentHTTPClient(&http.Client{Timeout: cfg.Analytics.RequestTimeout})
	client := analytics.NewClient(analytics.ClientConfig{
		BaseURL:        cfg.Analytics.BaseURL,
		APIKey:         cfg.Analytics.APIKey,
		RequestTimeout: cfg.Analytics.RequestTimeout,
	}, httpClient)

	sessions, err := analytics.NewSessionService(analytics.SessionServiceConfig{
		JWTSecret:  cfg.Analytics.JWTSecret,
		SessionTTL: cfg.Analytics.SessionTTL,
	}, client, orchestrator, cacheService)
	if err != nil {
		log.Fatalf("Failed to create session service: %v", err)
	}

	// Background loops: lock sweeper, health checks, gauge collection,
	// health alerting.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go locks.Run(ctx)
	go degradation.Run(ctx)

	collector := metrics.NewCollector(m, locks, degradation, 15*time.Second)
	go collector.Start(ctx)
	defer collector.Stop()

	alerts := resilience.NewAlertManager()
	alerts.AddHandler(resilience.NewLoggingAlertHandler())
	orchestrator.AddObserver(resilience.NewErrorAlertGenerator(alerts))
	monitor := resilience.NewSystemHealthMonitor(alerts, degradation)
	monitor.Start(ctx)
	defer monitor.Stop()

	router := api.NewRouter(api.Dependencies{
		Sessions:    sessions,
		Breakers:    breakers,
		Locks:       locks,
		Degradation: degradation,
		Retrier:     retrier,
		Cache:       cacheService,
		Metrics:     m,
		Tracing:     tracer.TracingMiddleware(),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Tracer shutdown failed", "error", err.Error())
	}

	logger.Info("Server exited")
}

// sessionFallbackStrategies defines how each operation degrades when its
// channel is disabled or failing
func sessionFallbackStrategies() []resilience.FallbackStrategy {
	return []resilience.FallbackStrategy{
		{
			Name:     "cached-session",
			Triggers: []resilience.OperationType{resilience.OpAuthenticate, resilience.OpRefresh},
			Priority: 10,
			Actions: []resilience.FallbackAction{
				{Type: resilience.ActionCache, Timeout: 2 * time.Second},
				{Type: resilience.ActionAnonymous},
			},
		},
		{
			Name:     "assume-valid",
			Triggers: []resilience.OperationType{resilience.OpValidate},
			Priority: 5,
			Actions: []resilience.FallbackAction{
				{Type: resilience.ActionSimplified},
			},
		},
		{
			Name:     "local-logout",
			Triggers: []resilience.OperationType{resilience.OpLogout},
			Priority: 5,
			Actions: []resilience.FallbackAction{
				{Type: resilience.ActionSimplified},
			},
		},
	}
}
