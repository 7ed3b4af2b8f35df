package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Staycoo10/mini-airbnb/internal/domain"
	"github.com/Staycoo10/mini-airbnb/internal/events"
	"github.com/Staycoo10/mini-airbnb/internal/handler"
	"github.com/Staycoo10/mini-airbnb/internal/infrastructure/logger"
	"github.com/Staycoo10/mini-airbnb/internal/infrastructure/redis"
	"github.com/Staycoo10/mini-airbnb/internal/observability/tracing"
	"github.com/Staycoo10/mini-airbnb/internal/reliability/circuitbreaker"
	"github.com/Staycoo10/mini-airbnb/internal/reliability/retry"
	"github.com/Staycoo10/mini-airbnb/internal/repository"
	"github.com/Staycoo10/mini-airbnb/internal/repository/migrations"
	"github.com/Staycoo10/mini-airbnb/internal/security"
	"github.com/Staycoo10/mini-airbnb/internal/security/audit"
	"github.com/Staycoo10/mini-airbnb/internal/security/auth"
	"github.com/Staycoo10/mini-airbnb/internal/security/middleware"
	"github.com/Staycoo10/mini-airbnb/internal/security/ratelimit"
	"github.com/Staycoo10/mini-airbnb/internal/service"
	"github.com/Staycoo10/mini-airbnb/internal/worker"
	"github.com/Staycoo10/mini-airbnb/pkg/config"
	"github.com/Staycoo10/mini-airbnb/pkg/database"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize structured logger
	log := logger.NewLogger(cfg.LogLevel)
	slog.SetDefault(log)
	log.Info("starting mini-airbnb server", slog.String("environment", cfg.Environment))

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Tracing
	shutdownTracing, err := tracing.Init(ctx, log, tracing.Options{
		ServiceName: "mini-airbnb",
		Environment: cfg.Environment,
		Endpoint:    cfg.OTLPEndpoint,
		SampleRatio: cfg.TraceSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("tracing shutdown failed", slog.String("error", err.Error()))
		}
	}()

	// 4. PostgreSQL, retried while the database container starts
	dbCfg := &database.Config{
		URL:      cfg.DatabaseURL,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}
	pool, err := retry.Do[*database.ConnectionPool](ctx, retry.StartupConfig(), log, "connect to postgres",
		func(ctx context.Context) (*database.ConnectionPool, error) {
			return database.NewConnectionPool(ctx, dbCfg, log)
		})
	if err != nil {
		return err
	}
	defer pool.Close()

	// 5. Schema
	if err := migrations.Run(ctx, pool.GetDB(), log); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	// 6. Redis is optional; without it bookings are not deduplicated
	var (
		keys        domain.IdempotencyStore
		redisPinger handler.Pinger
	)
	if cfg.RedisURL != "" {
		redisClient, err := redis.NewClient(ctx, cfg.RedisURL, log)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		keys = repository.NewRedisIdempotencyRepository(redisClient, cfg.IdempotencyTTL, log)
		redisPinger = redisClient
	} else {
		log.Warn("REDIS_URL not set, idempotency keys are ignored")
	}

	// 7. Repositories and security
	store := repository.NewPostgresStore(pool.GetDB(), log)

	secret := cfg.JWTSecret
	if secret == "" {
		secret = randomSecret()
		log.Warn("JWT_SECRET not set, using an ephemeral secret; tokens will not survive a restart")
	}
	tokenManager := auth.NewTokenManager(secret, "mini-airbnb", cfg.TokenTTL)
	gate := security.NewReservationGate(store.Users(), security.GateOptions{
		AdminCanCancel: cfg.AdminCanCancel,
		RoleCacheTTL:   cfg.RoleCacheTTL,
	}, log)
	rateLimiter := ratelimit.NewLimiter(cfg.RateLimitPerMinute, time.Minute)
	defer rateLimiter.Stop()
	auditLogger := audit.NewLogger(log)

	// 8. Services
	hub := events.NewHub(32, log)
	reservationService := service.NewReservationService(store, gate, log, service.WithEvents(hub))
	breaker := circuitbreaker.NewCircuitBreaker(5, 2, 30*time.Second)
	breaker.SetStateChangeCallback(func(from, to circuitbreaker.State) {
		log.Warn("idempotency store circuit changed",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
	})
	booker := service.NewIdempotentBooker(reservationService, keys, breaker, log)
	authService := service.NewAuthService(store.Users(), tokenManager, cfg.BcryptCost, log)
	apartmentService := service.NewApartmentService(store.Apartments(), gate, security.NewResourceGuard(gate, log), log)

	// 9. Handlers and routes
	authHandler := handler.NewAuthHandler(authService, log)
	apartmentHandler := handler.NewApartmentHandler(apartmentService, log)
	reservationHandler := handler.NewReservationHandler(booker, reservationService, log)
	eventsHandler := handler.NewEventsHandler(hub, apartmentService, log, cfg.CORSAllowedOrigins)
	healthHandler := handler.NewHealthHandler(handler.PingFunc(pool.Health), redisPinger, log)

	root := newRouter(routerDeps{
		auth:         authHandler,
		apartments:   apartmentHandler,
		reservations: reservationHandler,
		events:       eventsHandler,
		health:       healthHandler,
		tokens:       tokenManager,
		limiter:      rateLimiter,
		audit:        auditLogger,
		corsOrigins:  cfg.CORSAllowedOrigins,
		loginLimit:   middleware.LoginLimit{Max: 10, Window: time.Minute},
		logger:       log,
	})

	// 10. HTTP server and stats worker
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           root,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	statsWorker := worker.NewStatsWorker(reservationService, log, time.Duration(cfg.StatsIntervalSeconds)*time.Second)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting",
			slog.Int("port", cfg.ServerPort),
			slog.Int("rate_limit", cfg.RateLimitPerMinute),
			slog.Bool("admin_can_cancel", cfg.AdminCanCancel),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return statsWorker.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("dev-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
