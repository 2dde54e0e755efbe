// Package app wires together the cycle manager's three run modes: the
// orchestrator ("manager"), the operator console HTTP API ("console"), and
// a one-shot schema migration ("migrate").
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/cyclemanager/cyclemanager/internal/auth"
	"github.com/cyclemanager/cyclemanager/internal/config"
	"github.com/cyclemanager/cyclemanager/internal/console"
	"github.com/cyclemanager/cyclemanager/internal/db"
	"github.com/cyclemanager/cyclemanager/internal/events"
	"github.com/cyclemanager/cyclemanager/internal/httpserver"
	"github.com/cyclemanager/cyclemanager/internal/platform"
	"github.com/cyclemanager/cyclemanager/internal/telemetry"
	"github.com/cyclemanager/cyclemanager/pkg/anomaly"
	"github.com/cyclemanager/cyclemanager/pkg/classifier"
	"github.com/cyclemanager/cyclemanager/pkg/cleaners"
	"github.com/cyclemanager/cyclemanager/pkg/costtracker"
	"github.com/cyclemanager/cyclemanager/pkg/notify"
	"github.com/cyclemanager/cyclemanager/pkg/orchestrator"
	"github.com/cyclemanager/cyclemanager/pkg/requeue"
	"github.com/cyclemanager/cyclemanager/pkg/retrypolicy"
)

// Run reads infrastructure from cfg and starts the mode it selects.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting cyclemanager", "mode", cfg.Mode)

	if cfg.Mode == "migrate" {
		if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("migrations applied")
		return nil
	}

	pool, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	switch cfg.Mode {
	case "manager":
		return runManager(ctx, cfg, logger, pool, rdb, metricsReg)
	case "console":
		return runConsole(ctx, cfg, logger, pool, rdb, metricsReg)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func runManager(ctx context.Context, cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	eventLog := events.NewLogger(db.New(pool), logger)
	eventLog.Start(ctx)
	defer eventLog.Close()

	signatures := classifier.NewSignatureDetector(rdb, db.New(pool), logger, time.Duration(cfg.SignatureCacheTTLMs)*time.Millisecond)
	policy := retrypolicy.NewPolicy(cfg.FailedTaskMaxRetryCount)
	quotaBackoff := requeue.QuotaBackoffConfig{
		Base:        time.Duration(cfg.QuotaBackoffBaseMs) * time.Millisecond,
		Max:         time.Duration(cfg.QuotaBackoffMaxMs) * time.Millisecond,
		Factor:      cfg.QuotaBackoffFactor,
		JitterRatio: cfg.QuotaBackoffJitterRatio,
	}

	components := orchestrator.Components{
		LeaseCleaner: cleaners.NewLeaseCleaner(pool, telemetry.LeasesExpiredTotal),
		RunCleaner: cleaners.NewRunCleaner(pool, telemetry.RunsCancelledTotal,
			time.Duration(cfg.StuckRunTimeoutMs)*time.Millisecond),
		AgentCleaner: cleaners.NewAgentCleaner(pool),
		MergeQueue: cleaners.NewMergeQueueRecoverer(pool,
			time.Duration(cfg.JudgeMergeQueueRetryDelayMs)*time.Millisecond),
		FailedQueuer: requeue.NewFailedTaskRequeuer(pool, logger,
			time.Duration(cfg.FailedTaskCooldownMs)*time.Millisecond,
			policy, signatures, cfg.FailedTaskRepeatedSignatureThreshold,
			telemetry.TasksRequeuedTotal, telemetry.TasksEscalatedTotal),
		BlockedQueuer: requeue.NewBlockedTaskRequeuer(pool, logger,
			time.Duration(cfg.BlockedTaskCooldownMs)*time.Millisecond,
			quotaBackoff, telemetry.TasksRequeuedTotal, telemetry.TasksEscalatedTotal),
		CostLimits: costtracker.LimitsConfig{
			DailyTokenLimit:  cfg.DailyTokenLimit,
			HourlyTokenLimit: cfg.HourlyTokenLimit,
		},
		AnomalyDet: anomaly.NewDetector(pool, eventLog, telemetry.AnomaliesReportedTotal, anomaly.Config{
			AgentTimeoutMinutes: cfg.StuckRunTimeoutMs / 60000,
			RepeatCooldown:      time.Duration(cfg.AnomalyRepeatCooldownMs) * time.Millisecond,
			StrictBusyAgents:    cfg.StrictBusyAgents,
		}.Normalized()),
		Notifier: notify.NewNotifier(cfg.SlackBotToken, cfg.SlackAlertChannel, logger),
	}

	cadences := orchestrator.Cadences{
		Fast:    time.Duration(cfg.CycleTickFastMs) * time.Millisecond,
		Slow:    time.Duration(cfg.CycleTickSlowMs) * time.Millisecond,
		Cost:    time.Duration(cfg.CycleTickCostMs) * time.Millisecond,
		Anomaly: time.Duration(cfg.CycleTickAnomalyMs) * time.Millisecond,
	}

	orch := orchestrator.New(pool, logger, eventLog, cadences, components, telemetry.CycleDurationSeconds)
	return orch.Run(ctx)
}

func runConsole(ctx context.Context, cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	sessionSecret := cfg.ConsoleSessionSecret
	if sessionSecret == "" {
		sessionSecret = auth.GenerateDevSecret()
		logger.Info("console: using auto-generated dev session secret (set CONSOLE_SESSION_SECRET in production)")
	}
	sessionMaxAge, err := time.ParseDuration(cfg.ConsoleSessionMaxAge)
	if err != nil {
		return fmt.Errorf("parsing console session max age %q: %w", cfg.ConsoleSessionMaxAge, err)
	}
	sessionMgr, err := auth.NewSessionManager(sessionSecret, sessionMaxAge)
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}

	var oidcAuth *auth.OIDCAuthenticator
	if cfg.OIDCIssuerURL != "" && cfg.OIDCClientID != "" {
		oidcAuth, err = auth.NewOIDCAuthenticator(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID)
		if err != nil {
			return fmt.Errorf("initializing OIDC authenticator: %w", err)
		}
		logger.Info("console OIDC authentication enabled", "issuer", cfg.OIDCIssuerURL)
	} else {
		logger.Info("console OIDC authentication disabled (OIDC_ISSUER_URL not set)")
	}

	srv := httpserver.NewServer(cfg, logger, pool, rdb, metricsReg, sessionMgr, oidcAuth)

	rateLimiter := auth.NewRateLimiter(rdb, 10, 15*time.Minute)
	loginHandler := auth.NewLoginHandler(sessionMgr, pool, logger, oidcAuth != nil, rateLimiter)
	srv.Router.Post("/auth/login", loginHandler.HandleLogin)
	srv.Router.Get("/auth/config", loginHandler.HandleAuthConfig)
	srv.Router.Get("/auth/me", loginHandler.HandleMe)
	srv.Router.Post("/auth/logout", loginHandler.HandleLogout)

	consoleHandlers := console.NewHandlers(pool, logger)
	consoleHandlers.Mount(srv.APIRouter)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("console listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("console server: %w", err)
	}
}
