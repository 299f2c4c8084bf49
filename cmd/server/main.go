// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opentrusty/tenantscope/internal/audit"
	"github.com/opentrusty/tenantscope/internal/bootstrap"
	"github.com/opentrusty/tenantscope/internal/config"
	"github.com/opentrusty/tenantscope/internal/identity"
	"github.com/opentrusty/tenantscope/internal/observability/logger"
	"github.com/opentrusty/tenantscope/internal/observability/metrics"
	"github.com/opentrusty/tenantscope/internal/observability/tracing"
	"github.com/opentrusty/tenantscope/internal/scope"
	"github.com/opentrusty/tenantscope/internal/session"
	"github.com/opentrusty/tenantscope/internal/store/postgres"
	redisstore "github.com/opentrusty/tenantscope/internal/store/redis"
	"github.com/opentrusty/tenantscope/internal/tenant"
	transportHTTP "github.com/opentrusty/tenantscope/internal/transport/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	registry := scope.NewRegistry()

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
		Extractors:  []logger.ContextExtractor{registry.LogAttrs},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "serve":
		err = runServe(ctx, cfg, registry)
	case "migrate":
		err = runMigrate(ctx, cfg)
	case "bootstrap":
		err = runBootstrap(ctx, cfg)
	default:
		err = fmt.Errorf("unknown command %q (want serve, migrate or bootstrap)", cmd)
	}
	if err != nil {
		slog.Error(cmd+" failed", logger.Error(err))
		os.Exit(1)
	}
}

func openDatabase(ctx context.Context, cfg *config.Config) (*postgres.DB, error) {
	return postgres.New(ctx, postgres.Config{
		URL:          cfg.Database.URL,
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
}

func newVerifier(cfg *config.Config) (*identity.TokenVerifier, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, nil
	}
	return identity.NewTokenVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.JWTIssuer, cfg.Auth.JWTLeeway)
}

func runServe(ctx context.Context, cfg *config.Config, registry *scope.Registry) error {
	slog.Info("starting tenantscope", logger.Strategy(cfg.Tenancy.Strategy))

	// Initialize tracer
	tp, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer tp.Shutdown(context.WithoutCancel(ctx))

	meter := metrics.New(ctx, metrics.Config{
		Enabled:     cfg.Observability.OTELEnabled,
		ServiceName: cfg.Observability.ServiceName,
	})
	instruments, err := metrics.NewScopeInstruments(meter)
	if err != nil {
		return err
	}

	// Initialize database
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("connected to database")

	healthChecks := []transportHTTP.HealthCheck{{Name: "database", Check: db.Ping}}

	// Initialize repositories
	userRepo := postgres.NewUserRepository(db)
	tenantRepo := postgres.NewTenantRepository(db)
	membershipRepo := postgres.NewMembershipRepository(db)

	var sessionRepo session.Repository = postgres.NewSessionRepository(db)
	if cfg.Session.Store == config.SessionStoreRedis {
		client, err := redisstore.Connect(ctx, redisstore.Config{
			URL:            cfg.Redis.URL,
			RetryAttempts:  cfg.Redis.RetryAttempts,
			RetryInterval:  cfg.Redis.RetryInterval,
			ConnectTimeout: cfg.Redis.ConnectTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer client.Close()
		sessionRepo = redisstore.NewSessionRepository(client)
		healthChecks = append(healthChecks, transportHTTP.HealthCheck{Name: "redis", Check: redisstore.Healthcheck(client)})
		slog.Info("connected to redis")
	}

	// Initialize services
	auditLogger := audit.NewSlogLogger()
	sessionService := session.NewService(sessionRepo, cfg.Session.Lifetime, cfg.Session.IdleTimeout)
	tenantService := tenant.NewService(tenantRepo, membershipRepo, auditLogger)

	verifier, err := newVerifier(cfg)
	if err != nil {
		return err
	}
	if verifier == nil {
		slog.Warn("JWT_SECRET not set, simplejwt credentials will be rejected as unsupported")
	}

	cookieSource := session.NewCookieSource(sessionService, userRepo, cfg.Session.CookieName)
	identityResolver := identity.NewResolver(userRepo, verifier, cookieSource)

	var hostToSlug tenant.HostToSlug
	if cfg.Strategy() == tenant.ByURL {
		hostToSlug = tenant.SubdomainSlug(cfg.Tenancy.HostSuffix)
	}
	tenantResolver, err := tenant.NewResolver(cfg.Strategy(), tenantRepo, membershipRepo, tenantService, hostToSlug)
	if err != nil {
		return err
	}

	scopes := transportHTTP.NewScopeController(
		identityResolver,
		tenantResolver,
		registry,
		auditLogger,
		tp.Tracer(),
		instruments,
	)

	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, cfg.RateLimit.EvictAfter)
	go rateLimiter.Run(ctx)

	handler := transportHTTP.NewHandler(registry, cookieSource, healthChecks...)
	router := transportHTTP.NewRouter(handler, scopes, rateLimiter, cfg.Server.RequestTimeout)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go cleanupSessions(ctx, registry, sessionService, cfg.Session.CleanupInterval)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"), slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// cleanupSessions removes expired sessions until ctx is done. Each pass runs
// in its own non-web scope so its logs carry a unit.
func cleanupSessions(ctx context.Context, registry *scope.Registry, sessions *session.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		passCtx, release := registry.Enter(ctx, &scope.Entry{
			User:    scope.Value(identity.Anonymous),
			Tenant:  scope.Value[*tenant.Tenant](nil),
			Channel: scope.ChannelOther,
		})
		if err := sessions.CleanupExpired(passCtx); err != nil {
			slog.ErrorContext(passCtx, "failed to cleanup expired sessions", logger.Error(err))
		} else {
			slog.DebugContext(passCtx, "expired sessions removed", logger.Component("session"), logger.Operation("cleanup"))
		}
		release()
	}
}

func runMigrate(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("applying initial schema")
	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		return err
	}
	slog.Info("migration successful")
	return nil
}

func runBootstrap(ctx context.Context, cfg *config.Config) error {
	if !cfg.BootstrapReady() {
		return errors.New("BOOTSTRAP_TENANT_SLUG, BOOTSTRAP_TENANT_NAME and BOOTSTRAP_USER_EMAIL are required")
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	verifier, err := newVerifier(cfg)
	if err != nil {
		return err
	}

	tenantService := tenant.NewService(
		postgres.NewTenantRepository(db),
		postgres.NewMembershipRepository(db),
		audit.NewSlogLogger(),
	)
	userRepo := postgres.NewUserRepository(db)
	sessionService := session.NewService(postgres.NewSessionRepository(db), cfg.Session.Lifetime, cfg.Session.IdleTimeout)
	svc := bootstrap.NewService(userRepo, tenantService, verifier, sessionService)

	res, err := svc.Run(ctx, bootstrap.Request{
		TenantSlug: cfg.Bootstrap.TenantSlug,
		TenantName: cfg.Bootstrap.TenantName,
		UserEmail:  cfg.Bootstrap.UserEmail,
		UserName:   cfg.Bootstrap.UserName,
		TokenTTL:   cfg.Auth.AccessTTL,
	})
	if err != nil {
		return err
	}

	slog.Info("bootstrap complete",
		logger.TenantID(res.Tenant.ID),
		logger.Slug(res.Tenant.Slug),
		logger.UserID(res.User.ID),
	)
	if res.Token != "" {
		fmt.Printf("Authorization: simplejwt %s\n", res.Token)
	}
	if res.Session != nil {
		fmt.Printf("Cookie: %s=%s\n", cfg.Session.CookieName, res.Session.ID)
	}
	return nil
}
