// Package app assembles every component into a runnable process: either
// the HTTP API (mode "api") or the background job runner (mode "worker"),
// sharing the same configuration, database pool, and Redis client.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nimbusid/core/internal/config"
	"github.com/nimbusid/core/internal/httpserver"
	"github.com/nimbusid/core/internal/platform"
	"github.com/nimbusid/core/internal/telemetry"
	"github.com/nimbusid/core/pkg/audit"
	"github.com/nimbusid/core/pkg/cache"
	"github.com/nimbusid/core/pkg/events"
	"github.com/nimbusid/core/pkg/identity"
	"github.com/nimbusid/core/pkg/memory"
	"github.com/nimbusid/core/pkg/policy"
	"github.com/nimbusid/core/pkg/ratelimit"
	"github.com/nimbusid/core/pkg/usage"
	"github.com/nimbusid/core/pkg/webhook"
	"github.com/nimbusid/core/pkg/worker"
)

// Run loads infrastructure, wires every component, and blocks running
// either the HTTP API or the background worker depending on cfg.Mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)

	pool, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pool.Close()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer rdb.Close()

	c, err := wire(pool, rdb, cfg, logger)
	if err != nil {
		return fmt.Errorf("wiring components: %w", err)
	}

	switch cfg.Mode {
	case "worker":
		return runWorker(ctx, c, logger)
	default:
		return runAPI(ctx, c, cfg, logger, pool, rdb)
	}
}

// components holds every wired domain collaborator, shared between the api
// and worker entrypoints so each mode only mounts/schedules what it needs.
type components struct {
	identityHandler *identity.Handler
	policyHandler   *policy.Handler
	policyEngine    *policy.Engine
	webhookHandler  *webhook.Handler
	memoryHandler   *memory.Handler
	auditHandler    *audit.Handler
	usageHandler    *usage.Handler

	resolver        *identity.Resolver
	rateLimiter     *ratelimit.Limiter
	sessionService  *identity.SessionService
	memoryStore     *memory.Store
	embedder        memory.Embedder
	rateLimitStore  *ratelimit.Store
	webhookStore    *webhook.Store
	webhookPipeline *webhook.Pipeline
	webhookRetain   time.Duration
	usageService    *usage.Service
}

// wire constructs every store/service/handler over the shared pool and
// redis client, following the teacher's flat constructor-injection style
// (no DI container; everything built and threaded explicitly in one place).
func wire(pool *pgxpool.Pool, rdb *redis.Client, cfg *config.Config, logger *slog.Logger) (*components, error) {
	accessTTL, err := time.ParseDuration(cfg.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("parsing access token ttl: %w", err)
	}
	refreshTTL, err := time.ParseDuration(cfg.RefreshTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("parsing refresh token ttl: %w", err)
	}
	webhookTimeout, err := time.ParseDuration(cfg.WebhookTimeout)
	if err != nil {
		return nil, fmt.Errorf("parsing webhook timeout: %w", err)
	}
	webhookRetain := time.Duration(cfg.WebhookRetentionDay) * 24 * time.Hour

	issuer, err := identity.NewTokenIssuer(cfg.SigningSecret, "nimbusid")
	if err != nil {
		return nil, fmt.Errorf("creating token issuer: %w", err)
	}

	// C1 stores
	identityStore := identity.NewStore(pool)
	apiKeyStore := identity.NewAPIKeyStore(pool)
	sessionStore := identity.NewSessionStore(pool)
	invitationStore := identity.NewInvitationStore(pool)
	auditStore := audit.NewStore(pool)
	usageStore := usage.NewStore(pool)
	policyStore := policy.NewStore(pool)
	rateLimitStore := ratelimit.NewStore(pool)
	webhookStore := webhook.NewStore(pool)
	memoryStore := memory.NewStore(pool)
	eventsStore := events.NewStore(pool)

	// C3/C4 identity services
	resolver := identity.NewResolver(identityStore, apiKeyStore, issuer, logger)
	sessionService := identity.NewSessionService(sessionStore, identityStore, issuer, accessTTL, logger)
	invitationService := identity.NewInvitationService(invitationStore, identityStore)
	ssoService := identity.NewSSOService(ssoProviders(cfg))

	auditWriter := audit.NewWriter()
	usageService := usage.NewService(usageStore, logger)

	// C9 webhook pipeline doubles as C8's Publisher.
	webhookPipeline := webhook.NewPipeline(webhookStore, webhookTimeout, logger)
	eventBus := events.NewBus(eventsStore, webhookPipeline, logger)

	// C5 policy engine
	policyEngine := policy.NewEngine(policyStore)

	// C6 rate limiter
	redisCache := cache.New(rdb)
	rateLimiter := ratelimit.NewLimiter(redisCache, rateLimitStore, eventsStore, eventBus, logger)

	// C7 memory core
	var embedder memory.Embedder
	if cfg.EmbeddingProviderURL != "" {
		embedder = memory.NewHTTPEmbedder(cfg.EmbeddingProviderURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel)
	}
	memoryService := memory.NewService(pool, memoryStore, eventsStore, eventBus, usageService, embedder, logger)

	identityHandler := identity.NewHandler(logger, pool, auditWriter, usageService, sessionService, invitationService, ssoService, accessTTL, refreshTTL)

	return &components{
		identityHandler: identityHandler,
		policyHandler:   policy.NewHandler(logger, policyStore, policyEngine),
		policyEngine:    policyEngine,
		webhookHandler:  webhook.NewHandler(logger, webhookStore, webhookPipeline),
		memoryHandler:   memory.NewHandler(memoryService),
		auditHandler:    audit.NewHandler(logger, auditStore),
		usageHandler:    usage.NewHandler(logger, usageStore, usageService),

		resolver:        resolver,
		rateLimiter:     rateLimiter,
		sessionService:  sessionService,
		memoryStore:     memoryStore,
		embedder:        embedder,
		rateLimitStore:  rateLimitStore,
		webhookStore:    webhookStore,
		webhookPipeline: webhookPipeline,
		webhookRetain:   webhookRetain,
		usageService:    usageService,
	}, nil
}

func runAPI(ctx context.Context, c *components, cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client) error {
	chain := httpserver.Chain{
		Authenticate: identity.Authenticate(c.resolver),
		RateLimit:    ratelimit.Middleware(c.rateLimiter),
		Authorize:    policy.Middleware(c.policyEngine),
	}
	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)
	server := httpserver.NewServer(httpserver.ServerConfig{CORSAllowedOrigins: cfg.CORSAllowedOrigins}, logger, pool, rdb, metricsReg, chain)

	server.APIRouter.Mount("/identity", c.identityHandler.RoutesIdentity())
	server.APIRouter.Mount("/api-keys", c.identityHandler.RoutesAPIKeys())
	server.APIRouter.Mount("/sessions", c.identityHandler.RoutesSessions())
	server.APIRouter.Mount("/invitations", c.identityHandler.RoutesInvitations())
	server.APIRouter.Mount("/memory", c.memoryHandler.Routes())
	server.APIRouter.Mount("/policy", c.policyHandler.Routes())
	server.APIRouter.Mount("/webhooks", c.webhookHandler.Routes())
	server.APIRouter.Mount("/audit", c.auditHandler.Routes())
	server.APIRouter.Mount("/usage", c.usageHandler.Routes())

	// SSO login/callback precede credential resolution, so they're mounted
	// outside the authenticated /v1 chain (spec.md §4.3 only defines
	// resolution for already-issued credentials).
	server.Router.Mount("/v1/sso", c.identityHandler.RoutesSSO())

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: server,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.ListenAddr())
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
		return err
	}
}

func runWorker(ctx context.Context, c *components, logger *slog.Logger) error {
	jobs := worker.Jobs(logger, c.sessionService, c.memoryStore, c.embedder, c.rateLimitStore, c.webhookStore, c.webhookPipeline, c.webhookRetain, c.usageService)
	w := worker.New(logger, jobs...)
	return w.Run(ctx)
}
