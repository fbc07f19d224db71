// Package app wires Fabric's infrastructure and domain services together
// and runs the process in one of two modes: api (RPC surface only) or
// worker (event bus projectors + usage scheduler).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/demeter-run/fabric/internal/audit"
	"github.com/demeter-run/fabric/internal/cacheprojector"
	"github.com/demeter-run/fabric/internal/clusterprojector"
	"github.com/demeter-run/fabric/internal/config"
	"github.com/demeter-run/fabric/internal/httpserver"
	"github.com/demeter-run/fabric/internal/metadata"
	"github.com/demeter-run/fabric/internal/notifyprojector"
	"github.com/demeter-run/fabric/internal/platform"
	"github.com/demeter-run/fabric/internal/telemetry"
	"github.com/demeter-run/fabric/pkg/authn"
	"github.com/demeter-run/fabric/pkg/eventbus"
	"github.com/demeter-run/fabric/pkg/project"
	"github.com/demeter-run/fabric/pkg/resource"
	"github.com/demeter-run/fabric/pkg/secret"
	"github.com/demeter-run/fabric/pkg/usage"
)

// Run reads config, connects to infrastructure, and starts the
// appropriate mode (api or worker).
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting fabric", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	registry, err := metadata.Load(cfg.MetadataPath)
	if err != nil {
		return fmt.Errorf("loading metadata registry: %w", err)
	}

	bus, err := eventbus.New(eventbus.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic}, logger)
	if err != nil {
		return fmt.Errorf("connecting to event bus: %w", err)
	}

	deps, err := buildDomain(ctx, cfg, db, rdb, bus, registry, logger)
	if err != nil {
		return err
	}

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg, deps)
	case "worker":
		return runWorker(ctx, cfg, logger, bus, deps)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// domain bundles the constructed stores and services shared by both
// runtime modes, so api and worker wiring stay in sync.
type domain struct {
	gate *authn.Gate

	projectStore  *project.Store
	projectSvc    *project.Service
	secretStore   *secret.Store
	secretSvc     *secret.Service
	resourceStore *resource.Store
	resourceSvc   *resource.Service
	usageStore    *usage.Store
	usageSvc      *usage.Service
}

func buildDomain(ctx context.Context, cfg *config.Config, db *pgxpool.Pool, rdb *redis.Client, bus *eventbus.Bus, registry *metadata.Registry, logger *slog.Logger) (*domain, error) {
	projectStore := project.NewStore(db)
	gate := authn.NewGate(projectStore)
	projectSvc := project.NewService(projectStore, bus, gate, loggingInviteMailer{logger}, redisInviteGuard{rdb}, logger)

	secretStore := secret.NewStore(db)
	secretSvc := secret.NewService(secretStore, bus, gate, logger)

	resourceStore := resource.NewStore(db)
	resourceSvc := resource.NewService(resourceStore, bus, gate, registry, logger)

	usageStore := usage.NewStore(db)
	usageSvc, err := usage.NewService(usageStore, bus, cfg.PrometheusURL, prometheusHTTPClient(ctx, cfg), projectSvc, resourceSvc, registry, cfg.ClusterID, logger)
	if err != nil {
		return nil, fmt.Errorf("creating usage service: %w", err)
	}

	return &domain{
		gate:          gate,
		projectStore:  projectStore,
		projectSvc:    projectSvc,
		secretStore:   secretStore,
		secretSvc:     secretSvc,
		resourceStore: resourceStore,
		resourceSvc:   resourceSvc,
		usageStore:    usageStore,
		usageSvc:      usageSvc,
	}, nil
}

// loggingInviteMailer is the default InviteMailer (SPEC_FULL.md's
// supplemented-feature section): the original treats the email sender
// as an optional collaborator, so this logs the send rather than
// dialing an SMTP relay that spec.md never specifies.
type loggingInviteMailer struct {
	logger *slog.Logger
}

func (m loggingInviteMailer) SendInvite(_ context.Context, email, code string) error {
	m.logger.Info("invite email (best-effort, not actually delivered)", "email", email, "code", code)
	return nil
}

// redisInviteGuard implements project.InviteGuard with a Redis SETNX:
// the one place a single Postgres read-model check cannot serialize a
// command across concurrent API replicas accepting the same invite code.
type redisInviteGuard struct {
	rdb *redis.Client
}

func (g redisInviteGuard) Claim(ctx context.Context, code string, ttl time.Duration) (bool, error) {
	return g.rdb.SetNX(ctx, "fabric:invite-claimed:"+code, "1", ttl).Result()
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry, deps *domain) error {
	var oidcAuth *authn.OIDCAuthenticator
	if cfg.OIDCIssuerURL != "" {
		var err error
		oidcAuth, err = authn.NewOIDCAuthenticator(ctx, cfg.OIDCIssuerURL, cfg.OIDCAudience)
		if err != nil {
			return fmt.Errorf("initializing OIDC authenticator: %w", err)
		}
		logger.Info("OIDC authentication enabled", "issuer", cfg.OIDCIssuerURL)
	} else {
		logger.Info("OIDC authentication disabled (AUTH_URL not set)")
	}

	srv := httpserver.NewServer(
		cfg.CORSAllowedOrigins, logger, db, rdb, metricsReg, cfg.MetricsPath,
		authn.Middleware(oidcAuth, deps.secretSvc, logger),
	)

	auditWriter := audit.NewWriter(db, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	pepper := []byte(cfg.SecretPepper)

	projectHandler := project.NewHandler(deps.projectSvc, auditWriter)
	secretHandler := secret.NewHandler(deps.secretSvc, pepper, auditWriter)
	resourceHandler := resource.NewHandler(deps.resourceSvc, deps.projectSvc, auditWriter)
	usageHandler := usage.NewHandler(deps.usageSvc, deps.gate)
	auditHandler := audit.NewHandler(db, deps.gate, logger)

	srv.APIRouter.Mount("/projects", projectHandler.Routes())
	srv.APIRouter.Mount("/invites", projectHandler.AcceptInviteRoute())
	srv.APIRouter.Mount("/projects/{project_id}/secrets", secretHandler.Routes())
	srv.APIRouter.Mount("/projects/{project_id}/resources", resourceHandler.ProjectScopedRoutes())
	srv.APIRouter.Mount("/resources", resourceHandler.ResourceRoutes())
	srv.APIRouter.Mount("/projects/{project_id}/usage", usageHandler.ProjectScopedRoutes())
	srv.APIRouter.Mount("/usage", usageHandler.AggregatedRoutes())
	srv.APIRouter.Mount("/projects/{project_id}/audit-log", auditHandler.Routes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, bus *eventbus.Bus, deps *domain) error {
	kubeClient, err := newKubeClient(cfg.KubeconfigPath)
	if err != nil {
		return fmt.Errorf("building kubernetes client: %w", err)
	}

	cache := cacheprojector.New(deps.projectStore, deps.secretStore, deps.resourceStore, deps.usageSvc, logger)
	cluster := clusterprojector.New(kubeClient, deps.projectSvc, logger)
	notify := notifyprojector.New(cfg.WebhookURL, logger)

	usageInterval, err := time.ParseDuration(cfg.UsageDelay)
	if err != nil {
		return fmt.Errorf("parsing usage delay %q: %w", cfg.UsageDelay, err)
	}

	errCh := make(chan error, 4)

	go func() { errCh <- cache.Run(ctx, bus, "fabric-cache-projector") }()
	go func() { errCh <- cluster.Run(ctx, bus, "fabric-cluster-projector") }()
	go func() {
		if !notify.IsEnabled() {
			logger.Info("notify projector disabled (WEBHOOK_URL not set)")
			errCh <- nil
			return
		}
		errCh <- notify.Run(ctx, bus, "fabric-notify-projector")
	}()
	go func() { errCh <- deps.usageSvc.Run(ctx, usageInterval) }()

	for i := 0; i < 4; i++ {
		if err := <-errCh; err != nil && ctx.Err() == nil {
			return fmt.Errorf("worker loop exited: %w", err)
		}
	}
	return nil
}

// prometheusHTTPClient returns an HTTP client for usage scrape requests.
// When PrometheusTokenURL is configured it authenticates each request
// with an OAuth2 client-credentials token; otherwise it dials
// Prometheus directly with the default client.
func prometheusHTTPClient(ctx context.Context, cfg *config.Config) *http.Client {
	if cfg.PrometheusTokenURL == "" {
		return http.DefaultClient
	}
	ccCfg := clientcredentials.Config{
		ClientID:     cfg.OIDCClientID,
		ClientSecret: cfg.OIDCClientSecret,
		TokenURL:     cfg.PrometheusTokenURL,
	}
	return ccCfg.Client(ctx)
}

// newKubeClient resolves a dynamic client against an in-cluster config
// when kubeconfigPath is empty, falling back to the given kubeconfig
// file otherwise (spec.md §6's "Orchestrator objects" collaborator).
func newKubeClient(kubeconfigPath string) (dynamic.Interface, error) {
	var restCfg *rest.Config
	var err error
	if kubeconfigPath == "" {
		restCfg, err = rest.InClusterConfig()
	} else {
		restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving kube config: %w", err)
	}
	return dynamic.NewForConfig(restCfg)
}
