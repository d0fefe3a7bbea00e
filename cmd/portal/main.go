package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mustardtree/portal/pkg/api"
	"github.com/mustardtree/portal/pkg/audit"
	"github.com/mustardtree/portal/pkg/auth"
	"github.com/mustardtree/portal/pkg/blog"
	"github.com/mustardtree/portal/pkg/config"
	"github.com/mustardtree/portal/pkg/documents"
	"github.com/mustardtree/portal/pkg/maintenance"
	"github.com/mustardtree/portal/pkg/middleware"
	"github.com/mustardtree/portal/pkg/objectstore"
	"github.com/mustardtree/portal/pkg/observability"
	"github.com/mustardtree/portal/pkg/rbac"
	"github.com/mustardtree/portal/pkg/sso"
	"github.com/mustardtree/portal/pkg/storage"
	"github.com/mustardtree/portal/pkg/webhooks"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	jobLogger := logrus.New()
	jobLogger.SetFormatter(&logrus.JSONFormatter{})
	jobLogger.SetLevel(logrusLevel(cfg.Observability.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	defer func() {
		if err := shutdown.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Error("Shutdown incomplete")
		}
	}()

	otel, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otel, logger)
	})

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.DefaultRegisterer)
	}

	kv, err := storage.Open(ctx, cfg.Storage, logger, metrics)
	if err != nil {
		return err
	}
	shutdown.Register("storage", func(context.Context) error { return kv.Close() })

	objects, err := objectstore.Open(ctx, cfg.Objects)
	if err != nil {
		return fmt.Errorf("failed to open object storage: %w", err)
	}

	collectionOpts := []storage.CollectionOption{
		storage.WithCorruptPolicy(cfg.Storage.CorruptPolicy),
		storage.WithLogger(logger),
	}

	// Role policy: environment rules, optionally merged with a watched file
	basePolicy := rbac.NewPolicy(ruleSet(cfg.Auth.Admin), ruleSet(cfg.Auth.Staff), ruleSet(cfg.Auth.Customer))
	policy := rbac.NewPolicyHolder(basePolicy)
	var watcher *rbac.PolicyWatcher
	if cfg.Auth.PolicyFile != "" {
		watcher, err = rbac.NewPolicyWatcher(cfg.Auth.PolicyFile, basePolicy, policy, jobLogger)
		if err != nil {
			return fmt.Errorf("failed to load role policy: %w", err)
		}
	}

	accessLog := audit.NewAccessLog(kv, cfg.Documents.AccessLogRetention, collectionOpts...)
	blogService := blog.NewService(kv, blog.DeletePolicy(cfg.Content.AuthorDeletePolicy), collectionOpts...)
	documentService := documents.NewService(kv, objects, accessLog, documents.Config{
		MaxUploadBytes: cfg.Documents.MaxUploadBytes,
		DemoCustomers:  cfg.Documents.DemoCustomers,
	}, metrics, collectionOpts...)

	apiCfg := api.Config{
		Blog:        blogService,
		Documents:   documentService,
		AccessLog:   accessLog,
		Logger:      logger,
		Metrics:     metrics,
		ListTimeout: cfg.Documents.ListTimeout,
		TrustProxy:  cfg.Server.TrustProxy,
		CORSOrigins: cfg.Server.CORSOrigins,
	}
	if fs, ok := objects.(*objectstore.FileSystemStore); ok {
		apiCfg.Files = fs.Handler()
	}

	targets := maintenance.Targets{AccessLog: accessLog}
	var limiterHealth observability.CheckFunc

	if cfg.Webhooks.Enabled {
		hooks := webhooks.NewManager(kv, nil, webhooks.Config{
			Timeout:   cfg.Webhooks.Timeout,
			PerMinute: cfg.Webhooks.PerMinute,
			Retry:     webhooks.RetryConfig{MaxAttempts: cfg.Webhooks.MaxAttempts},
			MaxLogs:   cfg.Webhooks.MaxLogs,
		}, metrics, collectionOpts...)
		blogService.SetPublisher(hooks)
		documentService.SetPublisher(hooks)
		apiCfg.Webhooks = hooks
		targets.Webhooks = hooks
		shutdown.Register("webhooks", func(ctx context.Context) error {
			done := make(chan struct{})
			go func() { hooks.Wait(); close(done) }()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}

	var resolver auth.Resolver
	switch cfg.Auth.Mode {
	case config.AuthModeZeroTrust:
		accessCfg := sso.AccessConfig{
			Domain:     cfg.Auth.AccessDomain,
			Audience:   cfg.Auth.AccessAudience,
			Issuer:     cfg.Auth.AccessIssuer,
			CertsURL:   cfg.Auth.AccessCertsURL,
			CookieName: cfg.Auth.AccessCookie,
			KeyTTL:     cfg.Auth.KeyCacheTTL,
		}
		if !cfg.Server.IsProduction() && cfg.Auth.DevIdentityEmail != "" {
			accessCfg.DevIdentity = &auth.Identity{
				Subject: cfg.Auth.DevIdentityEmail,
				Email:   cfg.Auth.DevIdentityEmail,
				Groups:  cfg.Auth.DevIdentityGroups,
				Source:  auth.SourceDevelopment,
			}
			logger.WithField("email", cfg.Auth.DevIdentityEmail).Warn("Development identity enabled for requests without a token")
		}
		resolver, err = sso.NewAccessResolver(accessCfg, logger, metrics)
		if err != nil {
			return err
		}

	default:
		credentials := auth.NewCredentialStore(kv, collectionOpts...)
		sessions := auth.NewSessionManager(kv, cfg.Auth.SessionTTL, collectionOpts...)

		generated, err := credentials.Bootstrap(ctx, auth.BootstrapOptions{
			Username:     cfg.Auth.BootstrapUsername,
			Email:        cfg.Auth.BootstrapEmail,
			PasswordHash: cfg.Auth.BootstrapPassword,
			Production:   cfg.Server.IsProduction(),
			Generate:     cfg.Auth.DevBootstrapEnabled,
		})
		if err != nil {
			return fmt.Errorf("failed to bootstrap admin account: %w", err)
		}
		if generated != "" {
			logger.WithFields(map[string]interface{}{
				"username": cfg.Auth.BootstrapUsername,
				"password": generated,
			}).Warn("Generated development admin password, it is shown only once")
		}

		limiterCfg := &middleware.RateLimitConfig{MaxAttempts: cfg.Auth.LoginMaxAttempts, Window: cfg.Auth.LoginWindow}
		var limiter auth.Limiter
		if cfg.Auth.LimiterBackend == "redis" {
			opts, err := redis.ParseURL(cfg.Auth.LimiterRedisURL)
			if err != nil {
				return fmt.Errorf("invalid limiter redis URL: %w", err)
			}
			client := redis.NewClient(opts)
			shutdown.Register("limiter-redis", func(context.Context) error { return client.Close() })
			distributed := middleware.NewDistributedRateLimiter(client, limiterCfg, "portal:login", metrics)
			limiter = distributed
			limiterHealth = distributed.HealthCheck
		} else {
			memLimiter := middleware.NewRateLimiter(limiterCfg, metrics)
			limiter = memLimiter
			targets.Limiter = memLimiter
		}

		sessionResolver := auth.NewSessionResolver(sessions, credentials, cfg.Auth.SessionCookie, cfg.Server.IsProduction())
		resolver = sessionResolver
		targets.Sessions = sessions

		apiCfg.Credentials = credentials
		apiCfg.Sessions = sessionResolver
		apiCfg.Authenticator = auth.NewPasswordAuthenticator(credentials, sessions, limiter,
			auth.PasswordPolicy{MinLength: cfg.Auth.PasswordMinLength}, logger, metrics)
	}

	apiCfg.Gate = middleware.NewGate(resolver, policy, cfg.Auth.ResolveTimeout, metrics)
	server := api.NewServer(apiCfg)

	health := observability.NewHealthChecker(version)
	health.Register("storage", true, kv.HealthCheck)
	health.Register("objects", false, objects.HealthCheck)
	if limiterHealth != nil {
		health.Register("limiter", false, limiterHealth)
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, health)
	if metrics != nil {
		healthMux.Handle("/metrics", promhttp.Handler())
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
	shutdown.Register("health-server", healthServer.Shutdown)
	shutdown.Register("http-server", httpServer.Shutdown)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithFields(map[string]interface{}{
			"addr":        httpServer.Addr,
			"auth_mode":   cfg.Auth.Mode,
			"environment": cfg.Server.Environment,
		}).Info("Starting MustardTree portal")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}
	if cfg.Maintenance.Enabled {
		scheduler, err := maintenance.New(cfg.Maintenance, targets, jobLogger, metrics)
		if err != nil {
			return err
		}
		g.Go(func() error { return scheduler.Run(gctx) })
	}

	// Servers are stopped by the shutdown manager once the group's context ends
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		return shutdown.Shutdown(context.Background())
	})

	return g.Wait()
}

func ruleSet(c config.RuleSetConfig) rbac.RuleSet {
	return rbac.RuleSet{Emails: c.Emails, Domains: c.Domains, Groups: c.Groups}
}

func logrusLevel(l observability.LogLevel) logrus.Level {
	level, err := logrus.ParseLevel(l.String())
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
