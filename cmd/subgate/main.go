package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/subgate/subgate/pkg/api"
	"github.com/subgate/subgate/pkg/billing"
	"github.com/subgate/subgate/pkg/config"
	"github.com/subgate/subgate/pkg/observability"
	"github.com/subgate/subgate/pkg/webhooks"
)

const version = "1.0.0"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	logger := observability.NewLogger(parseLogLevel(cfg.Observability.LogLevel), os.Stdout)

	billingLogger := logrus.New()
	billingLogger.SetFormatter(&logrus.JSONFormatter{})
	billingLogger.SetLevel(parseLogrusLevel(cfg.Observability.LogLevel))

	// Tracing is optional; everything else runs the same with or without it
	otelProviders, err := observability.InitOTel(context.Background(), observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		billingLogger.WithError(err).Fatal("Failed to initialize OpenTelemetry")
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	svc := billing.NewClient(billing.Config{
		SecretKey: cfg.Stripe.SecretKey,
		Metrics:   metrics,
	}, billingLogger)

	// Webhook processing needs a signing secret; without one the /webhook
	// route is not mounted at all
	var processor *webhooks.Processor
	var deduper *webhooks.RedisDeduper
	if cfg.Stripe.WebhookSecret != "" {
		if cfg.Redis.URL != "" {
			deduper, err = webhooks.NewRedisDeduper(cfg.Redis)
			if err != nil {
				billingLogger.WithError(err).Fatal("Failed to connect to Redis")
			}
			defer deduper.Close()
			logger.Info("Webhook dedup enabled")
		} else {
			logger.Warn("Redis not configured; webhook deliveries will not be deduplicated")
		}

		var dedup webhooks.Deduper
		if deduper != nil {
			dedup = deduper
		}
		processor = webhooks.NewProcessor(cfg.Stripe.WebhookSecret, cfg.Stripe.WebhookTolerance, dedup, billingLogger, metrics)
		webhooks.RegisterDefaultHandlers(processor, svc, billingLogger)
	} else {
		logger.Warn("STRIPE_WEBHOOK_SECRET not set; webhook endpoint disabled")
	}

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	if err := cfg.Prices.Watch(watchCtx, func(err error) {
		logger.WithError(err).Error("Price table reload failed")
	}); err == nil {
		logger.Info("Watching price table file for changes")
	}

	server := api.NewServer(cfg, svc, processor, logger, metrics)

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Probes and metrics live on their own port so they are never exposed
	// alongside the public API
	healthMux := http.NewServeMux()
	var redisClient *redis.Client
	if deduper != nil {
		redisClient = deduper.Client()
	}
	checker := observability.NewHealthChecker(redisClient, version)
	observability.RegisterHealthRoutes(healthMux, checker)
	observability.RegisterMetricsEndpoint(healthMux, registry)
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	var g errgroup.Group
	g.Go(func() error {
		logger.Infof("Billing API listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("Health and metrics listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		cancelWatch()
		return nil
	})
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
	}
	if err := g.Wait(); err != nil {
		billingLogger.WithError(err).Fatal("Server failed")
	}
}

func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

func parseLogrusLevel(level string) logrus.Level {
	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return parsed
}
