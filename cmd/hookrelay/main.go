package main

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dealerhub/hookrelay/pkg/config"
	"github.com/dealerhub/hookrelay/pkg/events"
	"github.com/dealerhub/hookrelay/pkg/httputil"
	"github.com/dealerhub/hookrelay/pkg/observability"
	"github.com/dealerhub/hookrelay/pkg/storage"
	"github.com/dealerhub/hookrelay/pkg/webhooks"
)

func main() {
	bootLog := logrus.New()
	bootLog.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		bootLog.WithError(err).Fatal("failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		bootLog.WithError(err).Fatal("failed to initialize tracing")
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	var db *sql.DB
	var eventStore webhooks.EventStore
	var logStore webhooks.DeliveryLogStore
	var configStore webhooks.ConfigStore

	switch cfg.Storage.Type {
	case "postgres":
		db, err = sql.Open("postgres", cfg.Storage.PostgresURL)
		if err != nil {
			bootLog.WithError(err).Fatal("failed to open postgres")
		}
		db.SetMaxOpenConns(cfg.Storage.PostgresMaxConns)
		db.SetMaxIdleConns(cfg.Storage.PostgresMinConns)

		pingCtx, pingCancel := context.WithTimeout(ctx, cfg.Storage.PostgresTimeout)
		err = db.PingContext(pingCtx)
		pingCancel()
		if err != nil {
			bootLog.WithError(err).Fatal("failed to ping postgres")
		}

		store, err := storage.NewSQLStore(db, metrics)
		if err != nil {
			bootLog.WithError(err).Fatal("failed to initialize postgres store")
		}
		eventStore = store.Events()
		logStore = store.Logs()
		configStore = store.Configs()
		logger.Info("using postgres storage")
	default:
		store := storage.NewMemoryStore()
		eventStore = store.Events()
		logStore = store.Logs()
		configStore = store.Configs()
		logger.Info("using in-memory storage")
	}

	var redisClient *redis.Client
	var limiter webhooks.RateLimiter
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		limiter = webhooks.NewRedisLimiter(redisClient, "hookrelay:ratelimit")
		logger.WithField("addr", cfg.Redis.Addr).Info("using redis rate limiter")
	}

	var inbound webhooks.Validator
	if cfg.Engine.InboundSecret != "" {
		inbound = webhooks.ValidatorFor(webhooks.SecurityHMAC,
			webhooks.SecurityConfig{Secret: cfg.Engine.InboundSecret},
			cfg.Engine.TimestampTolerance)
	}

	service, err := webhooks.NewService(ctx, webhooks.ServiceOptions{
		Events:             eventStore,
		Configs:            configStore,
		Logs:               logStore,
		Limiter:            limiter,
		Logger:             logger,
		Metrics:            metrics,
		InboundAuth:        inbound,
		DeliveryWorkers:    cfg.Engine.DeliveryWorkers,
		DeliveryTimeout:    cfg.Engine.DeliveryTimeout,
		DeliveryBudget:     cfg.Engine.DeliveryBudget,
		MaxBackoff:         cfg.Engine.MaxBackoff,
		BreakerMaxFailures: cfg.Engine.BreakerMaxFailures,
		BreakerResetAfter:  cfg.Engine.BreakerResetTimeout,
		TemplateCacheSize:  cfg.Engine.TemplateCacheSize,
		DefaultRateLimit:   cfg.Engine.DefaultRateLimit,
	})
	if err != nil {
		bootLog.WithError(err).Fatal("failed to create delivery engine")
	}
	registerHandlers(service, logger)

	allowed, err := httputil.ParseCIDRList(cfg.Server.AllowedCIDRs)
	if err != nil {
		bootLog.WithError(err).Fatal("failed to parse allowed CIDRs")
	}

	router := mux.NewRouter()
	apiHandler := webhooks.NewHTTPHandler(service, logger, metrics, allowed)
	apiHandler.MaxBodyBytes = cfg.Server.MaxBodyBytes
	apiHandler.RegisterRoutes(router)

	healthChecker := observability.NewHealthChecker(db, redisClient)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", healthChecker.Liveness)
	healthMux.HandleFunc("/readyz", healthChecker.Readiness)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.Handler(registry))
	}

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:      healthMux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	retention := webhooks.NewRetentionJob(service, logger,
		cfg.Engine.RetentionMaxAge, cfg.Engine.RetentionSchedule)
	if err := retention.Start(); err != nil {
		bootLog.WithError(err).Fatal("failed to start retention job")
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		retention.Stop()
		return nil
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return service.Shutdown(cfg.Server.ShutdownTimeout)
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	if db != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return db.Close()
		})
	}
	if providers != nil {
		shutdown.RegisterShutdownFunc(providers.Shutdown)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("webhook API server listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		return shutdown.WaitForShutdown()
	})
	group.Go(func() error {
		<-groupCtx.Done()
		return nil
	})

	if err := group.Wait(); err != nil {
		bootLog.WithError(err).Fatal("server exited with error")
	}
	logger.Info("shutdown complete")
}

// registerHandlers installs the built-in event handlers. Each returns
// the value the receiver endpoint responds with.
func registerHandlers(service *webhooks.Service, logger *observability.Logger) {
	handlers := []webhooks.Handler{
		webhooks.HandlerFunc{
			Type: events.TypeAdsSpend,
			Fn: func(ctx context.Context, event *events.Event) (interface{}, error) {
				logger.WithFields(map[string]interface{}{
					"event_id": event.ID,
					"campaign": event.Data["campaign_id"],
				}).Info("ads spend event received")
				return map[string]interface{}{"event_id": event.ID, "status": "recorded"}, nil
			},
		},
		webhooks.HandlerFunc{
			Type: events.TypeSystemDiagnostic,
			Fn: func(ctx context.Context, event *events.Event) (interface{}, error) {
				return map[string]interface{}{
					"event_id": event.ID,
					"status":   "ok",
					"time":     time.Now().UTC().Format(time.RFC3339),
				}, nil
			},
		},
		webhooks.HandlerFunc{
			Type: events.TypeNotification,
			Fn: func(ctx context.Context, event *events.Event) (interface{}, error) {
				return map[string]interface{}{"event_id": event.ID, "status": "queued"}, nil
			},
		},
	}
	for _, h := range handlers {
		if err := service.Registry().Register(h); err != nil {
			logger.WithError(err).WithField("event_type", h.EventType()).
				Error("failed to register event handler")
		}
	}
}
