// Command controlserver runs the fleet control plane: heartbeat intake and
// consumption, the approval workflow API, the catalog, and the cache surface.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/HZeroxium/fleet-control/infrastructure/broker"
	"github.com/HZeroxium/fleet-control/infrastructure/cache"
	"github.com/HZeroxium/fleet-control/infrastructure/config"
	"github.com/HZeroxium/fleet-control/infrastructure/logging"
	"github.com/HZeroxium/fleet-control/infrastructure/metrics"
	"github.com/HZeroxium/fleet-control/infrastructure/ratelimit"
	"github.com/HZeroxium/fleet-control/infrastructure/resilience"
	"github.com/HZeroxium/fleet-control/pkg/storage"
	"github.com/HZeroxium/fleet-control/pkg/storage/memory"
	"github.com/HZeroxium/fleet-control/pkg/storage/postgres"
	approvalsvc "github.com/HZeroxium/fleet-control/services/approval"
	heartbeatsvc "github.com/HZeroxium/fleet-control/services/heartbeat"
	"github.com/HZeroxium/fleet-control/services/httpapi"
	registrysvc "github.com/HZeroxium/fleet-control/services/registry"
)

func main() {
	cfg := config.Load()
	logger := logging.NewFromEnv(cfg.ServiceName)
	m := metrics.Init(cfg.ServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Stores: postgres when configured, in-memory otherwise.
	var (
		fleetStore    storage.FleetStore
		approvalStore storage.ApprovalStore
		decisionStore storage.DecisionStore
		registryStore storage.RegistryStore
	)
	if cfg.DatabaseURL != "" {
		if err := postgres.Migrate(cfg.DatabaseURL, config.Get("app.database.migrations", "file://pkg/storage/postgres/migrations")); err != nil {
			logger.WithError(err).Fatal("migrations failed")
		}
		db, err := postgres.Connect(cfg.DatabaseURL)
		if err != nil {
			logger.WithError(err).Fatal("database connection failed")
		}
		defer db.Close()
		fleetStore = postgres.NewFleetStore(db)
		approvalStore = postgres.NewApprovalStore(db)
		decisionStore = postgres.NewDecisionStore(db)
		registryStore = postgres.NewRegistryStore(db)
	} else {
		logger.Warn("no database configured, using in-memory stores")
		fleetStore = memory.NewFleetStore()
		approvalStore = memory.NewApprovalStore()
		decisionStore = memory.NewDecisionStore()
		registryStore = memory.NewRegistryStore()
	}

	// Resilience fabric shared state.
	budget := resilience.NewRetryBudget(resilience.RetryBudgetConfig{
		Window:             cfg.RetryBudget.Window,
		MaxRetryPercentage: cfg.RetryBudget.MaxRetryPercentage,
	})
	health := resilience.NewHealthRegistry()

	// Broker and L2 cache share the Redis connection.
	var (
		bus     broker.Broker
		l2      cache.Store
		redisDB *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisDB = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisDB.Close()
		bus = broker.NewRedisBroker(redisDB, broker.RedisBrokerConfig{
			Group:      cfg.ServiceName,
			Consumer:   hostnameOr("consumer-1"),
			Partitions: cfg.Heartbeat.Partitions,
		})

		l2Pipeline := resilience.NewPipeline(resilience.DefaultPipelineConfig("cache-l2"), budget, logger, m)
		health.RegisterCritical(l2Pipeline.Breaker())
		l2 = cache.NewRedisStore(redisDB, l2Pipeline, "cache:")
	} else {
		logger.Warn("no redis configured, using in-process broker")
		bus = broker.NewMemoryBroker(cfg.Heartbeat.Partitions)
	}

	engine := cache.NewEngine(cache.EngineConfig{
		Provider:             cache.Provider(cfg.Cache.Provider),
		DefaultTTL:           cfg.Cache.DefaultTTL,
		L1MaxEntries:         cfg.Cache.L1MaxEntries,
		CompressionThreshold: cfg.Cache.CompressionThreshold,
	}, l2, logger, m)

	// Services.
	catalog := registrysvc.NewService(registryStore, engine, logger)
	authz := approvalsvc.NewStaticAuthz(registryStore)
	for _, admin := range config.GetCSV("app.approval.sys-admins") {
		authz.GrantSysAdmin(admin)
	}
	notifier := approvalsvc.FanoutNotifier{
		approvalsvc.NewBusNotifier(bus, config.Get("app.approval.events-topic", "approval-events"), logger),
		approvalsvc.NotifierFunc(catalog.ApplyFinalized),
	}
	approvals := approvalsvc.NewService(approvalStore, decisionStore, authz, notifier, cfg.ExpiryWindow, logger, m)

	ingestor := heartbeatsvc.NewIngestor(bus, fleetStore, cfg.Heartbeat, logger)
	consumer := heartbeatsvc.NewConsumer(bus, cfg.Heartbeat, fleetStore, logger, m)
	consumer.Start(ctx)
	defer consumer.Stop()

	sweeper := heartbeatsvc.NewSweeper(fleetStore, cfg.Heartbeat, logger)
	if err := sweeper.Start(ctx); err != nil {
		logger.WithError(err).Fatal("fleet sweeper failed to start")
	}
	defer sweeper.Stop()

	expiry := approvalsvc.NewExpirySweeper(approvals, logger)
	if err := expiry.Start(ctx, config.Get("app.approval.sweep-schedule", "@every 5m")); err != nil {
		logger.WithError(err).Fatal("expiry sweeper failed to start")
	}
	defer expiry.Stop()

	router := httpapi.NewRouter(httpapi.Deps{
		Ingestor:  ingestor,
		Fleet:     fleetStore,
		Approvals: approvals,
		Registry:  catalog,
		Cache:     engine,
		Health:    health,
		Limiter:   ratelimit.New(ratelimit.DefaultConfig()),
		Logger:    logger,
		Metrics:   m,
		Service:   cfg.ServiceName,

		DeadlineDisabled: !cfg.Deadline.Enabled,
	})

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("control plane listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown incomplete")
	}
}

func hostnameOr(fallback string) string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return fallback
}
