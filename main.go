package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"conversation-router/internal/assignment"
	"conversation-router/internal/common/logging"
	"conversation-router/internal/config"
	"conversation-router/internal/providers"
	"conversation-router/internal/redis"
	"conversation-router/internal/routing"
	"conversation-router/internal/server"
	"conversation-router/internal/storage"
	"conversation-router/internal/transport"

	// Storage backends self-register on import.
	_ "conversation-router/internal/storage/postgres"
	_ "conversation-router/internal/storage/sqlite"
)

func main() {
	// Load .env file if present (development convenience)
	_ = godotenv.Load()

	logging.InitGlobalLogger()
	defer logging.MustSync()
	logger := logging.GetGlobalLogger()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", err)
		os.Exit(1)
	}

	store, err := storage.NewStorage(cfg)
	if err != nil {
		logger.Error("Failed to initialize storage", err,
			logging.String("type", cfg.DatabaseType))
		os.Exit(1)
	}
	defer store.Close()

	// Provider registry, hydrated from storage.
	registry := providers.NewRegistry()
	known, err := store.GetProviders()
	if err != nil {
		logger.Error("Failed to load providers", err)
		os.Exit(1)
	}
	for _, p := range known {
		if err := registry.Register(p); err != nil {
			logger.Error("Failed to register provider", err,
				logging.String("provider_id", p.ProviderID))
			os.Exit(1)
		}
	}
	logger.Info("Provider registry hydrated", logging.Int("providers", registry.Len()))

	// Optional Redis availability mirror. Heartbeats from sibling instances
	// override the availability flags loaded from storage.
	var mirror *redis.Client
	if cfg.RedisAddress != "" {
		redisDB, _ := strconv.Atoi(cfg.RedisDB)
		poolSize, _ := strconv.Atoi(cfg.RedisPoolSize)
		mirror, err = redis.NewClient(&redis.Config{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       redisDB,
			PoolSize: poolSize,
		})
		if err != nil {
			logger.Error("Failed to connect to Redis", err)
			os.Exit(1)
		}
		defer mirror.Close()

		hydrateAvailability(mirror, registry, logger)
	}

	// Ruleset: load once at startup, then refresh on a schedule so admin
	// edits land without a restart.
	ruleStore := routing.NewRuleStore()
	if err := reloadRules(store, ruleStore); err != nil {
		logger.Error("Failed to load routing rules", err)
		os.Exit(1)
	}
	logger.Info("Routing rules loaded", logging.Int("rules", ruleStore.Len()))

	scorer := routing.NewScorer(ruleStore, routing.NewConditionEvaluator(), cfg.FallbackProviderID)

	// Routing events go to RabbitMQ when configured, otherwise nowhere.
	var publisher assignment.EventPublisher = transport.NoopPublisher{}
	if cfg.RabbitMQURL != "" {
		amqpPublisher, err := transport.NewPublisher(cfg.RabbitMQURL, cfg.RoutingQueue)
		if err != nil {
			logger.Error("Failed to connect to RabbitMQ", err)
			os.Exit(1)
		}
		defer amqpPublisher.Close()
		publisher = amqpPublisher
	}

	manager := assignment.NewManager(scorer, registry, store, publisher)

	scheduler := cron.New()
	_, err = scheduler.AddFunc(fmt.Sprintf("@every %s", cfg.RuleRefreshInterval), func() {
		if err := reloadRules(store, ruleStore); err != nil {
			logger.Error("Scheduled rule refresh failed", err)
			return
		}
		logger.Debug("Routing rules refreshed", logging.Int("rules", ruleStore.Len()))
	})
	if err != nil {
		logger.Error("Failed to schedule rule refresh", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv := server.New(cfg, manager, registry, ruleStore, store, mirror)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Server error", err)
			os.Exit(1)
		}
	case sig := <-stop:
		logger.Info("Shutting down", logging.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Graceful shutdown failed", err)
	}
}

// reloadRules swaps in the current ruleset from storage as one snapshot.
func reloadRules(store storage.Storage, ruleStore *routing.RuleStore) error {
	rules, err := store.GetRules()
	if err != nil {
		return err
	}
	routing.StampRules(rules, time.Now().UTC())
	return ruleStore.Replace(rules)
}

// hydrateAvailability applies mirrored heartbeats on top of the stored
// availability flags. Mirror errors are non-fatal.
func hydrateAvailability(mirror *redis.Client, registry *providers.Registry, logger logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ids, err := mirror.AvailableProviders(ctx)
	if err != nil {
		logger.Warn("Availability mirror not read", logging.Err(err))
		return
	}
	for _, id := range ids {
		if err := registry.SetAvailable(id, true); err != nil {
			// Heartbeats can reference providers this instance has not
			// loaded yet.
			logger.Warn("Mirrored heartbeat for unknown provider",
				logging.String("provider_id", id))
		}
	}
	logger.Info("Availability hydrated from mirror", logging.Int("heartbeats", len(ids)))
}
