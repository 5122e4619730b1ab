package app

import (
	"context"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/forwarder/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/forwarder/internal/health"
	"github.com/vladislavdragonenkov/forwarder/internal/storage/memory"
	"github.com/vladislavdragonenkov/forwarder/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/forwarder/internal/storage/redis"
)

type runtimeDependencies struct {
	repo            domain.OrderRepository
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	linkCache       domain.LinkCacheRepository
	customers       domain.CustomerRepository
	checkers        map[string]healthcheck.Checker
	closeFn         func()
}

func (d runtimeDependencies) close() {
	if d.closeFn != nil {
		d.closeFn()
	}
}

// initRuntimeDependencies выбирает хранилища по конфигурации.
// Redis, если задан, заменяет кеш ссылок выбранного драйвера.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	deps := runtimeDependencies{checkers: make(map[string]healthcheck.Checker)}
	var closers []func()

	driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	switch driver {
	case "", StorageDriverMemory:
		deps.repo = memory.NewOrderRepository()
		deps.outboxRepo = memory.NewOutboxRepository()
		deps.idempotencyRepo = memory.NewIdempotencyRepository()
		deps.linkCache = memory.NewLinkCacheRepository()
		deps.customers = memory.NewCustomerRepository()
		logger.Info("storage driver: memory")
	case StorageDriverPostgres:
		dsn := strings.TrimSpace(cfg.PostgresDSN)
		if dsn == "" {
			return runtimeDependencies{}, fmt.Errorf("postgres storage driver requires DSN")
		}
		store, err := postgres.Open(ctx, dsn, postgres.WithMaxConns(cfg.PostgresMaxConns))
		if err != nil {
			return runtimeDependencies{}, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return runtimeDependencies{}, err
			}
		}
		deps.repo = postgres.NewOrderRepository(store)
		deps.outboxRepo = postgres.NewOutboxRepository(store)
		deps.idempotencyRepo = postgres.NewIdempotencyRepository(store)
		deps.linkCache = postgres.NewLinkCacheRepository(store)
		deps.customers = postgres.NewCustomerRepository(store)
		deps.checkers["postgres"] = healthcheck.NewSimpleChecker("postgres", store.Ping)
		closers = append(closers, func() {
			if err := store.Close(); err != nil {
				logger.WithError(err).Warn("failed to close postgres store")
			}
		})
		logger.WithFields(log.Fields{
			"auto_migrate": cfg.PostgresAutoMigrate,
			"max_conns":    store.MaxConns(),
		}).Info("storage driver: postgres")
	default:
		return runtimeDependencies{}, fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}

	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: addr})
		cache := redisstore.NewLinkCacheRepository(client)
		if err := cache.Ping(ctx); err != nil {
			logger.WithError(err).WithField("addr", addr).Warn("redis is unavailable, keeping storage link cache")
			_ = client.Close()
		} else {
			deps.linkCache = cache
			deps.checkers["redis"] = healthcheck.NewOptionalChecker("redis", cache.Ping)
			closers = append(closers, func() {
				if err := client.Close(); err != nil {
					logger.WithError(err).Warn("failed to close redis client")
				}
			})
			logger.WithField("addr", addr).Info("link cache: redis")
		}
	}

	deps.closeFn = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return deps, nil
}
