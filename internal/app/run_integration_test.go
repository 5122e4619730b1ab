package app

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/forwarder/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/forwarder/internal/health"
	"github.com/vladislavdragonenkov/forwarder/internal/storage/memory"
)

func localConfig() Config {
	cfg := DefaultConfig()
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.StorageDriver = StorageDriverMemory
	return cfg
}

func TestRun_MemoryGracefulShutdown(t *testing.T) {
	cfg := localConfig()
	cfg.JWTSecret = "run-secret"
	cfg.AdminUser = "admin"
	cfg.AdminPassword = "admin-password"

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	err := Run(ctx, cfg)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRun_InvalidStorageDriver(t *testing.T) {
	cfg := localConfig()
	cfg.StorageDriver = "invalid-driver"

	err := Run(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "unsupported storage driver") {
		t.Fatalf("expected unsupported storage driver error, got %v", err)
	}
}

func TestRun_InvalidGRPCAddr(t *testing.T) {
	cfg := localConfig()
	cfg.GRPCAddr = "invalid-address"

	err := Run(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "listen grpc") {
		t.Fatalf("expected grpc listen error, got %v", err)
	}
}

func TestOutboxBacklogChecker(t *testing.T) {
	repo := memory.NewOutboxRepository()
	for i := 0; i < 3; i++ {
		_, err := repo.Enqueue(domain.OutboxMessage{AggregateType: "order", AggregateID: "KS-25-000001", EventType: "order.created", Payload: []byte(`{}`)})
		require.NoError(t, err)
	}

	check := outboxBacklogChecker(repo, 5).Check(context.Background())
	require.Equal(t, healthcheck.StatusHealthy, check.Status)
	require.False(t, check.Critical)

	check = outboxBacklogChecker(repo, 2).Check(context.Background())
	require.Equal(t, healthcheck.StatusUnhealthy, check.Status)
	require.Contains(t, check.Message, "exceeds")

	check = outboxBacklogChecker(repo, 0).Check(context.Background())
	require.Equal(t, healthcheck.StatusHealthy, check.Status)

	// Превышение backlog делает сервис degraded, но не unhealthy.
	handler := healthcheck.NewHandler("test")
	handler.RegisterChecker("outbox", outboxBacklogChecker(repo, 1))
	require.Equal(t, healthcheck.StatusDegraded, handler.Evaluate(context.Background()).Status)
}

func TestInitRuntimeDependencies_PostgresSuccess(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("KS_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("postgres dsn is not available")
	}

	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = dsn
	cfg.PostgresAutoMigrate = true

	deps, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "postgres-init"))
	if err != nil {
		t.Skipf("postgres is not available for app integration test: %v", err)
	}
	defer deps.close()

	if deps.repo == nil || deps.outboxRepo == nil || deps.idempotencyRepo == nil || deps.linkCache == nil || deps.customers == nil {
		t.Fatalf("postgres dependencies must be initialized: %+v", deps)
	}
	checker, ok := deps.checkers["postgres"]
	if !ok {
		t.Fatal("expected postgres checker")
	}
	check := checker.Check(context.Background())
	if check.Status != healthcheck.StatusHealthy || !check.Critical {
		t.Fatalf("expected healthy critical storage checker, got %+v", check)
	}
}
