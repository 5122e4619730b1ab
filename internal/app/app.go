package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/forwarder/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/forwarder/internal/health"
	"github.com/vladislavdragonenkov/forwarder/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/forwarder/internal/metrics"
	grpcsvc "github.com/vladislavdragonenkov/forwarder/internal/service/grpc"
	"github.com/vladislavdragonenkov/forwarder/internal/service/httpapi"
	"github.com/vladislavdragonenkov/forwarder/internal/service/idempotency"
	"github.com/vladislavdragonenkov/forwarder/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/forwarder/internal/service/outbox"
	"github.com/vladislavdragonenkov/forwarder/internal/service/validation"
	"github.com/vladislavdragonenkov/forwarder/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run поднимает хранилища, фоновые воркеры, gRPC, HTTP API и сервер метрик.
// Завершается с ctx.Err() после остановки по сигналу.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close()

	lifecycleMetrics := metrics.NewLifecycleMetrics()
	validator := validation.NewValidator(
		validation.WithCache(deps.linkCache),
		validation.WithMetrics(lifecycleMetrics),
		validation.WithFreshness(cfg.LinkFreshness),
		validation.WithLogger(logger.WithField("component", "link-validator")),
	)
	engine := lifecycle.NewEngine(
		deps.repo,
		lifecycle.WithOutbox(deps.outboxRepo),
		lifecycle.WithCustomers(deps.customers),
		lifecycle.WithValidator(validator),
		lifecycle.WithMetrics(lifecycleMetrics),
		lifecycle.WithLogger(logger.WithField("component", "lifecycle")),
	)

	// Без Kafka сервис работает, события копятся в outbox.
	producer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(producer, logger)

	workersCtx, cancelWorkers := context.WithCancel(ctx)
	var workers sync.WaitGroup
	startWorkers(workersCtx, &workers, cfg, deps, producer, logger)
	consumer := startAutomationConsumer(workersCtx, cfg, engine, producer, logger)
	defer func() {
		cancelWorkers()
		stopConsumer(consumer, logger)
		workers.Wait()
	}()

	healthHandler := healthcheck.NewHandler(version.GetVersion(), healthcheck.WithCommit(version.GetCommit()))
	for name, checker := range deps.checkers {
		healthHandler.RegisterChecker(name, checker)
	}
	healthHandler.RegisterChecker("outbox", outboxBacklogChecker(deps.outboxRepo, cfg.OutboxMaxPending))

	auth, err := newStaffAuth(cfg, logger)
	if err != nil {
		return err
	}

	grpcServer, healthServer := newGRPCServer(engine, validator, auth, deps.idempotencyRepo, logger)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	httpServer := newHTTPServer(cfg, engine, validator, auth, deps.idempotencyRepo, logger)
	var httpLis net.Listener
	if httpServer != nil {
		if httpLis, err = net.Listen("tcp", httpServer.Addr); err != nil {
			_ = grpcLis.Close()
			return fmt.Errorf("listen http: %w", err)
		}
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		errCh <- grpcServer.Serve(grpcLis)
	}()
	if httpServer != nil {
		go func() {
			logger.Infof("HTTP API слушает %s", httpLis.Addr())
			if err := httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		stopGRPC(grpcServer, healthServer, logger)
		shutdownHTTP(httpServer, logger)
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		stopGRPC(grpcServer, healthServer, logger)
		shutdownHTTP(httpServer, logger)
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// startWorkers запускает outbox worker (только при наличии Kafka) и очистку idempotency-ключей.
func startWorkers(ctx context.Context, wg *sync.WaitGroup, cfg Config, deps runtimeDependencies, producer *kafka.Producer, logger *log.Entry) {
	if producer != nil && deps.outboxRepo != nil {
		worker := outbox.NewWorker(
			deps.outboxRepo,
			kafka.NewOutboxPublisher(producer, cfg.KafkaEventsTopic),
			outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic)),
			outbox.WithMetrics(metrics.NewOutboxMetrics(prometheus.DefaultRegisterer)),
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	} else {
		logger.Info("kafka is not configured, outbox events stay pending")
	}

	if deps.idempotencyRepo != nil {
		cleanup := idempotency.NewCleanupWorker(
			deps.idempotencyRepo,
			idempotency.WithMetrics(metrics.NewCleanupMetrics(prometheus.DefaultRegisterer)),
			idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
			idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
			idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			cleanup.Run(ctx)
		}()
	}
}

// newStaffAuth собирает менеджер JWT сотрудников, общий для REST и gRPC.
// Без секрета возвращает nil: служебные операции обоих API отключены.
func newStaffAuth(cfg Config, logger *log.Entry) (*httpapi.AuthManager, error) {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		logger.Warn("JWT secret is not set, staff endpoints are disabled")
		return nil, nil
	}
	staff := map[string]string{}
	if cfg.AdminUser != "" && cfg.AdminPassword != "" {
		staff[cfg.AdminUser] = cfg.AdminPassword
	}
	auth, err := httpapi.NewAuthManager(cfg.JWTSecret, cfg.JWTTokenTTL, staff)
	if err != nil {
		return nil, fmt.Errorf("init staff auth: %w", err)
	}
	return auth, nil
}

// newGRPCServer регистрирует OrderService, health и reflection с метриками go-grpc-prometheus.
// Служебные методы OrderService требуют JWT сотрудника.
func newGRPCServer(
	engine *lifecycle.Engine,
	validator *validation.Validator,
	auth *httpapi.AuthManager,
	idemRepo domain.IdempotencyRepository,
	logger *log.Entry,
) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	var verifier grpcsvc.StaffVerifier
	if auth != nil {
		verifier = auth
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		grpcMetrics.UnaryServerInterceptor(),
		grpcsvc.StaffAuthInterceptor(verifier),
	))
	orderService := grpcsvc.NewOrderService(engine, validator, idemRepo, logger.WithField("layer", "grpc"))
	grpcsvc.RegisterOrderServiceServer(grpcServer, orderService)
	grpcMetrics.InitializeMetrics(grpcServer)

	reflection.Register(grpcServer)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	return grpcServer, healthServer
}

// newHTTPServer собирает REST API. Пустой HTTPAddr отключает его: возвращается nil.
func newHTTPServer(
	cfg Config,
	engine *lifecycle.Engine,
	validator *validation.Validator,
	auth *httpapi.AuthManager,
	idemRepo domain.IdempotencyRepository,
	logger *log.Entry,
) *http.Server {
	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		return nil
	}

	api := httpapi.New(engine, validator, auth,
		httpapi.WithIdempotency(idemRepo),
		httpapi.WithLogger(logger.WithField("component", "http-api")),
		httpapi.WithValidateRateLimit(cfg.ValidateRateLimit, cfg.ValidateRateBurst),
	)
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// outboxBacklogChecker сообщает degraded, когда pending-событий больше maxPending.
func outboxBacklogChecker(repo domain.OutboxRepository, maxPending int) healthcheck.Checker {
	return healthcheck.NewOptionalChecker("outbox", func(context.Context) error {
		if repo == nil {
			return nil
		}
		stats, err := repo.Stats()
		if err != nil {
			return err
		}
		if maxPending > 0 && stats.PendingCount > maxPending {
			return fmt.Errorf("outbox backlog %d exceeds %d", stats.PendingCount, maxPending)
		}
		return nil
	})
}

// stopGRPC останавливает gRPC сервер, принудительно — по таймауту.
func stopGRPC(server *grpc.Server, healthServer *health.Server, logger *log.Entry) {
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	stoppedCh := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stoppedCh)
	}()
	select {
	case <-stoppedCh:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}
