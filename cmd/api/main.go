package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	httptransport "github.com/spec-kit/helpdesk-ops/internal/api/http"
	"github.com/spec-kit/helpdesk-ops/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-ops/internal/audit"
	"github.com/spec-kit/helpdesk-ops/internal/auth"
	"github.com/spec-kit/helpdesk-ops/internal/config"
	"github.com/spec-kit/helpdesk-ops/internal/directory"
	"github.com/spec-kit/helpdesk-ops/internal/events"
	"github.com/spec-kit/helpdesk-ops/internal/observability"
	"github.com/spec-kit/helpdesk-ops/internal/persistence"
	"github.com/spec-kit/helpdesk-ops/internal/repository"
	"github.com/spec-kit/helpdesk-ops/internal/service"
	"github.com/spec-kit/helpdesk-ops/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	metrics := observability.NewMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redisConn := persistence.NewRedis(cfg.Redis, logger)
	defer redisConn.Close()

	pool := pg.PoolHandle()
	staffRepo := repository.NewStaffRepository(pool)
	ticketRepo := repository.NewTicketRepository(pool)
	taskRepo := repository.NewTaskRepository(pool)
	approvalRepo := repository.NewApprovalRepository(pool)
	executionRepo := repository.NewExecutionRepository(pool)
	historyRepo := repository.NewLifecycleRepository(pool)

	fileSink, err := audit.NewFileSink(cfg.Audit.LogPath,
		audit.WithMaxSize(cfg.Audit.MaxSizeBytes),
		audit.WithChecksums(cfg.Audit.Checksum),
	)
	if err != nil {
		logger.Fatal("failed to open audit journal", zap.Error(err))
	}
	defer fileSink.Close() //nolint:errcheck
	journal := audit.NewWriter(logger, metrics, audit.NamedSink{Name: "file", Sink: fileSink})

	dispatcher := events.NewInMemoryDispatcher(logger)
	var publisherClient redis.UniversalClient
	if redisConn.Client != nil {
		publisherClient = redisConn.Client
	}
	publisher := events.NewRedisPublisher(publisherClient, cfg.Redis.EventsChannel)
	notificationService := service.NewNotificationService(dispatcher, logger, cfg.Notification)
	worker.StartNotificationWorker(dispatcher, notificationService, publisher)

	var ops *directory.Operations
	if cfg.Directory.Enabled {
		ops = newDirectoryOperations(cfg.Directory, logger, metrics)
	} else {
		logger.Warn("directory integration disabled; execution of automated task kinds will fail")
	}

	authService := service.NewAuthService(*cfg, staffRepo)
	staffService := service.NewStaffService(*cfg, staffRepo)
	taskDeps := service.TaskDependencies{
		TaskRepo:      taskRepo,
		TicketRepo:    ticketRepo,
		ExecutionRepo: executionRepo,
		HistoryRepo:   historyRepo,
		Dispatcher:    dispatcher,
	}
	execDeps := service.ExecutionDependencies{
		TaskRepo:         taskRepo,
		TicketRepo:       ticketRepo,
		ApprovalRepo:     approvalRepo,
		ExecutionRepo:    executionRepo,
		Locker:           persistence.NewLocker(redisConn),
		Journal:          journal,
		Dispatcher:       dispatcher,
		Metrics:          metrics,
		Logger:           logger,
		OperationTimeout: cfg.Execution.OperationTimeout,
		LockTTL:          cfg.Execution.LockTTL,
	}
	var dirReader handlers.DirectoryReader
	if ops != nil {
		taskDeps.Directory = ops
		execDeps.Directory = ops
		dirReader = ops
	}
	taskService := service.NewTaskService(taskDeps)
	approvalService := service.NewApprovalService(service.ApprovalDependencies{
		ApprovalRepo: approvalRepo,
		TaskRepo:     taskRepo,
		TicketRepo:   ticketRepo,
		Dispatcher:   dispatcher,
	})
	executionService := service.NewExecutionService(execDeps)

	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), staffRepo)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, time.Duration(cfg.App.RequestTimeoutSeconds)*time.Second)

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{"postgres": pg, "redis": redisConn}),
		Staff:          handlers.NewStaffHandler(authService, staffService),
		Tasks:          handlers.NewTasksHandler(taskService, approvalService, executionService),
		Approvals:      handlers.NewApprovalsHandler(approvalService),
		Directory:      handlers.NewDirectoryHandler(dirReader),
		Metrics:        metrics,
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}

func newDirectoryOperations(cfg config.DirectoryConfig, logger *zap.Logger, metrics *observability.Metrics) *directory.Operations {
	tokens := directory.NewTokenProvider(directory.Credentials{
		TenantID:     cfg.TenantID,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Authority:    cfg.Authority,
		Scope:        cfg.Scope,
	}, logger, directory.WithSafetyMargin(cfg.TokenSafetyGap))

	client := directory.NewClient(tokens, directory.ClientOptions{
		BaseURL:          cfg.Endpoint,
		RequestTimeout:   cfg.RequestTimeout,
		MaxAttempts:      cfg.MaxAttempts,
		BackoffBase:      cfg.BackoffBase,
		RetryAfterMax:    cfg.RetryAfterMax,
		RateLimit:        rate.Limit(cfg.RateLimitPerSec),
		RateBurst:        cfg.RateLimitBurst,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerCooldown:  cfg.BreakerCooldown,
		Logger:           logger,
		Metrics:          metrics,
	})
	return directory.NewOperations(client, logger)
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
