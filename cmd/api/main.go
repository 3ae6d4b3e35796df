package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/helpdesk-engine/internal/api/http"
	"github.com/spec-kit/helpdesk-engine/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-engine/internal/auth"
	"github.com/spec-kit/helpdesk-engine/internal/broadcast"
	"github.com/spec-kit/helpdesk-engine/internal/config"
	"github.com/spec-kit/helpdesk-engine/internal/observability"
	"github.com/spec-kit/helpdesk-engine/internal/persistence"
	"github.com/spec-kit/helpdesk-engine/internal/queue"
	"github.com/spec-kit/helpdesk-engine/internal/repository"
	"github.com/spec-kit/helpdesk-engine/internal/service"
	"github.com/spec-kit/helpdesk-engine/internal/sla"
	"github.com/spec-kit/helpdesk-engine/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	policy, err := sla.NewPolicy(cfg.SLA)
	if err != nil {
		logger.Fatal("invalid sla policy", zap.Error(err))
	}

	assignQueue, err := queue.NewRedisQueue(ctx, redis.Client, cfg.Queue, logger)
	if err != nil {
		logger.Fatal("failed to init assignment queue", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	hub := broadcast.NewHub(logger)
	broadcaster := broadcast.NewRedisBroadcaster(redis.Client, hub, logger)
	go broadcaster.Run(ctx)

	pool := pg.PoolHandle()
	ticketRepo := repository.NewTicketRepository(pool)
	analystRepo := repository.NewAnalystRepository(pool)
	historyRepo := repository.NewTicketHistoryRepository(pool)

	sessionService := service.NewSessionService(cfg.Auth, analystRepo)
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  ticketRepo,
		AnalystRepo: analystRepo,
		HistoryRepo: historyRepo,
		Queue:       assignQueue,
		Broadcaster: broadcaster,
		Metrics:     metrics,
		Logger:      logger,
	})
	assignmentService := service.NewAssignmentService(service.AssignmentDependencies{
		TicketRepo:  ticketRepo,
		AnalystRepo: analystRepo,
		HistoryRepo: historyRepo,
		Broadcaster: broadcaster,
		Policy:      policy,
		Metrics:     metrics,
		Logger:      logger,
	})
	reassignmentService := service.NewReassignmentService(service.ReassignmentDependencies{
		TicketRepo:  ticketRepo,
		AnalystRepo: analystRepo,
		HistoryRepo: historyRepo,
		Queue:       assignQueue,
		Broadcaster: broadcaster,
		Logger:      logger,
		IdleTimeout: cfg.Session.IdleTimeout,
	})
	resolutionService := service.NewResolutionService(service.ResolutionDependencies{
		TicketRepo:  ticketRepo,
		AnalystRepo: analystRepo,
		HistoryRepo: historyRepo,
		Broadcaster: broadcaster,
		Logger:      logger,
	})

	workerPool := worker.NewPool(assignQueue, assignmentService, metrics, logger, cfg.Worker.PoolSize)
	go workerPool.Run(ctx)

	go runTicker(ctx, cfg.Worker.RequeueSweepEvery, func() {
		ticketService.RequeuePending(ctx, cfg.Worker.RequeueSweepEvery)
	})
	go runTicker(ctx, cfg.Session.IdleSweepEvery, func() {
		reassignmentService.RunIdleSweep(ctx)
	})

	authMiddleware := auth.NewAuthMiddleware(sessionService.TokenManager(), analystRepo)

	app := fiber.New(fiber.Config{DisableStartupMessage: cfg.App.Env == "production"})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(pg, redis, metrics),
		Session:        handlers.NewSessionHandler(sessionService, reassignmentService),
		Tickets:        handlers.NewTicketsHandler(ticketService, resolutionService),
		Stream:         handlers.NewStreamHandler(hub),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	_ = app.Shutdown()
	workerPool.Wait()
}

func runTicker(ctx context.Context, every time.Duration, fn func()) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
