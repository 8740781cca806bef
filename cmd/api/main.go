package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/support-chat/internal/api/http"
	"github.com/spec-kit/support-chat/internal/api/http/handlers"
	"github.com/spec-kit/support-chat/internal/auth"
	"github.com/spec-kit/support-chat/internal/config"
	"github.com/spec-kit/support-chat/internal/events"
	"github.com/spec-kit/support-chat/internal/notify"
	"github.com/spec-kit/support-chat/internal/observability"
	"github.com/spec-kit/support-chat/internal/persistence"
	"github.com/spec-kit/support-chat/internal/repository"
	"github.com/spec-kit/support-chat/internal/service"
	"github.com/spec-kit/support-chat/internal/storage"
	"github.com/spec-kit/support-chat/internal/worker"
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

	metrics := observability.NewMetrics()

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

	pool := pg.PoolHandle()
	ticketRepo := repository.NewTicketRepository(pool)
	messageRepo := repository.NewMessageRepository(pool)
	attachmentRepo := repository.NewAttachmentRepository(pool)
	profileRepo := repository.NewProfileRepository(pool)

	blobs, err := storage.NewDiskStore(cfg.Storage.Root)
	if err != nil {
		logger.Fatal("failed to init attachment storage", zap.Error(err))
	}
	signer := storage.NewURLSigner(cfg.Storage.SignSecret, cfg.Storage.PublicBaseURL, cfg.Storage.SignedURLTTL())

	dispatcher := events.NewInMemoryDispatcher()

	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:     ticketRepo,
		MessageRepo:    messageRepo,
		AttachmentRepo: attachmentRepo,
		ProfileRepo:    profileRepo,
		Blobs:          blobs,
		Signer:         signer,
		Dispatcher:     dispatcher,
		Logger:         logger,
	})
	authService := service.NewAuthService(*cfg, profileRepo)
	notificationService := service.NewNotificationService(dispatcher, logger, cfg.Notification)
	worker.StartNotificationWorker(notificationService)

	hub := notify.NewHub(redis.Client, pool, logger, metrics)
	hub.Start(ctx)
	defer hub.Close()

	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), profileRepo)

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Auth:           handlers.NewAuthHandler(authService),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		Attachments:    handlers.NewAttachmentsHandler(blobs, signer),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
