package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-inbox/internal/config"
	"github.com/noah-isme/gema-inbox/internal/database"
	"github.com/noah-isme/gema-inbox/internal/handler"
	"github.com/noah-isme/gema-inbox/internal/middleware"
	"github.com/noah-isme/gema-inbox/internal/repository"
	"github.com/noah-isme/gema-inbox/internal/router"
	"github.com/noah-isme/gema-inbox/internal/service"
	"github.com/noah-isme/gema-inbox/pkg/portalapi"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient, err := database.ConnectRedis(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName, logger)
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}
	if natsConn != nil {
		defer natsConn.Close()
	}

	portal, err := portalapi.NewClient(portalapi.Config{
		BaseURL:    cfg.PortalBaseURL,
		Timeout:    cfg.PortalTimeout,
		RetryCount: cfg.PortalRetryCount,
		UserAgent:  cfg.AppName,
		Logger:     logger,
	})
	if err != nil {
		log.Fatalf("failed to create portal client: %v", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	chatRepo := repository.NewChatRepository(portal)
	messageRepo := repository.NewMessageRepository(portal)
	notificationRepo := repository.NewNotificationRepository(portal)
	commentRepo := repository.NewCommentRepository(portal)

	commentService := service.NewCommentService(commentRepo, redisClient, cfg.CommentCacheTTL, validate, logger)
	broker := service.NewEventBroker(redisClient, cfg.ChannelBase, natsConn, logger)
	broker.Start(ctx)

	registry := service.NewEngineRegistry(service.InboxDeps{
		Chat:       chatRepo,
		Messages:   messageRepo,
		Broadcasts: notificationRepo,
		Comments:   commentService,
		Broker:     broker,
	}, service.RegistryConfig{
		Inbox: service.InboxConfig{
			SyncInterval: cfg.SyncInterval,
			FeedPageSize: cfg.FeedPageSize,
		},
		IdleTTL:  cfg.EngineIdleTTL,
		ReapSpec: cfg.EngineReapSpec,
	}, logger)
	if err := registry.Start(); err != nil {
		log.Fatalf("failed to start inbox registry: %v", err)
	}

	inboxHandler := handler.NewInboxHandler(registry, broker, validate, handler.InboxHandlerConfig{
		KeepAlive:     cfg.StreamKeepAlive,
		SendRateLimit: cfg.SendRateLimit,
	}, logger)
	commentHandler := handler.NewCommentHandler(commentService, validate, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: cfg.CORSOrigins})
	router.Register(app, cfg, router.Dependencies{
		InboxHandler:   inboxHandler,
		CommentHandler: commentHandler,
		Engines:        registry,
		JWTMiddleware:  middleware.JWTProtected(cfg.JWTSecret),
		Logger:         logger,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, registry)
}

func waitForShutdown(app *fiber.App, registry *service.EngineRegistry) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	registry.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
