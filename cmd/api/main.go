package main

import (
	"context"
	"database/sql"
	"log"
	"time"

	"relaydesk/config"
	"relaydesk/internal/events"
	"relaydesk/internal/handler"
	"relaydesk/internal/outbox"
	"relaydesk/internal/provider/whatsapp"
	"relaydesk/internal/redis"
	"relaydesk/internal/repository"
	"relaydesk/internal/server"
	"relaydesk/internal/services"
	"relaydesk/internal/storage"
	"relaydesk/internal/websocket"
	"relaydesk/pkg/database"
	"relaydesk/pkg/logger"

	"go.uber.org/zap"
)

type stores struct {
	convs  repository.ConversationRepository
	msgs   repository.MessageRepository
	outbox repository.OutboxRepository
	tx     repository.Transactor
	db     *sql.DB
}

func openStores(ctx context.Context, cfg *config.Config, l *logger.Logger) (stores, error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		l.Infof("Using in-memory stores; data is lost on restart")
		return stores{
			convs:  repository.NewMemoryConversationRepository(),
			msgs:   repository.NewMemoryMessageRepository(),
			outbox: repository.NewMemoryOutboxRepository(),
		}, nil
	}
	db, err := database.Connect(ctx, cfg, l)
	if err != nil {
		return stores{}, err
	}
	return stores{
		convs:  repository.NewConversationRepository(db),
		msgs:   repository.NewMessageRepository(db),
		outbox: repository.NewOutboxRepository(db),
		tx:     repository.NewTransactor(db),
		db:     db,
	}, nil
}

func main() {
	cfg := config.LoadConfig()

	l := logger.New(cfg.AppMode)
	logger.SetGlobalLogger(l)
	defer l.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStores(ctx, cfg, l)
	if err != nil {
		log.Fatalf("Failed to open stores: %v", err)
	}
	var healthChecks []server.HealthCheck
	if st.db != nil {
		defer st.db.Close()
		healthChecks = append(healthChecks, func(ctx context.Context) error {
			return database.HealthCheck(ctx, st.db)
		})
	}

	var (
		limiters server.Limiters
		dedup    services.Deduper
	)
	if cfg.RedisEnabled {
		rdb := redis.NewClient(redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := redis.Ping(ctx, rdb); err != nil {
			l.Logger.Warn("redis unreachable; rate limits and webhook dedup degrade open", zap.Error(err))
		}

		rateCfg := redis.DefaultRateLimitConfig()
		if cfg.SendRateLimitPerMin > 0 {
			rateCfg.SendLimit = cfg.SendRateLimitPerMin
		}
		limiter := redis.NewRateLimiter(rdb, rateCfg)
		limiters = server.Limiters{Send: limiter, Webhook: limiter}
		dedup = redis.NewDeduper(rdb, 24*time.Hour)
		healthChecks = append(healthChecks, func(ctx context.Context) error { return redis.Ping(ctx, rdb) })
	}

	var publisher events.Publisher = events.NewFallback(l)
	if cfg.AMQPURL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(ctx, events.ConnectionOptions{
			URL:           cfg.AMQPURL,
			Exchange:      cfg.AMQPExchange,
			RetryAttempts: 5,
			Delay:         2 * time.Second,
		}, l)
		if err != nil {
			l.Logger.Error("amqp unavailable; domain events stay in the outbox log only", zap.Error(err))
		} else {
			publisher = amqpPublisher
		}
	}
	defer publisher.Close()
	outbox.NewRunner(outbox.DefaultProcessor(st.outbox, publisher, l)).Start(ctx)

	var media *services.MediaService
	s3Cfg := storage.S3Config{
		Region:     cfg.S3Region,
		Bucket:     cfg.S3Bucket,
		AccessKey:  cfg.S3AccessKey,
		SecretKey:  cfg.S3SecretKey,
		Endpoint:   cfg.S3Endpoint,
		PublicBase: cfg.S3PublicBase,
		PresignTTL: cfg.S3PresignTTL,
	}
	if s3Cfg.Enabled() {
		store, err := storage.NewClient(ctx, s3Cfg)
		if err != nil {
			log.Fatalf("Failed to configure media storage: %v", err)
		}
		media = services.NewMediaService(store)
	} else {
		media = services.NewMediaService(nil)
	}

	wsLog := websocket.NewLogger(l)
	hub := websocket.NewHub(wsLog)

	authService := services.NewAuthService(cfg)
	gateway := whatsapp.NewClient(cfg, l)

	webhookService := services.NewWebhookService(st.convs, st.msgs, st.outbox, hub, dedup, cfg.WhatsAppWebhookVerifyToken, l).
		WithTransactor(st.tx)
	sendService := services.NewSendService(st.convs, st.msgs, st.outbox, gateway, media, hub, cfg.ProviderTimeout, l).
		WithTransactor(st.tx)
	conversationService := services.NewConversationService(st.convs, st.msgs, st.outbox, hub, l).
		WithTransactor(st.tx)

	handlers := &server.Handlers{
		Webhook:      handler.NewWebhookHandler(webhookService, cfg.WhatsAppAppSecret, l),
		Message:      handler.NewMessageHandler(sendService),
		Conversation: handler.NewConversationHandler(conversationService),
		Media:        handler.NewMediaHandler(media),
		Realtime: websocket.NewHandler(authService, hub,
			websocket.NewConversationAuthorizer(st.convs, cfg.RealtimeStrictJoin),
			websocket.HandlerConfig{IdleTimeout: cfg.RealtimeIdleTimeout, AllowedOrigins: cfg.CORSOrigins},
			wsLog),
	}

	srv := server.New(cfg, l)
	srv.SetupRoutes(handlers, authService, limiters, healthChecks...)
	srv.RegisterOnShutdown(hub.Shutdown)
	srv.RegisterOnShutdown(cancel)

	if err := srv.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
