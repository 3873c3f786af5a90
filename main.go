package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-sync/internal/config"
	"chat-sync/internal/db"
	"chat-sync/internal/handlers"
	"chat-sync/internal/middleware"
	"chat-sync/internal/observability"
	"chat-sync/internal/rabbitmq"
	"chat-sync/internal/repositories"
	"chat-sync/internal/sessions"
	"chat-sync/internal/telemetry"
	"chat-sync/internal/ws"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()
	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.OTLPEndpoint, "chat-sync", cfg.Environment)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(ctx); err != nil {
			log.Printf("tracing shutdown failed: %v", err)
		}
	}()

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	sessionStore, err := buildSessionStore(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer sessionStore.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	log.Printf("event publisher mode=%s reason=%q", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))

	emitter := telemetry.NewAuditEmitter(publisher, "audit.chat_sync", "chat-sync", cfg.Environment)

	convRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	hub := ws.NewHub()

	conversationHandler := handlers.NewConversationHandler(convRepo, messageRepo, hub)
	messageHandler := handlers.NewMessageHandler(convRepo, messageRepo, hub, emitter)
	wsHandler := ws.NewHandler(hub, sessionStore, convRepo)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("chat-sync"))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(sessionStore)

	router.GET("/conversations", authMiddleware, conversationHandler.List)
	router.GET("/conversations/:conversation_id/messages", authMiddleware, conversationHandler.GetMessages)
	router.POST("/conversations/:conversation_id/seen", authMiddleware, conversationHandler.MarkSeen)
	router.POST("/groups", authMiddleware, conversationHandler.CreateGroup)
	router.POST("/messages/direct", authMiddleware, messageHandler.SendDirect)
	router.POST("/messages/group", authMiddleware, messageHandler.SendGroup)

	router.GET("/ws", wsHandler.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, emitter, cfg.DebugRoutes)

	if err := router.Run(cfg.ServerAddr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func buildSessionStore(ctx context.Context, redisURL string) (sessions.Store, error) {
	if redisURL == "" {
		log.Println("sessions: using in-memory store")
		return sessions.NewMemoryStore(), nil
	}
	log.Println("sessions: using redis store")
	return sessions.NewRedisStore(ctx, redisURL)
}
