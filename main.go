package main

import (
	"context"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/ayersdecker/gameplan/internal/auth"
	"github.com/ayersdecker/gameplan/internal/chat"
	"github.com/ayersdecker/gameplan/internal/config"
	"github.com/ayersdecker/gameplan/internal/db"
	"github.com/ayersdecker/gameplan/internal/handlers"
	"github.com/ayersdecker/gameplan/internal/keystore"
	"github.com/ayersdecker/gameplan/internal/middleware"
	"github.com/ayersdecker/gameplan/internal/observability"
	"github.com/ayersdecker/gameplan/internal/rabbitmq"
	"github.com/ayersdecker/gameplan/internal/repositories"
	"github.com/ayersdecker/gameplan/internal/securestore"
	"github.com/ayersdecker/gameplan/internal/telemetry"
	"github.com/ayersdecker/gameplan/internal/ws"
)

const serviceName = "gameplan-chat"

func main() {
	cfg := config.Load()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", serviceName).Logger()
	if cfg.Debug {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	shutdownTracing, err := observability.SetupTracing(context.Background(), cfg.OTLPEndpoint, serviceName, cfg.Environment)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up tracing")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to db")
	}
	defer database.Close()

	local, err := securestore.OpenSQLite(cfg.SecureStorePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open secure store")
	}
	defer local.Close()

	verifier, err := auth.NewHMACVerifier(cfg.AuthSecret)
	if err != nil {
		logger.Fatal().Err(err).Msg("AUTH_SECRET must be set")
	}

	conversationRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	keyRepo := repositories.NewKeyRepo(database)

	keys := keystore.NewService(local, keyRepo, conversationRepo, logger)

	hub := chat.NewHub()
	chatService := chat.NewService(conversationRepo, messageRepo, keys, hub, logger)

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	defer publisher.Close()
	emitter := telemetry.NewAuditEmitter(publisher, "gameplan.audit", serviceName, cfg.Environment, logger)

	conversationHandler := handlers.NewConversationHandler(chatService, emitter)
	conversationWS := ws.NewConversationWSHandler(chatService, verifier, logger)
	inboxWS := ws.NewInboxWSHandler(chatService, verifier, logger)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authMiddleware := middleware.AuthMiddleware(verifier)

	router.GET("/conversations", authMiddleware, conversationHandler.ListConversations)
	router.POST("/conversations/start", authMiddleware, conversationHandler.StartConversation)
	router.GET("/conversations/:conversation_id/messages", authMiddleware, conversationHandler.GetMessages)
	router.POST("/conversations/:conversation_id/messages", authMiddleware, conversationHandler.PostMessage)
	router.POST("/conversations/:conversation_id/read", authMiddleware, conversationHandler.MarkRead)

	router.GET("/ws/conversations/:conversation_id", conversationWS.Handle)
	router.GET("/ws/inbox", inboxWS.Handle)

	logger.Info().Str("port", cfg.Port).Str("environment", cfg.Environment).Msg("starting server")
	if err := router.Run(":" + cfg.Port); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}
