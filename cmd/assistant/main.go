package main

import (
	"context"

	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/agent"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/cases"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/chat"
	assistantconfig "github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/config"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/intent"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/metering"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/protocol"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/retrieval"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/auth"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/config"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/database"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/llm"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/logging"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/monitoring"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/redis"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/server"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/version"
)

const serviceName = "assistant"

func main() {
	logger := logging.NewLoggerWithService(serviceName)
	config.LoadEnv(logger)

	logger.WithField("version", version.String()).Info("Starting case management assistant")

	cfg := assistantconfig.LoadConfig()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db := database.MustConnect(ctx, database.DefaultConfig(cfg.DatabaseURL), logger)
	defer func() { _ = db.Close() }()

	if err := database.ApplySchema(ctx, db, logger); err != nil {
		logger.WithError(err).Fatal("Failed to apply database schema")
	}

	healthChecker := monitoring.NewHealthChecker(serviceName, version.Version)
	metricsCollector := monitoring.NewMetricsCollector(serviceName, version.Version, nil)

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":    cfg.DatabaseURL,
		"JWT_SECRET":      cfg.JWTSecret,
		"LLM_MODEL":       cfg.LLMModel,
		"EMBEDDING_MODEL": cfg.EmbeddingModel,
	}))

	// Usage ledger
	usageStore := metering.Store(metering.NewPostgresStore(db))
	if cfg.UsageBackend == assistantconfig.UsageBackendRedis {
		redisClient, err := redis.NewUniversalClient(ctx, redis.Config{
			Addrs:    cfg.RedisAddrs,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis usage backend")
		}
		defer func() { _ = redisClient.Close() }()
		healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(redisClient))
		usageStore = metering.NewRedisUsageStore(redisClient, metering.NewPostgresStore(db), "")
		logger.WithField("addrs", cfg.RedisAddrs).Info("Using Redis usage counters")
	}

	var usagePublisher metering.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := metering.NewPublisher(metering.PublisherConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.UsageKafkaTopic,
			Source:  serviceName,
			Logger:  logger,
		})
		if err != nil {
			logger.WithError(err).Warn("Failed to create usage Kafka publisher - usage events disabled")
		} else {
			usagePublisher = publisher
			defer func() { _ = publisher.Close() }()
		}
	} else {
		logger.Warn("KAFKA_BROKERS not set - usage events disabled")
	}

	ledger := metering.NewLedger(metering.LedgerConfig{
		Store:         usageStore,
		Publisher:     usagePublisher,
		Logger:        logger,
		FlushInterval: cfg.UsageFlushInterval,
	})
	ledger.Start()
	defer ledger.Stop()

	rateLimiter := metering.NewRateLimiter(cfg.ChatRateLimitHour, cfg.RateLimitOverrides)
	rateLimiter.StartCleanup(ctx)

	// Model providers
	provider, err := llm.NewProvider(llm.Config{
		Provider:  cfg.LLMProvider,
		Model:     cfg.LLMModel,
		APIKey:    cfg.LLMAPIKey,
		APIURL:    cfg.LLMAPIURL,
		MaxTokens: cfg.LLMMaxTokens,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create LLM provider")
	}
	embedder, err := llm.NewEmbeddingClient(llm.Config{
		Provider: cfg.EmbeddingProvider,
		Model:    cfg.EmbeddingModel,
		APIKey:   cfg.EmbeddingAPIKey,
		APIURL:   cfg.EmbeddingAPIURL,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create embedding client")
	}

	// Domain components
	caseStore := cases.NewPostgresStore(db)
	protocolStore := protocol.NewPostgresStore(db)
	sessionStore := chat.NewSessionStore(db)

	gateway := retrieval.NewGateway(
		retrieval.NewPGVectorStore(db, cfg.RetrievalMinSimilarity),
		embedder,
		retrieval.Config{TopK: cfg.RetrievalTopK, Timeout: cfg.RetrievalTimeout},
		logger,
	)

	assistant := agent.New(agent.Config{
		Retriever:        gateway,
		Generator:        agent.ProviderGenerator{Provider: provider},
		Usage:            ledger,
		Extractor:        protocol.NewExtractor(protocolStore, caseStore, logger),
		Logger:           logger,
		Timeout:          cfg.GenerationTimeout,
		HistoryTurns:     cfg.HistoryTurns,
		ReservedPassages: cfg.RetrievalTopK,
	})

	pipeline := chat.NewPipeline(chat.PipelineConfig{
		Sessions:        sessionStore,
		Cases:           caseStore,
		Indexes:         cases.NewCachedIndexResolver(caseStore, cfg.IndexCacheTTL),
		Classifier:      intent.NewLLMClassifier(provider, ledger, cfg.ClassifierTimeout, logger),
		Limits:          ledger,
		Agent:           assistant,
		Logger:          logger,
		HistoryMessages: cfg.MaxHistoryMessages,
		FileWindow:      cfg.FileWindow,
	})

	chatHandler := chat.NewChatHandler(pipeline, sessionStore, protocol.NewService(protocolStore, logger), caseStore, logger)

	serverConfig := server.DefaultConfig(serviceName, cfg.Port)
	router := server.SetupServiceRouter(logger, serverConfig, healthChecker, metricsCollector)
	apiGroup := router.Group("/api/assistant")
	apiGroup.Use(auth.JWTAuthMiddleware([]byte(cfg.JWTSecret)))
	apiGroup.Use(metering.AccessMiddleware(metering.AccessMiddlewareConfig{
		RateLimiter: rateLimiter,
		Logger:      logger,
	}))
	chat.RegisterRoutes(apiGroup, chatHandler)

	logger.WithFields(logging.Fields{
		"port":               serverConfig.Port,
		"usage_backend":      cfg.UsageBackend,
		"generation_timeout": cfg.GenerationTimeout.String(),
	}).Info("Assistant wired")

	if err := server.Start(ctx, serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
