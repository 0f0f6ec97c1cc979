package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/shravanisdakve/NexusAI-sub002/internal/bridge"
	"github.com/shravanisdakve/NexusAI-sub002/internal/cache"
	"github.com/shravanisdakve/NexusAI-sub002/internal/config"
	"github.com/shravanisdakve/NexusAI-sub002/internal/domain"
	"github.com/shravanisdakve/NexusAI-sub002/internal/handler"
	"github.com/shravanisdakve/NexusAI-sub002/internal/hub"
	"github.com/shravanisdakve/NexusAI-sub002/internal/intervention"
	"github.com/shravanisdakve/NexusAI-sub002/internal/metrics"
	"github.com/shravanisdakve/NexusAI-sub002/internal/moderation"
	"github.com/shravanisdakve/NexusAI-sub002/internal/repository"
	"github.com/shravanisdakve/NexusAI-sub002/internal/room"
	"github.com/shravanisdakve/NexusAI-sub002/internal/service"
	"github.com/shravanisdakve/NexusAI-sub002/internal/summarizer"
	"github.com/shravanisdakve/NexusAI-sub002/pkg/database"
	"github.com/shravanisdakve/NexusAI-sub002/pkg/jwt"
	pkglog "github.com/shravanisdakve/NexusAI-sub002/pkg/log"
	"github.com/shravanisdakve/NexusAI-sub002/pkg/middleware"
	"github.com/shravanisdakve/NexusAI-sub002/pkg/pubsub"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize structured logger
	pkglog.Init(cfg.Log)
	logger := pkglog.L()

	instanceID := cfg.Server.InstanceID
	if instanceID == "" {
		instanceID = uuid.New().String()
	}
	logger = logger.With().Str(pkglog.FieldInstance, instanceID).Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database using GORM
	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close(db)

	if err := database.AutoMigrate(db, &domain.RoomModel{}, &domain.ParticipantModel{}, &domain.MessageModel{}); err != nil {
		logger.Fatal().Err(err).Msg("failed to auto-migrate")
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("database migration completed")

	// Room store, optionally behind the Redis cache
	var roomRepo repository.RoomRepository = repository.NewGormRoomRepository(db)
	if cfg.Cache.Enabled {
		roomCache, err := cache.NewRedisRoomCache(cfg.Redis, cfg.Cache.Prefix)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer roomCache.Close()
		roomRepo = repository.NewCachedRoomRepository(roomRepo, roomCache, cfg.Cache.TTL)
		logger.Info().Msg("redis room cache connected")
	}

	// Message store
	var messageRepo repository.MessageRepository
	switch cfg.MessageStore.Driver {
	case "cassandra":
		session, err := repository.NewCassandraSession(cfg.Cassandra)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to cassandra")
		}
		store := repository.NewCassandraMessageRepository(session)
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to prepare cassandra schema")
		}
		messageRepo = store
	case "", "sql":
		messageRepo = repository.NewGormMessageRepository(db)
	default:
		logger.Fatal().Str("driver", cfg.MessageStore.Driver).Msg("unknown message store driver")
	}

	// Moderation rules
	modOpts := []moderation.Option{
		moderation.OnScorerError(func(err error) {
			logger.Warn().Err(err).Msg("sentiment scorer failed")
		}),
	}
	var engine *moderation.Engine
	if cfg.Moderation.RulesFile != "" {
		engine, err = moderation.NewEngineFromFile(cfg.Moderation.RulesFile, modOpts...)
	} else {
		engine, err = moderation.NewEngine(modOpts...)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load moderation rules")
	}
	moderator := moderation.NewReloadable(engine, modOpts...)
	if cfg.Moderation.RulesFile != "" && cfg.Moderation.WatchRules {
		if err := moderator.Watch(ctx, cfg.Moderation.RulesFile); err != nil {
			logger.Warn().Err(err).Msg("moderation rules will not be reloaded")
		}
	}

	// Connection hub, optionally bridged to other instances
	wsHub := hub.NewHub()
	var transport room.Broadcaster = wsHub
	var fanout *bridge.Bridge
	if cfg.PubSub.Enabled {
		ps, err := pubsub.NewPubSub(cfg.PubSub.Config)
		if err != nil {
			logger.Fatal().Err(err).Str("driver", cfg.PubSub.Driver).Msg("failed to connect to pubsub")
		}
		defer ps.Close()
		fanout = bridge.New(wsHub, ps, instanceID, cfg.PubSub.QueueSize)
		if err := fanout.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to start room bridge")
		}
		transport = fanout
		logger.Info().Str("driver", cfg.PubSub.Driver).Msg("cross-instance fan-out enabled")
	}

	registry := room.NewRegistry(room.Config{
		InterventionThreshold: cfg.Room.InterventionThreshold,
		QueueSize:             cfg.Room.QueueSize,
		PersistAttempts:       cfg.Room.PersistAttempts,
		PersistBackoff:        cfg.Room.PersistBackoff,
		PersistTimeout:        cfg.Room.PersistTimeout,
		MaxMessageLength:      cfg.Room.MaxMessageLength,
		IdleTimeout:           cfg.Room.IdleTimeout,
		MediaPrefixes:         cfg.Room.MediaPrefixes,
	}, roomRepo, messageRepo, transport, moderator)

	// AI moderator
	var scheduler *intervention.Scheduler
	if cfg.Intervention.Enabled {
		ai, err := summarizer.NewOpenAI(cfg.OpenAI)
		if err != nil {
			logger.Warn().Err(err).Msg("AI moderator disabled")
		} else {
			scheduler = intervention.NewScheduler(intervention.Config{
				Delay:        cfg.Intervention.Delay,
				HistoryLimit: cfg.Intervention.HistoryLimit,
				Timeout:      cfg.Intervention.Timeout,
			}, messageRepo, ai, registry)
			registry.UseScheduler(scheduler)
			logger.Info().Str("model", cfg.OpenAI.Model).Msg("AI moderator enabled")
		}
	}

	// Services
	chatSvc := service.NewChatService(registry)
	roomSvc := service.NewRoomService(roomRepo, messageRepo, registry)

	// Auth
	var auth gin.HandlerFunc
	if cfg.Auth.JWTSecret != "" {
		verifier, err := jwt.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create token verifier")
		}
		auth = middleware.NewAuthMiddleware(verifier).RequireAuth()
	} else {
		logger.Warn().Msg("auth.jwt_secret is empty, trusting user_id from the request")
		auth = middleware.DevIdentity()
	}

	// Handlers
	wsHandler := handler.NewWSHandler(wsHub, chatSvc, cfg.WebSocket, hub.Limits{
		MessagesPerSecond: cfg.RateLimit.MessagesPerSecond,
		MessageBurst:      cfg.RateLimit.MessageBurst,
		PresenceBurst:     cfg.RateLimit.PresenceBurst,
	})
	httpHandler := handler.NewHandler(roomSvc, auth)

	limiter := middleware.NewRateLimiter(rate.Limit(cfg.RateLimit.HTTPPerSecond), cfg.RateLimit.HTTPBurst, 10*time.Minute)
	defer limiter.Stop()

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger, "/health", "/metrics"))
	r.Use(metrics.GinMiddleware())

	r.GET("/health", handler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	wsHandler.RegisterRoutes(r, auth)
	httpHandler.RegisterRoutes(r.Group("", middleware.RateLimit(limiter)))

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().Str("addr", server.Addr).Str("message_store", cfg.MessageStore.Driver).Msg("studyroom service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down studyroom service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server forced to shutdown")
	}
	if scheduler != nil {
		scheduler.Stop()
	}
	registry.Close()
	wsHub.Close()
	if fanout != nil {
		fanout.Close()
	}
	cancel()

	logger.Info().Msg("studyroom service stopped")
}
