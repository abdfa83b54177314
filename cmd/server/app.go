// File: cmd/server/app.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/iyunix/internist-hub/internal/auth"
	"github.com/iyunix/internist-hub/internal/config"
	"github.com/iyunix/internist-hub/internal/database"
	"github.com/iyunix/internist-hub/internal/handlers"
	"github.com/iyunix/internist-hub/internal/middleware"
	"github.com/iyunix/internist-hub/internal/ratelimit"
	"github.com/iyunix/internist-hub/internal/realtime"
	"github.com/iyunix/internist-hub/internal/repository/chat"
	"github.com/iyunix/internist-hub/internal/repository/message"
	"github.com/iyunix/internist-hub/internal/repository/typing"
	"github.com/iyunix/internist-hub/internal/services"
	"github.com/iyunix/internist-hub/internal/services/ai"
	chatservice "github.com/iyunix/internist-hub/internal/services/chat"
)

// Application aggregates the hub, its stores and the HTTP router.
type Application struct {
	Config *config.Config
	Logger services.Logger

	DB    *gorm.DB
	Redis *redis.Client

	Hub         *realtime.Hub
	ChatService *services.ChatService
	Router      http.Handler

	handshakeLimiter *ratelimit.MemoryRateLimiter
	apiLimiter       *ratelimit.MemoryRateLimiter
}

// NewApplication wires every component from cfg.
func NewApplication(cfg *config.Config, logger services.Logger) (*Application, error) {
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	app := &Application{Config: cfg, Logger: logger, DB: db}

	// --- Repositories ---
	chatRepo := chat.NewChatRepository(db)
	messageRepo := message.NewMessageRepository(db)
	typingRepo := app.typingRepository(db)

	// --- Services ---
	verifier, err := auth.NewJWTVerifier(cfg.JWTSecret())
	if err != nil {
		return nil, fmt.Errorf("jwt verifier: %w", err)
	}

	access, err := services.NewChatAccessService(chatRepo, cfg.ChatAccessPolicy, logger)
	if err != nil {
		return nil, err
	}
	gateway := services.NewPersistenceGateway(typingRepo, messageRepo, chatRepo, logger)
	app.ChatService = services.NewChatService(chatRepo, messageRepo, access, logger)

	var assistant realtime.Assistant
	if cfg.AssistantEnabled {
		assistant, err = newAssistant(cfg, chatRepo, messageRepo, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("assistant enabled", "model", cfg.LLMModel)
	}

	// --- Hub ---
	app.handshakeLimiter = ratelimit.NewMemoryRateLimiter(ratelimit.DefaultHandshakeConfig())
	app.apiLimiter = ratelimit.NewMemoryRateLimiter(ratelimit.DefaultAPIConfig())

	app.Hub, err = realtime.NewHub(realtime.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		ClientTimeout:     cfg.ClientTimeout,
		TypingTimeout:     cfg.TypingTimeout,
		SendBufferSize:    cfg.SendBufferSize,
		MaxMessageBytes:   cfg.MaxMessageBytes,
		FrameRateLimit:    cfg.FrameRateLimit,
		FrameRateBurst:    cfg.FrameRateBurst,
		AllowedOrigins:    cfg.AllowedOrigins,
	}, realtime.Dependencies{
		Verifier:         verifier,
		Gateway:          gateway,
		Authorizer:       access,
		Assistant:        assistant,
		HandshakeLimiter: app.handshakeLimiter,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("hub: %w", err)
	}

	app.Router = app.routes(verifier)
	return app, nil
}

// typingRepository prefers redis when configured and reachable.
func (app *Application) typingRepository(db *gorm.DB) typing.Repository {
	cfg := app.Config
	if cfg.RedisAddr == "" {
		return typing.NewGormRepository(db)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		app.Logger.Warn("redis unreachable, storing typing status in the database", "addr", cfg.RedisAddr, "error", err)
		client.Close()
		return typing.NewGormRepository(db)
	}

	app.Redis = client
	app.Logger.Info("typing status mirrored to redis", "addr", cfg.RedisAddr)
	return typing.NewRedisRepository(client, "hub:typing:", 3*cfg.TypingTimeout)
}

func newAssistant(cfg *config.Config, chatRepo chat.ChatRepository, messageRepo message.MessageRepository, logger services.Logger) (*chatservice.AssistantService, error) {
	aiConfig := ai.DefaultConfig()
	aiConfig.LLMKey = cfg.LLMAPIKey
	aiConfig.LLMBaseURL = cfg.LLMBaseURL
	aiConfig.Model = cfg.LLMModel

	provider, err := ai.NewOpenAIProvider(aiConfig)
	if err != nil {
		return nil, fmt.Errorf("assistant provider: %w", err)
	}

	chatConfig := chatservice.DefaultConfig()
	chatConfig.MaxRetries = aiConfig.MaxRetries
	chatConfig.RetryDelay = aiConfig.RetryDelay

	return chatservice.NewAssistantService(chatConfig, chatRepo, messageRepo, provider, logger)
}

func (app *Application) routes(verifier *auth.JWTVerifier) http.Handler {
	chatHandler := handlers.NewChatHandler(app.ChatService, app.Logger)
	hubHandler := handlers.NewHubHandler(app.Hub)
	logHandler := handlers.NewLogHandler(app.Logger)

	r := mux.NewRouter()
	r.Use(middleware.RecoverPanic(app.Logger))
	r.Use(middleware.LoggingMiddleware(app.Logger))

	// --- Public Routes ---
	r.HandleFunc("/health", handlers.Health).Methods(http.MethodGet)
	r.Handle("/ws", app.Hub)

	// --- Protected Routes ---
	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.NewBearerAuthMiddleware(verifier))
	api.Use(middleware.APIRateLimitMiddleware(app.apiLimiter, app.Logger))
	api.HandleFunc("/chats", chatHandler.CreateChat).Methods(http.MethodPost)
	api.HandleFunc("/chats/{id}/participants", chatHandler.AddParticipant).Methods(http.MethodPost)
	api.HandleFunc("/chats/{id}/messages", chatHandler.GetChatMessages).Methods(http.MethodGet)
	api.HandleFunc("/hub/stats", hubHandler.Stats).Methods(http.MethodGet)
	api.HandleFunc("/logs", logHandler.LogClientEvent).Methods(http.MethodPost)

	return r
}

// Close releases stores after the hub and HTTP server have stopped.
func (app *Application) Close() {
	app.handshakeLimiter.Close()
	app.apiLimiter.Close()
	if app.Redis != nil {
		if err := app.Redis.Close(); err != nil {
			app.Logger.Warn("redis close failed", "error", err)
		}
	}
	if sqlDB, err := app.DB.DB(); err == nil {
		sqlDB.Close()
	}
}
