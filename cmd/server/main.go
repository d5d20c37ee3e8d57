// Package main runs the live Q&A HTTP server with WebSocket fan-out and
// graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bubbly-live/backend/config"
	"github.com/bubbly-live/backend/internal/api"
	"github.com/bubbly-live/backend/internal/auth"
	"github.com/bubbly-live/backend/internal/exports"
	"github.com/bubbly-live/backend/internal/live"
	"github.com/bubbly-live/backend/internal/middleware"
	"github.com/bubbly-live/backend/internal/models"
	"github.com/bubbly-live/backend/internal/questions"
	"github.com/bubbly-live/backend/internal/realtime"
	"github.com/bubbly-live/backend/internal/sessions"
	"github.com/bubbly-live/backend/internal/store"
	"github.com/bubbly-live/backend/internal/viewerstate"
	"github.com/bubbly-live/backend/pkg/database"
	"github.com/bubbly-live/backend/pkg/queue"
	"github.com/bubbly-live/backend/pkg/redis"
	"github.com/bubbly-live/backend/pkg/response"
	"github.com/bubbly-live/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var roomStore store.Store
	var presence *realtime.RedisPresence
	if cfg.Store.Backend == "memory" {
		logger.Warn("using in-memory room store; data will not survive a restart")
		roomStore = store.NewMemory()
	} else {
		roomStore = store.NewRedis(rdb.Client, cfg.Store.Prefix, logger)
		presence = realtime.NewRedisPresence(rdb.Client, cfg.Store.Prefix, logger)
	}

	var s3Client *storage.S3
	if cfg.AWS.ExportsBucket != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ExportsBucket:        cfg.AWS.ExportsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("exports disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Repositories over the room store.
	sessionRepo := sessions.NewRepository(roomStore, nil)
	questionRepo := questions.NewRepository(roomStore, nil)
	viewerSvc := viewerstate.NewService(roomStore, nil)
	exportRepo := exports.NewRepository(roomStore, nil)

	// Live layer: shared cache, refcounted rooms, websocket hub.
	cache := live.NewCache()
	manager := live.NewManager(cache, sessionRepo, questionRepo, logger)
	var hub *realtime.Hub
	if presence != nil {
		hub = realtime.NewHub(manager, presence, presence, logger)
	} else {
		hub = realtime.NewHub(manager, nil, nil, logger)
	}

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// API handlers
	sessionHandler := api.NewSessionHandler(sessionRepo, manager, viewerSvc, logger)
	questionHandler := api.NewQuestionHandler(questionRepo, sessionRepo, manager, viewerSvc, logger)
	viewerHandler := api.NewViewerHandler(viewerSvc, logger)

	// Transcript exports
	jobQueue := queue.NewQueue(rdb.Client, logger)
	exportHandler := exports.NewHandler(exportRepo, sessionRepo, jobQueue, s3Client, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Public room surface: resolve a room, read its feed, submit and react.
	router.GET("/sessions/:code", sessionHandler.Get)
	router.GET("/sessions/:code/questions", questionHandler.List)
	router.POST("/sessions/:code/questions", questionHandler.Submit)
	router.POST("/sessions/:code/questions/:id/react", questionHandler.React)

	// Anonymous viewer state (X-Viewer-ID header).
	viewers := router.Group("/viewers/me")
	{
		viewers.GET("/rooms", viewerHandler.RecentRooms)
		viewers.GET("/nickname", viewerHandler.Nickname)
		viewers.GET("/reactions/:code", viewerHandler.Reactions)
	}

	// Protected API (JWT required)
	authed := router.Group("")
	authed.Use(middleware.JWT(jwtService))
	{
		authed.GET("/auth/me", authHandler.Me)
		authed.PATCH("/auth/me", authHandler.UpdateProfile)

		// Sessions (host console)
		authed.GET("/sessions", sessionHandler.ListMine)
		authed.POST("/sessions", sessionHandler.Create)
		authed.PATCH("/sessions/:code", sessionHandler.Update)
		authed.DELETE("/sessions/:code", sessionHandler.Delete)
		authed.POST("/sessions/:code/end", sessionHandler.End)
		authed.POST("/sessions/:code/reactivate", sessionHandler.Reactivate)

		// Moderation
		authed.GET("/sessions/:code/questions/moderation", questionHandler.Moderation)
		authed.PATCH("/sessions/:code/questions/:id/status", questionHandler.UpdateStatus)
		authed.POST("/sessions/:code/questions/:id/highlight", questionHandler.Highlight)
		authed.POST("/sessions/:code/questions/:id/comments", questionHandler.Comment)
		authed.DELETE("/sessions/:code/questions/:id", questionHandler.Delete)

		// Transcript exports
		authed.GET("/admin/exports/dlq", middleware.RequireRole(string(models.RoleAdmin)), exportHandler.ListDeadLetters)
		authed.POST("/sessions/:code/exports", exportHandler.Create)
		authed.GET("/sessions/:code/exports", exportHandler.List)
		authed.GET("/sessions/:code/exports/:id", exportHandler.Get)
		authed.DELETE("/sessions/:code/exports/:id", exportHandler.Delete)

		// Host dashboard stream (token in query for websocket upgrades)
		authed.GET("/ws/dashboard", realtime.ServeDashboard(hub, logger))
	}

	// Room stream (public; viewers are anonymous)
	router.GET("/ws", realtime.ServeRoom(hub, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
