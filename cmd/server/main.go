// Package main runs the polling platform HTTP server with WebSocket live
// updates and graceful shutdown.
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

	"github.com/pollify/backend/config"
	"github.com/pollify/backend/internal/activity"
	"github.com/pollify/backend/internal/auth"
	"github.com/pollify/backend/internal/comments"
	"github.com/pollify/backend/internal/middleware"
	"github.com/pollify/backend/internal/polls"
	"github.com/pollify/backend/internal/ratelimit"
	"github.com/pollify/backend/internal/realtime"
	"github.com/pollify/backend/internal/votes"
	"github.com/pollify/backend/internal/worker"
	"github.com/pollify/backend/pkg/database"
	"github.com/pollify/backend/pkg/queue"
	"github.com/pollify/backend/pkg/redis"
	"github.com/pollify/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
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

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	limiter := ratelimit.New(ratelimit.NewRedisStore(rdb.Client), map[string]ratelimit.Rule{
		ratelimit.ActionVote:       {Max: cfg.RateLimit.VoteMax, Window: cfg.RateLimit.VoteWindow},
		ratelimit.ActionCreatePoll: {Max: cfg.RateLimit.CreatePollMax, Window: cfg.RateLimit.CreatePollWindow},
	}, nil)

	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Polls
	pollRepo := polls.NewRepository(pool)
	pollHandler := polls.NewHandler(pollRepo, limiter, hub, jobQueue, logger)

	// Votes
	voteRepo := votes.NewRepository(pool)
	voteHandler := votes.NewHandler(pollRepo, voteRepo, limiter, hub, jobQueue, logger)

	// Comments
	commentRepo := comments.NewRepository(pool)
	commentHandler := comments.NewHandler(pollRepo, commentRepo, hub, jobQueue, logger)

	// Activity timeline (written by the worker, read by creators)
	activityRepo := activity.NewRepository(pool)
	activityHandler := activity.NewHandler(pollRepo, activityRepo, logger)
	activityProcessor := worker.NewActivityProcessor(jobQueue, activityRepo, logger)

	jwtValidate := func(token string) (string, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", err
		}
		return claims.UserID.String(), nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
		authGroup.GET("/me", middleware.JWT(jwtService), authHandler.Me)
	}

	// Public poll surface. Most endpoints serve anonymous visitors; a valid
	// token upgrades the actor to an authenticated user.
	public := router.Group("")
	public.Use(middleware.OptionalJWT(jwtService))
	{
		public.POST("/polls", pollHandler.Create)
		public.GET("/polls/mine", pollHandler.ListMine)
		public.GET("/polls/recent", pollHandler.ListRecent)
		public.GET("/p/:slug", pollHandler.GetBySlug)
		public.GET("/polls/:id/results", pollHandler.Results)

		public.POST("/polls/:id/vote", voteHandler.Cast)
		public.GET("/polls/:id/voted", voteHandler.Voted)

		public.GET("/polls/:id/comments", commentHandler.List)
		public.POST("/polls/:id/comments", commentHandler.Create)
		public.DELETE("/polls/:id/comments/:commentId", commentHandler.Delete)
	}

	// Creator API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.PATCH("/polls/:id", pollHandler.Update)
		api.POST("/polls/:id/close", pollHandler.Close)
		api.GET("/polls/:id/votes", voteHandler.Details)
		api.GET("/polls/:id/activity", activityHandler.Timeline)
	}

	// WebSocket (token in query; anonymous viewers welcome)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtValidate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background worker (activity timeline writes)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go activityProcessor.Run(workerCtx)

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
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
