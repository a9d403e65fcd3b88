// Package main runs the live-streaming HTTP server with WebSocket signaling and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	webrtc "github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tubecast/backend/config"
	"github.com/tubecast/backend/internal/analytics"
	"github.com/tubecast/backend/internal/auth"
	"github.com/tubecast/backend/internal/livestream"
	"github.com/tubecast/backend/internal/middleware"
	"github.com/tubecast/backend/internal/models"
	"github.com/tubecast/backend/internal/realtime"
	"github.com/tubecast/backend/internal/recordings"
	"github.com/tubecast/backend/internal/sessionlog"
	"github.com/tubecast/backend/internal/streamchat"
	"github.com/tubecast/backend/internal/streams"
	"github.com/tubecast/backend/pkg/database"
	"github.com/tubecast/backend/pkg/queue"
	"github.com/tubecast/backend/pkg/redis"
	"github.com/tubecast/backend/pkg/response"
	"github.com/tubecast/backend/pkg/storage"
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

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" && cfg.AWS.VideosBucket != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			VideosBucket:         cfg.AWS.VideosBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := livestream.NewMetrics(promRegistry)

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Persistence
	authRepo := auth.NewRepository(pool)
	sessionRepo := streams.NewRepository(pool)
	subscriptions := streams.NewSubscriptions(pool)
	chatRepo := streamchat.NewRepository(pool)
	videoRepo := recordings.NewRepository(pool)
	viewerLogRepo := sessionlog.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Post-transition listeners
	hooks := livestream.NewHooks(logger, cfg.Live.AsyncHooks)
	hooks.Subscribe(metrics)
	hooks.Subscribe(livestream.NewArchiver(sessionRepo, videoRepo, jobQueue, logger))
	hooks.Subscribe(realtime.NewLivePublisher(rdb.Client, cfg.Live.NotificationsTopic, logger))
	hooks.Subscribe(sessionlog.NewListener(viewerLogRepo, logger))

	registry := livestream.NewMemoryRegistry()
	hub := realtime.NewHub(logger, metrics)
	controller := livestream.NewController(
		sessionRepo,
		livestream.NewChatLog(chatRepo, subscriptions),
		registry,
		hub,
		hooks,
		logger,
		livestream.Options{
			HistoryLimit:     cfg.Live.ChatHistoryLimit,
			ICEServers:       iceServers(cfg.WebRTC.ICEUrls),
			ArchiveByDefault: cfg.Live.ArchiveByDefault,
		},
	)
	wsRouter := realtime.NewRouter(controller, hub, metrics, logger)

	// Sessions persisted as live belong to a previous process; nobody can
	// reach their broadcaster any more.
	if n, err := controller.EndOrphaned(ctx); err != nil {
		logger.Error("end orphaned sessions", zap.Error(err))
	} else if n > 0 {
		logger.Info("ended orphaned live sessions", zap.Int("count", n))
	}

	// Broadcasters whose end could not be saved on disconnect are retried here.
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go controller.RunStrandedSweep(sweepCtx, strandedSweepInterval)

	authHandler := auth.NewHandler(authRepo, jwtService, logger)
	liveHandler := streams.NewHandler(controller, sessionRepo, chatRepo, subscriptions, logger)
	attendeesHandler := sessionlog.NewHandler(viewerLogRepo, sessionRepo, logger)
	analyticsHandler := analytics.NewHandler(sessionRepo, analytics.NewRepository(pool), viewerLogRepo, logger)
	var presigner recordings.Presigner
	if s3Client != nil {
		presigner = s3Client
	}
	videoHandler := recordings.NewHandler(videoRepo, presigner, logger)
	webhookHandler := recordings.NewWebhookHandler(controller, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	origins := middleware.NewOriginPolicy(cfg.Server.CORSAllowedOrigins)
	router.Use(middleware.CORS(origins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		hctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(hctx); err != nil {
			response.ServiceUnavailable(c, "database unavailable")
			return
		}
		if err := rdb.Healthy(hctx); err != nil {
			response.ServiceUnavailable(c, "redis unavailable")
			return
		}
		response.OK(c, gin.H{"status": "ok", "live_sessions": registry.Count(), "ws_clients": hub.ClientCount()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})))

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Discovery works without an account; a token only widens what is visible.
	public := router.Group("")
	public.Use(middleware.OptionalJWT(jwtService))
	{
		public.GET("/live", liveHandler.ListLive)
		public.GET("/live/:id", liveHandler.Get)
		public.GET("/live/:id/chat", liveHandler.ChatHistory)
		public.GET("/live/:id/viewers", liveHandler.Viewers)
	}

	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/users", middleware.RequireRole(models.RoleAdmin), authHandler.List)

		api.POST("/live", liveHandler.Create)
		api.GET("/me/live", liveHandler.ListMine)
		api.POST("/live/:id/cancel", liveHandler.Cancel)
		api.PATCH("/live/:id/chat", liveHandler.UpdateChatSettings)
		api.POST("/live/:id/moderators", liveHandler.AddModerator)
		api.DELETE("/live/:id/moderators/:userId", liveHandler.RemoveModerator)
		api.GET("/live/:id/attendees", attendeesHandler.GetAttendees)
		api.GET("/live/:id/analytics", analyticsHandler.GetBySession)
		api.POST("/admin/live/:id/end", middleware.RequireRole(models.RoleAdmin), liveHandler.ForceEnd)

		api.POST("/channels/:id/subscribe", liveHandler.Subscribe)
		api.DELETE("/channels/:id/subscribe", liveHandler.Unsubscribe)

		api.GET("/videos", videoHandler.ListMine)
		api.GET("/videos/:id", videoHandler.Get)
		api.GET("/videos/:id/download-url", videoHandler.GenerateDownloadURL)
	}

	// Ingest callbacks authenticate with the session's ingest key.
	router.POST("/ingest/verify", webhookHandler.VerifyIngest)
	router.POST("/webhooks/recording-ready", webhookHandler.RecordingReady)

	// WebSocket (token in query or Authorization header; anonymous viewers allowed)
	router.GET("/ws", realtime.ServeWs(hub, wsRouter, logger, jwtService.UserID, realtime.Limits{
		MessagesPerSec: cfg.Live.WSMessagesPerSec,
		Burst:          cfg.Live.WSBurst,
	}, origins))

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
	// Closing sockets runs each connection's disconnect path, which ends
	// broadcasts and releases viewers before the registry is dropped.
	hub.Shutdown()
	hub.Wait()
	stopSweep()
	if n := controller.SweepStranded(shutdownCtx); n > 0 {
		logger.Info("ended stranded sessions", zap.Int("count", n))
	}
	hooks.Close()
	registry.Clear()
	logger.Info("server stopped")
}

const strandedSweepInterval = 30 * time.Second

func iceServers(urls []string) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(urls))
	for _, u := range urls {
		if u != "" {
			out = append(out, webrtc.ICEServer{URLs: []string{u}})
		}
	}
	return out
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
