// Package main runs the decibel relay HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-webinar/decibel-relay/config"
	"github.com/aura-webinar/decibel-relay/internal/analytics"
	"github.com/aura-webinar/decibel-relay/internal/archive"
	"github.com/aura-webinar/decibel-relay/internal/middleware"
	"github.com/aura-webinar/decibel-relay/internal/realtime"
	"github.com/aura-webinar/decibel-relay/internal/sessionlog"
	"github.com/aura-webinar/decibel-relay/internal/streams"
	"github.com/aura-webinar/decibel-relay/pkg/database"
	"github.com/aura-webinar/decibel-relay/pkg/queue"
	"github.com/aura-webinar/decibel-relay/pkg/redis"
	"github.com/aura-webinar/decibel-relay/pkg/response"
	"github.com/aura-webinar/decibel-relay/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()

	var pool *pgxpool.Pool
	if cfg.Database.Enabled() {
		pool, err = database.NewPostgresPool(ctx, cfg.Database.URL, logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool, logger); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
	} else {
		logger.Info("DATABASE_URL not set, stream stats and attendance disabled")
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb, err = redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
	} else {
		logger.Info("REDIS_ADDR not set, event mirror and archives disabled")
	}

	var s3Client *storage.S3
	if cfg.AWS.ArchiveEnabled() {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ArchiveBucket:        cfg.AWS.ArchiveBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	var mirror realtime.EventPublisher
	var redisMirror *realtime.RedisMirror
	if rdb != nil {
		redisMirror = realtime.NewRedisMirror(rdb.Client, logger)
		mirror = redisMirror
	}
	hub := realtime.NewHub(logger, realtime.Options{
		GracePeriod:         cfg.Relay.GracePeriod,
		MaxBufferedReadings: cfg.Relay.MaxBufferedReadings,
		SendBuffer:          cfg.Relay.ClientSendBuffer,
		DedupWindow:         cfg.Relay.SummaryDedupWindow,
	}, mirror)

	// Stream stats (peak observers, final counters) and attendance logs
	var streamRepo *streams.Repository
	var tracker *streams.Tracker
	var attendance *sessionlog.Recorder
	var sessionLogRepo *sessionlog.Repository
	if pool != nil {
		streamRepo = streams.NewRepository(pool)
		tracker = streams.NewTracker(streamRepo, logger)
		tracker.Attach(hub)

		sessionLogRepo = sessionlog.NewRepository(pool)
		attendance = sessionlog.NewRecorder(sessionLogRepo, logger)
		attendance.Attach(hub)
	}

	// Archives: evicted sessions are queued, the processor uploads them
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if rdb != nil {
		jobQueue := queue.NewQueue(rdb.Client, logger)
		hub.SetEvictionHandler(archive.OnEvict(jobQueue, logger))
		if s3Client != nil {
			var keys archive.KeyRecorder
			if streamRepo != nil {
				keys = streamRepo
			}
			go archive.NewProcessor(s3Client, keys, jobQueue, logger).Run(workerCtx)
			logger.Info("archive worker started")
		}
	}

	realtimeHandler := realtime.NewHandler(hub)
	var watch analytics.WatchTime
	var lookup analytics.StreamLookup
	if pool != nil {
		watch = sessionLogRepo
		lookup = streamRepo
	}
	analyticsHandler := analytics.NewHandler(hub, lookup, watch, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.Origins()))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		hctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if pool != nil {
			if err := pool.Ping(hctx); err != nil {
				response.ServiceUnavailable(c, "database unavailable")
				return
			}
		}
		if rdb != nil {
			if err := rdb.Healthy(hctx); err != nil {
				response.ServiceUnavailable(c, "redis unavailable")
				return
			}
		}
		response.OK(c, gin.H{"status": "ok", "sessions": hub.SessionCount()})
	})

	router.GET("/ws", realtime.ServeWs(hub, logger))

	router.GET("/sessions", realtimeHandler.Stats)
	router.GET("/sessions/:id", realtimeHandler.Inspect)
	router.GET("/sessions/:id/stats", analyticsHandler.GetBySession)
	if pool != nil {
		router.GET("/sessions/:id/attendees", sessionlog.NewHandler(sessionLogRepo, logger).GetAttendees)
	} else {
		router.GET("/sessions/:id/attendees", unavailable("attendance logging is not configured"))
	}
	if pool != nil && s3Client != nil {
		router.GET("/sessions/:id/archive", archive.NewHandler(streamRepo, s3Client, logger).GetDownloadURL)
	} else {
		router.GET("/sessions/:id/archive", unavailable("archives are not configured"))
	}

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
	// ends every session (observers get session_ended) and queues archives
	hub.Close()
	workerCancel()
	if tracker != nil {
		tracker.Close()
	}
	if attendance != nil {
		attendance.Close()
	}
	if redisMirror != nil {
		redisMirror.Close()
	}
	logger.Info("server stopped")
}

func unavailable(msg string) gin.HandlerFunc {
	return func(c *gin.Context) { response.ServiceUnavailable(c, msg) }
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if os.Getenv("LOG_LEVEL") == "debug" {
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, _ := config.Build()
	return logger
}
