// Package main runs the background archive worker (session snapshots to S3).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-webinar/decibel-relay/config"
	"github.com/aura-webinar/decibel-relay/internal/archive"
	"github.com/aura-webinar/decibel-relay/internal/streams"
	"github.com/aura-webinar/decibel-relay/pkg/database"
	"github.com/aura-webinar/decibel-relay/pkg/queue"
	"github.com/aura-webinar/decibel-relay/pkg/redis"
	"github.com/aura-webinar/decibel-relay/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if !cfg.Redis.Enabled() || !cfg.AWS.ArchiveEnabled() {
		logger.Fatal("worker needs REDIS_ADDR and AWS_S3_ARCHIVE_BUCKET")
	}

	ctx := context.Background()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		ArchiveBucket:        cfg.AWS.ArchiveBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	var keys archive.KeyRecorder
	if cfg.Database.Enabled() {
		pool, err := database.NewPostgresPool(ctx, cfg.Database.URL, logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool, logger); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		keys = streams.NewRepository(pool)
	}

	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := archive.NewProcessor(s3Client, keys, jobQueue, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		processor.Run(workerCtx)
	}()
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	select {
	case <-stopped:
	case <-time.After(10 * time.Second):
		logger.Warn("archive job still running at shutdown")
	}
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
