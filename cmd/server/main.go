// Package main runs the super-admin console API with event streaming and graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nexus-timebank/backend/config"
	"github.com/nexus-timebank/backend/internal/auth"
	"github.com/nexus-timebank/backend/internal/bootstrap"
	"github.com/nexus-timebank/backend/internal/confirm"
	"github.com/nexus-timebank/backend/internal/events"
	"github.com/nexus-timebank/backend/internal/exports"
	"github.com/nexus-timebank/backend/internal/metrics"
	"github.com/nexus-timebank/backend/internal/server"
	"github.com/nexus-timebank/backend/internal/store/postgres"
	"github.com/nexus-timebank/backend/pkg/authz"
	"github.com/nexus-timebank/backend/pkg/database"
	"github.com/nexus-timebank/backend/pkg/queue"
	"github.com/nexus-timebank/backend/pkg/redis"
	"github.com/nexus-timebank/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger, database.WithMaxConns(int32(cfg.Database.MaxConns)))
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}
	db := postgres.New(pool, logger)

	if cfg.Bootstrap.SeedPath != "" {
		seed, err := bootstrap.Load(cfg.Bootstrap.SeedPath)
		if err != nil {
			logger.Fatal("load seed", zap.Error(err))
		}
		res, err := bootstrap.Apply(ctx, db, seed, logger)
		if err != nil {
			logger.Fatal("apply seed", zap.Error(err))
		}
		logger.Info("seed applied",
			zap.String("master_id", res.MasterID.String()),
			zap.Strings("created_tenants", res.CreatedTenants))
	}

	rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	mode, err := authz.ParseMode(cfg.Authz.Mode, cfg.Authz.AllowDisabled)
	if err != nil {
		logger.Fatal("authz mode", zap.Error(err))
	}
	authorizer, err := authz.New(mode)
	if err != nil {
		logger.Fatal("authz", zap.Error(err))
	}
	if mode != authz.ModeEnforce {
		logger.Warn("authorization not enforced", zap.String("mode", string(mode)))
	}

	// Objects are optional: without a bucket, exports complete without a download link.
	var objects exports.ObjectStore
	if cfg.AWS.Region != "" && cfg.AWS.ExportsBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			Endpoint:             cfg.AWS.Endpoint,
			ExportsBucket:        cfg.AWS.ExportsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			objects = s3Client
		}
	}

	pubsub := events.NewRedisPubSub(rdb.Client, logger)
	hub := events.NewHub(logger)
	relayCtx, relayCancel := context.WithCancel(context.Background())
	defer relayCancel()
	if err := hub.Relay(relayCtx, pubsub); err != nil {
		logger.Fatal("event relay", zap.Error(err))
	}

	m := metrics.New()
	m.MustRegister(metrics.NewStateCollector(db, logger))

	jobQueue := queue.NewQueue(rdb.Client, logger)
	router := server.NewRouter(server.Deps{
		Store:       db,
		Publisher:   pubsub,
		Hub:         hub,
		Broker:      confirm.NewBroker(rdb.Client, cfg.Federation.ConfirmTTL, logger),
		Exports:     exports.NewService(jobQueue, exports.NewStatusStore(rdb.Client), objects, logger),
		JWT:         auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours),
		Authz:       authorizer,
		Metrics:     m,
		CORSOrigins: cfg.Server.CORSOrigins(),
		Logger:      logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	relayCancel()
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
