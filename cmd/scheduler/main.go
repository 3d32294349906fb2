package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"chronos/internal/config"
	"chronos/internal/constants"
	"chronos/internal/db"
	"chronos/internal/engine"
	"chronos/internal/events"
	"chronos/internal/executor"
	"chronos/internal/lock"
	"chronos/internal/repository/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbConn, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer dbConn.Close()

	lockMgr := lock.NewPostgresDistributedLockManager(dbConn)
	if err := db.Init(ctx, dbConn, lockMgr, logger); err != nil {
		logger.Fatal("initialize database", zap.Error(err))
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
	}

	sinks := []events.Sink{&events.LogSink{Logger: logger}}
	if redisClient != nil {
		sinks = append(sinks, events.NewRedisSink(redisClient, ""))
	}
	if cfg.AMQPURL != "" {
		amqpSink, err := events.NewAMQPSink(cfg.AMQPURL, "chronos.events", "lifecycle")
		if err != nil {
			logger.Fatal("connect message broker", zap.Error(err))
		}
		sinks = append(sinks, amqpSink)
	}
	bus := events.NewBus(cfg.EventBufferSize, logger, sinks...)
	bus.Start(ctx)

	registry := executor.NewRegistry()
	mustRegister(logger, registry, "http", executor.NewHTTPExecutor(nil))
	mustRegister(logger, registry, "script", executor.NewScriptExecutor())
	mustRegister(logger, registry, "filesystem", executor.NewFileSystemExecutor())
	mustRegister(logger, registry, "database", executor.NewDatabaseExecutor(dbConn))
	if redisClient != nil {
		mustRegister(logger, registry, "cache", executor.NewCacheExecutor(redisClient))
	}
	if cfg.AMQPURL != "" {
		mq, err := executor.NewMQExecutor(cfg.AMQPURL)
		if err != nil {
			logger.Fatal("connect message broker", zap.Error(err))
		}
		mustRegister(logger, registry, "message", mq)
	}
	logger.Info("executors registered", zap.Strings("types", registry.Types()))

	eng := engine.New(engine.Params{
		Jobs:     postgres.NewPostgresJobRepository(dbConn),
		Runs:     postgres.NewPostgresJobRunRepository(dbConn),
		DLQ:      postgres.NewPostgresDLQRepository(dbConn),
		Registry: registry,
		Bus:      bus,
		Logger:   logger,
		Instance: cfg.InstanceID,
		Workers:  cfg.WorkerCount,
		Tick:     time.Duration(cfg.TickSeconds) * time.Second,
		Grace:    time.Duration(cfg.MisfireGraceSeconds) * time.Second,
	})

	// Only one instance drives the scheduling loop at a time; the rest block
	// here until the leader releases the lock or dies.
	logger.Info("waiting for scheduling-loop leadership", zap.String("instance", cfg.InstanceID))
	if err := lockMgr.Acquire(ctx, constants.SchedulingLoopLock); err != nil {
		logger.Fatal("acquire scheduling-loop lock", zap.Error(err))
	}
	defer lockMgr.Release(context.Background(), constants.SchedulingLoopLock)

	if err := eng.Recover(ctx); err != nil {
		logger.Fatal("recover persisted jobs", zap.Error(err))
	}

	eng.Run(ctx)
	bus.Wait()
	logger.Info("shutdown complete", zap.Int64("dropped_events", bus.Dropped()))
}

func mustRegister(logger *zap.Logger, registry *executor.Registry, jobType string, ex executor.Executor) {
	if err := registry.Register(jobType, ex); err != nil {
		logger.Fatal("register executor", zap.String("type", jobType), zap.Error(err))
	}
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
