package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"trading-analysis-service/internal/api"
	"trading-analysis-service/internal/archive"
	"trading-analysis-service/internal/config"
	"trading-analysis-service/internal/ledger"
	"trading-analysis-service/internal/pipeline"
	"trading-analysis-service/internal/ratelimit"
	"trading-analysis-service/internal/service"
	"trading-analysis-service/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger := newLogger(cfg.Env)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		logger.Fatal("migrations", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.New(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill)

	archiver, err := archive.New(ctx, cfg)
	if err != nil {
		logger.Fatal("init archiver", zap.Error(err))
	}

	ledgerCoord := ledger.New(st, cfg.AnalysisCost, logger)
	engine := &pipeline.SimEngine{StepDelay: cfg.SimStepDelay}
	analyses := service.New(st, ledgerCoord, engine, serviceArchiver(archiver), service.Options{
		DefaultProvider:     cfg.DefaultProvider,
		DefaultDebateRounds: cfg.DefaultDebateRounds,
		DefaultRiskRounds:   cfg.DefaultRiskRounds,
	}, logger)

	server := api.New(cfg, analyses, st, ledgerCoord, limiter, ctx, logger)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	logger.Info("api listening", zap.String("port", cfg.HTTPPort))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}

// serviceArchiver keeps a disabled archiver as a plain nil interface so the
// service's nil check works.
func serviceArchiver(a *archive.Archiver) service.ResultArchiver {
	if a == nil {
		return nil
	}
	return a
}

func newLogger(env string) *zap.Logger {
	var logger *zap.Logger
	var err error
	if env == "dev" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger
}
