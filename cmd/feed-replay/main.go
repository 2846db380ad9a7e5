package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"nasdaqstream.com/internal/stream/app"
	"nasdaqstream.com/pkg/logger"
)

// 和 stream-service 共用一份配置，往配置里的上游写模拟成交
const serviceName = "stream-service"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig(serviceName)
	if err != nil {
		log.Fatalf("init feed-replay error: %v", err)
	}
	logger.InitWithFile("feed-replay", cfg.LogLevel, cfg.LogFile)

	if err := app.Replay(ctx, cfg); err != nil {
		logger.Error(ctx, "feed-replay exited with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}
