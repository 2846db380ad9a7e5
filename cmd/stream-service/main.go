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
	"nasdaqstream.com/pkg/trace"
)

const serviceName = "stream-service"

func main() {
	// 1. 支持 Ctrl+C / kubernetes 停止信号的 context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. 配置 + 日志
	cfg, err := app.LoadConfig(serviceName)
	if err != nil {
		log.Fatalf("init %s error: %v", serviceName, err)
	}
	logger.InitWithFile(cfg.Name, cfg.LogLevel, cfg.LogFile)
	shutdownTracer, err := trace.Init(ctx, cfg.Name, cfg.Trace)
	if err != nil {
		logger.Sync()
		log.Fatalf("init tracer error: %v", err)
	}
	// 退出前刷 span 和日志；os.Exit 不会跑 defer
	flush := func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error(context.Background(), "shutdown tracer error", zap.Error(err))
		}
		logger.Sync()
	}

	// 3. 组装各 topic 的 loop + http
	a, err := app.New(ctx, cfg)
	if err != nil {
		flush()
		log.Fatalf("init %s error: %v", serviceName, err)
	}

	// 4. 阻塞到收到信号
	if err := a.Run(ctx); err != nil {
		logger.Error(ctx, "service exited with error", zap.Error(err))
		flush()
		os.Exit(1)
	}
	logger.Info(context.Background(), "service exit")
	flush()
}
