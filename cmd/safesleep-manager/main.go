package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"safesleep-telemetry/common/logger"
	"safesleep-telemetry/internal/config"
	"safesleep-telemetry/internal/service"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "safesleep-manager")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. 创建上下文（支持优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// 4. 创建服务（连接失败按配置重试，重试耗尽后退出）
	svcErr := make(chan error, 1)
	var manager *service.ManagerService
	go func() {
		m, err := service.NewManagerService(ctx, cfg, log)
		manager = m
		svcErr <- err
	}()

	select {
	case sig := <-sigChan:
		log.Info("Received signal during startup, exiting", zap.String("signal", sig.String()))
		cancel()
		if err := <-svcErr; err == nil {
			manager.Stop()
		}
		return
	case err := <-svcErr:
		if err != nil {
			log.Fatal("Failed to create telemetry manager", zap.Error(err))
		}
	}

	// 5. 启动服务
	if err := manager.Start(ctx); err != nil {
		cancel()
		manager.Stop()
		log.Fatal("Failed to start telemetry manager", zap.Error(err))
	}

	// 6. 等待信号（优雅关闭）
	sig := <-sigChan
	log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	cancel()
	manager.Stop()

	log.Info("Telemetry manager stopped")
}
