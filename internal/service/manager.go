package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	commoncfg "safesleep-telemetry/common/config"
	"safesleep-telemetry/common/database"
	"safesleep-telemetry/common/errs"
	"safesleep-telemetry/common/metrics"
	mqttcommon "safesleep-telemetry/common/mqtt"
	rediscommon "safesleep-telemetry/common/redis"
	"safesleep-telemetry/internal/config"
	"safesleep-telemetry/internal/consumer"
	"safesleep-telemetry/internal/events"
	"safesleep-telemetry/internal/monitor"
	"safesleep-telemetry/internal/notify"
	"safesleep-telemetry/internal/reconciler"
	"safesleep-telemetry/internal/repository"
)

// ManagerService 遥测管理服务（整合各层）
type ManagerService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client
	logger      *zap.Logger

	metrics       *metrics.Metrics
	metricsServer *metrics.Server

	// 各层组件
	deviceRepo    *repository.DeviceRepository
	telemetryRepo *repository.TelemetryRepository
	fanout        *events.Fanout
	consumer      *consumer.TelemetryConsumer
	monitor       *monitor.ThresholdMonitor
	reconciler    *reconciler.Reconciler

	wg sync.WaitGroup
}

// NewManagerService 创建遥测管理服务：连接数据库并迁移、连接 Redis（可选）和 MQTT（带重试）
func NewManagerService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*ManagerService, error) {
	s := &ManagerService{
		config:  cfg,
		logger:  logger,
		metrics: metrics.NewMetrics(),
	}

	// 1. 连接数据库并执行迁移
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, errs.Wrap(errs.ClassStore, "connect database", err)
	}
	s.db = db
	if err := repository.Migrate(db); err != nil {
		s.Stop()
		return nil, errs.Wrap(errs.ClassStore, "migrate", err)
	}

	// 2. 创建 Repository 层
	s.deviceRepo = repository.NewDeviceRepository(db, logger)
	s.telemetryRepo = repository.NewTelemetryRepository(db, logger)

	// 3. 下游扇出（Redis Streams / Webhook）
	s.fanout = events.NewFanout(logger)
	if cfg.Streams.Enabled {
		s.redisClient = rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(ctx, s.redisClient); err != nil {
			s.Stop()
			return nil, errs.Wrap(errs.ClassTransport, "ping redis", err)
		}
		sink := events.NewStreamSink(s.redisClient, cfg.Streams.Readings, cfg.Streams.Alarms, cfg.Streams.MaxLen, logger)
		s.fanout.AddReadingSink(sink)
		s.fanout.AddAlarmSink(sink)
	}
	if cfg.Notify.WebhookURL != "" {
		s.fanout.AddAlarmSink(notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout, logger))
	}

	// 4. 连接 MQTT
	mqttCfg := cfg.MQTT
	mqttCfg.ClientID = fmt.Sprintf("%s-%s", cfg.MQTT.ClientID, uuid.NewString()[:8])
	mqttClient, err := connectWithRetry(ctx, &mqttCfg, cfg.Startup.ConnectAttempts, cfg.Startup.ConnectBackoff, mqttcommon.NewClient, logger)
	if err != nil {
		s.Stop()
		return nil, err
	}
	s.mqttClient = mqttClient
	s.mqttClient.SetErrorHook(func(string, error) {
		s.metrics.HandlerErrors.Inc()
	})

	// 5. 创建消费者和周期任务
	s.consumer = consumer.NewTelemetryConsumer(cfg, mqttClient, s.telemetryRepo, s.deviceRepo, s.fanout, s.metrics, logger)
	s.monitor = monitor.NewThresholdMonitor(cfg, s.telemetryRepo, mqttClient, s.fanout, s.metrics, logger)
	s.reconciler = reconciler.NewReconciler(cfg, s.deviceRepo, mqttClient, s.metrics, logger)
	s.metricsServer = metrics.NewServer(cfg.Metrics.Addr, s.metrics, logger)

	return s, nil
}

// Start 启动订阅、阈值监控、对账循环和指标服务；周期任务在 ctx 取消后退出
func (s *ManagerService) Start(ctx context.Context) error {
	s.logger.Info("Starting telemetry manager",
		zap.String("topic_root", s.config.Topics.Root),
		zap.String("alarm_topic", s.config.Topics.Alarm),
	)

	if err := s.metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	if err := s.consumer.Start(); err != nil {
		return err
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.monitor.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.reconciler.Run(ctx)
	}()

	return nil
}

// Stop 等待周期任务结束并释放资源，应在 ctx 取消后调用
func (s *ManagerService) Stop() {
	s.logger.Info("Stopping telemetry manager")

	s.wg.Wait()

	if s.consumer != nil {
		s.consumer.Stop()
	}
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	if s.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.metricsServer.Stop(ctx); err != nil {
			s.logger.Error("Failed to stop metrics server", zap.Error(err))
		}
		cancel()
	}

	if err := rediscommon.Close(s.redisClient); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}

	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("Failed to close database", zap.Error(err))
		}
	}
}

// dialFunc MQTT 连接函数
type dialFunc func(cfg *commoncfg.MQTTConfig, logger *zap.Logger) (*mqttcommon.Client, error)

// connectWithRetry 首次连接失败时按指数退避重试，次数用尽返回最后一次错误
func connectWithRetry(ctx context.Context, cfg *commoncfg.MQTTConfig, attempts int, backoff time.Duration, dial dialFunc, logger *zap.Logger) (*mqttcommon.Client, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	wait := backoff
	for attempt := 1; attempt <= attempts; attempt++ {
		client, err := dial(cfg, logger)
		if err == nil {
			return client, nil
		}
		lastErr = err

		logger.Warn("MQTT connect failed",
			zap.String("broker", cfg.Broker),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, errs.Wrap(errs.ClassTransport, "connect mqtt", ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}

	return nil, errs.Wrap(errs.ClassTransport, "connect mqtt",
		fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr))
}
