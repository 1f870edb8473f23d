package consumer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"safesleep-telemetry/common/errs"
	"safesleep-telemetry/common/metrics"
	mqttcommon "safesleep-telemetry/common/mqtt"
	"safesleep-telemetry/internal/config"
	"safesleep-telemetry/internal/device"
	"safesleep-telemetry/internal/events"
	"safesleep-telemetry/internal/models"
)

// 入库结果标签
const (
	resultAccepted     = "accepted"
	resultSkipped      = "skipped"
	resultUnrecognized = "unrecognized"
	resultParseError   = "parse_error"
	resultStoreError   = "store_error"
)

// storeTimeout 单条消息入库超时
const storeTimeout = 5 * time.Second

// Subscriber MQTT 订阅能力
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// ReadingStore 读数写入
type ReadingStore interface {
	AppendReadings(ctx context.Context, readings []*models.Reading) error
}

// DeviceTracker 设备在线状态刷新
type DeviceTracker interface {
	MarkSeen(ctx context.Context, name string, at time.Time) error
}

// TelemetryConsumer 遥测消息消费者：解析负载并写入 data 表
type TelemetryConsumer struct {
	topic      string
	qos        byte
	subscriber Subscriber
	readings   ReadingStore
	devices    DeviceTracker
	fanout     *events.Fanout
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewTelemetryConsumer 创建遥测消费者，devices 和 fanout 可为 nil
func NewTelemetryConsumer(
	cfg *config.Config,
	subscriber Subscriber,
	readings ReadingStore,
	devices DeviceTracker,
	fanout *events.Fanout,
	m *metrics.Metrics,
	logger *zap.Logger,
) *TelemetryConsumer {
	return &TelemetryConsumer{
		topic:      cfg.Topics.Root + "#",
		qos:        cfg.MQTT.QoS,
		subscriber: subscriber,
		readings:   readings,
		devices:    devices,
		fanout:     fanout,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// Start 订阅遥测主题，消息由 MQTT 客户端的投递协程异步处理
func (c *TelemetryConsumer) Start() error {
	if err := c.subscriber.Subscribe(c.topic, c.qos, c.HandleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to telemetry topic: %w", err)
	}

	c.logger.Info("Telemetry consumer started",
		zap.String("topic", c.topic),
		zap.Uint8("qos", c.qos),
	)
	return nil
}

// Stop 取消订阅
func (c *TelemetryConsumer) Stop() {
	if err := c.subscriber.Unsubscribe(c.topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.String("topic", c.topic), zap.Error(err))
	}
	c.logger.Info("Telemetry consumer stopped")
}

// HandleMessage 处理一条遥测消息。
// 无法识别和格式错误的负载只记录并计数；入库失败返回错误，由 MQTT 客户端记录。
func (c *TelemetryConsumer) HandleMessage(topic string, payload []byte) error {
	text := strings.ToValidUTF8(string(payload), "\uFFFD")

	driver, ok := device.ForPayload(text)
	if !ok {
		c.count(device.ClassUnknown, resultUnrecognized)
		c.logger.Debug("Dropping unrecognized payload",
			zap.String("topic", topic),
			zap.Int("payload_size", len(payload)),
		)
		return nil
	}
	class := driver.Class()

	parsed, err := driver.Parse(text)
	if err != nil {
		c.count(class, resultParseError)
		c.logger.Warn("Failed to parse telemetry payload",
			zap.String("topic", topic),
			zap.String("class", class.String()),
			zap.String("payload", text),
			zap.Error(err),
		)
		return nil
	}
	if len(parsed) == 0 {
		c.count(class, resultSkipped)
		c.logger.Debug("Telemetry payload carries no value",
			zap.String("topic", topic),
			zap.String("class", class.String()),
		)
		return nil
	}

	now := c.now()
	ts := models.FormatTimestamp(now)
	readings := make([]*models.Reading, 0, len(parsed))
	for _, p := range parsed {
		readings = append(readings, &models.Reading{Name: p.Name, Timestamp: ts, Value: p.Value})
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := c.readings.AppendReadings(ctx, readings); err != nil {
		c.count(class, resultStoreError)
		return errs.Wrap(errs.ClassStore, "ingest "+class.String(), err)
	}
	c.count(class, resultAccepted)

	for _, r := range readings {
		c.metrics.ReadingsWritten.WithLabelValues(r.Name).Inc()
		c.fanout.PublishReading(ctx, events.NewReadingEvent(topic, class.String(), r))
	}

	if class == device.ClassDHT && c.devices != nil {
		if err := c.devices.MarkSeen(ctx, readings[0].Name, now); err != nil {
			c.logger.Warn("Failed to refresh device status",
				zap.String("device", readings[0].Name),
				zap.Error(err),
			)
		}
	}

	c.logger.Debug("Telemetry stored",
		zap.String("topic", topic),
		zap.String("class", class.String()),
		zap.Int("readings", len(readings)),
	)
	return nil
}

func (c *TelemetryConsumer) count(class device.Class, result string) {
	c.metrics.IngestMessages.WithLabelValues(class.String(), result).Inc()
}
