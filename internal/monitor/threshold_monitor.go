// Package monitor 周期检查最新读数是否超过阈值，超限时发布报警。
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"safesleep-telemetry/common/errs"
	"safesleep-telemetry/common/metrics"
	"safesleep-telemetry/internal/config"
	"safesleep-telemetry/internal/events"
	"safesleep-telemetry/internal/models"
	"safesleep-telemetry/internal/repository"
)

const loopName = "monitor"

// Publisher MQTT 发布能力
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// LatestReader 读取指标最新读数
type LatestReader interface {
	LatestReading(ctx context.Context, name string) (*models.Reading, error)
}

// Rule 单个指标的阈值规则
type Rule struct {
	Metric string  // data 表中的名称
	Label  string  // 报警文本中的名称
	Max    float64 // 严格大于才报警
}

// Message 报警文本
func (r Rule) Message(value string) string {
	return fmt.Sprintf("Current %s consumption exceed the normal! %s", r.Label, value)
}

// DefaultRules 灵敏度和电量两条规则
func DefaultRules(cfg *config.Config) []Rule {
	return []Rule{
		{Metric: models.MetricSensitivity, Label: "Sensitivity", Max: cfg.Monitor.SensitivityMax},
		{Metric: models.MetricElectricity, Label: "electricity", Max: cfg.Monitor.ElectricityMax},
	}
}

// ThresholdMonitor 阈值监控
type ThresholdMonitor struct {
	rules     []Rule
	topic     string
	qos       byte
	interval  time.Duration
	store     LatestReader
	publisher Publisher
	fanout    *events.Fanout
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewThresholdMonitor 创建阈值监控，fanout 可为 nil
func NewThresholdMonitor(
	cfg *config.Config,
	store LatestReader,
	publisher Publisher,
	fanout *events.Fanout,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ThresholdMonitor {
	return &ThresholdMonitor{
		rules:     DefaultRules(cfg),
		topic:     cfg.Topics.Alarm,
		qos:       cfg.MQTT.QoS,
		interval:  cfg.Monitor.Interval,
		store:     store,
		publisher: publisher,
		fanout:    fanout,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Run 按周期执行检查，直到 ctx 取消；当前检查会执行完再退出
func (m *ThresholdMonitor) Run(ctx context.Context) {
	m.logger.Info("Threshold monitor started",
		zap.Duration("interval", m.interval),
		zap.String("alarm_topic", m.topic),
	)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// 立即执行一次
	m.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Threshold monitor stopped")
			return
		case <-ticker.C:
			m.runOnce(ctx)
		}
	}
}

func (m *ThresholdMonitor) runOnce(ctx context.Context) {
	// 本轮检查不受关闭信号打断
	if err := m.CheckThresholds(context.WithoutCancel(ctx)); err != nil {
		// 已在规则内记录日志，这里只汇总
		m.logger.Debug("Threshold check finished with errors", zap.Error(err))
	}
}

// CheckThresholds 逐条规则检查最新读数；规则之间互不影响，返回所有失败的汇总。
// 所有规则的 MQTT 报警发布完成后才扇出到下游，下游慢不会推迟报警。
func (m *ThresholdMonitor) CheckThresholds(ctx context.Context) error {
	var (
		failures []error
		alarms   []events.AlarmEvent
	)
	for _, rule := range m.rules {
		alarm, err := m.checkRule(ctx, rule)
		if alarm != nil {
			alarms = append(alarms, *alarm)
		}
		if err != nil {
			m.countError(err)
			m.logger.Error("Threshold rule failed",
				zap.String("metric", rule.Metric),
				zap.Error(err),
			)
			failures = append(failures, err)
		}
	}

	for _, alarm := range alarms {
		m.fanout.PublishAlarm(ctx, alarm)
	}
	return errors.Join(failures...)
}

// checkRule 检查单条规则并发布 MQTT 报警；超限时即使发布失败也返回报警事件供扇出
func (m *ThresholdMonitor) checkRule(ctx context.Context, rule Rule) (*events.AlarmEvent, error) {
	reading, err := m.store.LatestReading(ctx, rule.Metric)
	if errors.Is(err, repository.ErrReadingNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(reading.Value), 64)
	if err != nil {
		return nil, errs.Wrap(errs.ClassParse, "threshold "+rule.Metric, err)
	}
	// NaN 与任何值比较都为 false，不报警
	if !(value > rule.Max) {
		return nil, nil
	}

	msg := rule.Message(reading.Value)
	alarm := events.NewAlarmEvent(rule.Metric, reading.Value, rule.Max, msg, m.topic, m.now())

	if err := m.publisher.Publish(m.topic, m.qos, false, []byte(msg)); err != nil {
		return &alarm, errs.Wrap(errs.ClassTransport, "publish alarm", err)
	}

	m.metrics.Alarms.WithLabelValues(rule.Metric).Inc()
	m.logger.Warn("Threshold exceeded",
		zap.String("metric", rule.Metric),
		zap.String("value", reading.Value),
		zap.Float64("max", rule.Max),
		zap.String("topic", m.topic),
	)
	return &alarm, nil
}

func (m *ThresholdMonitor) countError(err error) {
	class := "unknown"
	if c, ok := errs.ClassOf(err); ok {
		class = c.String()
	}
	m.metrics.LoopErrors.WithLabelValues(loopName, class).Inc()
}
