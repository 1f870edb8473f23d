// Package events 把已入库的读数和已发布的报警扇出到下游（Redis Streams、Webhook）。
//
// 扇出是尽力而为的：任何下游失败只记录日志，不影响入库和 MQTT 报警发布。
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"safesleep-telemetry/internal/models"
)

// ReadingEvent 已入库的读数
type ReadingEvent struct {
	ID        string `json:"id"`
	Topic     string `json:"topic"`
	Class     string `json:"class"`
	Name      string `json:"name"`
	Timestamp string `json:"timestamp"`
	Value     string `json:"value"`
}

// AlarmEvent 阈值报警
type AlarmEvent struct {
	ID        string  `json:"id"`
	Metric    string  `json:"metric"`
	Value     string  `json:"value"`
	Max       float64 `json:"max"`
	Message   string  `json:"message"`
	Topic     string  `json:"topic"`
	Timestamp string  `json:"timestamp"`
}

// NewReadingEvent 由读数生成事件
func NewReadingEvent(topic, class string, r *models.Reading) ReadingEvent {
	return ReadingEvent{
		ID:        uuid.NewString(),
		Topic:     topic,
		Class:     class,
		Name:      r.Name,
		Timestamp: r.Timestamp,
		Value:     r.Value,
	}
}

// NewAlarmEvent 生成报警事件
func NewAlarmEvent(metric, value string, max float64, message, topic string, at time.Time) AlarmEvent {
	return AlarmEvent{
		ID:        uuid.NewString(),
		Metric:    metric,
		Value:     value,
		Max:       max,
		Message:   message,
		Topic:     topic,
		Timestamp: models.FormatTimestamp(at),
	}
}

// ReadingSink 读数下游
type ReadingSink interface {
	PublishReading(ctx context.Context, ev ReadingEvent) error
}

// AlarmSink 报警下游
type AlarmSink interface {
	PublishAlarm(ctx context.Context, ev AlarmEvent) error
}

// Fanout 将事件分发到多个下游，失败只记日志
type Fanout struct {
	readings []ReadingSink
	alarms   []AlarmSink
	logger   *zap.Logger
}

// NewFanout 创建扇出器
func NewFanout(logger *zap.Logger) *Fanout {
	return &Fanout{logger: logger}
}

// AddReadingSink 注册读数下游
func (f *Fanout) AddReadingSink(s ReadingSink) {
	f.readings = append(f.readings, s)
}

// AddAlarmSink 注册报警下游
func (f *Fanout) AddAlarmSink(s AlarmSink) {
	f.alarms = append(f.alarms, s)
}

// Empty 没有任何下游
func (f *Fanout) Empty() bool {
	return f == nil || (len(f.readings) == 0 && len(f.alarms) == 0)
}

// PublishReading 分发读数事件
func (f *Fanout) PublishReading(ctx context.Context, ev ReadingEvent) {
	if f == nil {
		return
	}
	for _, s := range f.readings {
		if err := s.PublishReading(ctx, ev); err != nil {
			f.logger.Warn("Failed to fan out reading",
				zap.String("name", ev.Name),
				zap.String("event_id", ev.ID),
				zap.Error(err),
			)
		}
	}
}

// PublishAlarm 分发报警事件
func (f *Fanout) PublishAlarm(ctx context.Context, ev AlarmEvent) {
	if f == nil {
		return
	}
	for _, s := range f.alarms {
		if err := s.PublishAlarm(ctx, ev); err != nil {
			f.logger.Warn("Failed to fan out alarm",
				zap.String("metric", ev.Metric),
				zap.String("event_id", ev.ID),
				zap.Error(err),
			)
		}
	}
}
