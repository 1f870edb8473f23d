package events

import (
	"context"

	"go.uber.org/zap"

	"safesleep-telemetry/common/errs"
	rediscommon "safesleep-telemetry/common/redis"
)

// StreamSink 写入 Redis Streams
type StreamSink struct {
	client         *rediscommon.Client
	readingsStream string
	alarmsStream   string
	maxLen         int64
	logger         *zap.Logger
}

// NewStreamSink 创建 Redis Streams 下游
func NewStreamSink(client *rediscommon.Client, readingsStream, alarmsStream string, maxLen int64, logger *zap.Logger) *StreamSink {
	return &StreamSink{
		client:         client,
		readingsStream: readingsStream,
		alarmsStream:   alarmsStream,
		maxLen:         maxLen,
		logger:         logger,
	}
}

// PublishReading 写入读数流
func (s *StreamSink) PublishReading(ctx context.Context, ev ReadingEvent) error {
	id, err := rediscommon.PublishJSONToStream(ctx, s.client, s.readingsStream, s.maxLen, ev)
	if err != nil {
		return errs.Wrap(errs.ClassTransport, "publish reading stream", err)
	}
	s.logger.Debug("Reading published to stream",
		zap.String("stream", s.readingsStream),
		zap.String("message_id", id),
		zap.String("name", ev.Name),
	)
	return nil
}

// PublishAlarm 写入报警流
func (s *StreamSink) PublishAlarm(ctx context.Context, ev AlarmEvent) error {
	id, err := rediscommon.PublishJSONToStream(ctx, s.client, s.alarmsStream, s.maxLen, ev)
	if err != nil {
		return errs.Wrap(errs.ClassTransport, "publish alarm stream", err)
	}
	s.logger.Info("Alarm published to stream",
		zap.String("stream", s.alarmsStream),
		zap.String("message_id", id),
		zap.String("metric", ev.Metric),
	)
	return nil
}
