// Package notify 通过 HTTP Webhook 推送报警。
package notify

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"safesleep-telemetry/common/errs"
	"safesleep-telemetry/internal/events"
)

// WebhookNotifier 报警 Webhook
type WebhookNotifier struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger
}

// NewWebhookNotifier 创建 Webhook 推送器
func NewWebhookNotifier(url string, timeout time.Duration, logger *zap.Logger) *WebhookNotifier {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetLogger(logger.Sugar()).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &WebhookNotifier{
		httpClient: client,
		url:        url,
		logger:     logger,
	}
}

// PublishAlarm 以 JSON POST 报警事件
func (n *WebhookNotifier) PublishAlarm(ctx context.Context, ev events.AlarmEvent) error {
	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetBody(ev).
		Post(n.url)
	if err != nil {
		return errs.Wrap(errs.ClassTransport, "alarm webhook", err)
	}
	if resp.IsError() {
		return errs.New(errs.ClassTransport, "alarm webhook", "unexpected status %d", resp.StatusCode())
	}

	n.logger.Info("Alarm webhook delivered",
		zap.String("event_id", ev.ID),
		zap.String("metric", ev.Metric),
		zap.Int("status_code", resp.StatusCode()),
	)
	return nil
}
