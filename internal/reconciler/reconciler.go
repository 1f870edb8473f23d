// Package reconciler 扫描 changed 设备并下发命令。
//
// 标记流程为 置 changed → 下发 → 置 done；下发失败的设备保持 changed，下一周期重试。
package reconciler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"safesleep-telemetry/common/errs"
	"safesleep-telemetry/common/metrics"
	"safesleep-telemetry/internal/config"
	"safesleep-telemetry/internal/device"
	"safesleep-telemetry/internal/models"
	"safesleep-telemetry/internal/repository"
)

const loopName = "reconcile"

// 下发结果标签
const (
	resultDispatched   = "dispatched"
	resultPublishError = "publish_error"
	resultStoreError   = "store_error"
	resultStale        = "stale"
	resultNoTopic      = "no_topic"
)

// Publisher MQTT 发布能力
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// DeviceStore 待对账设备的读取和标记
type DeviceStore interface {
	ListPending(ctx context.Context) ([]*models.Device, error)
	MarkDone(ctx context.Context, d *models.Device) error
}

// Reconciler 对账循环
type Reconciler struct {
	store        DeviceStore
	publisher    Publisher
	qos          byte
	interval     time.Duration
	markActuated bool
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// NewReconciler 创建对账循环
func NewReconciler(cfg *config.Config, store DeviceStore, publisher Publisher, m *metrics.Metrics, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:        store,
		publisher:    publisher,
		qos:          cfg.MQTT.QoS,
		interval:     cfg.Reconcile.Interval,
		markActuated: cfg.Reconcile.MarkActuated,
		metrics:      m,
		logger:       logger,
	}
}

// Run 按周期对账，直到 ctx 取消；当前一轮会执行完再退出
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("Reconciler started",
		zap.Duration("interval", r.interval),
		zap.Bool("mark_actuated", r.markActuated),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reconciler stopped")
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Reconciler) runOnce(ctx context.Context) {
	if err := r.Reconcile(context.WithoutCancel(ctx)); err != nil {
		r.metrics.LoopErrors.WithLabelValues(loopName, "store").Inc()
		r.logger.Error("Failed to scan pending devices", zap.Error(err))
	}
}

// Reconcile 执行一轮对账。只有扫描失败才返回错误，单个设备失败记录日志后继续
func (r *Reconciler) Reconcile(ctx context.Context) error {
	devices, err := r.store.ListPending(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return nil
	}

	r.logger.Debug("Reconciling devices", zap.Int("device_count", len(devices)))

	for _, d := range devices {
		result := r.dispatch(ctx, d)
		r.metrics.ReconcileDispatch.WithLabelValues(modeLabel(d), result).Inc()
	}
	return nil
}

// dispatch 下发单个设备的命令并返回结果标签
func (r *Reconciler) dispatch(ctx context.Context, d *models.Device) string {
	topic := d.CommandTopic()
	if topic == "" {
		r.logger.Error("Device has no command topic", zap.String("device", d.Name))
		return resultNoTopic
	}

	command := device.ForDevice(d).BuildCommand(d)
	if err := r.publisher.Publish(topic, r.qos, false, []byte(command)); err != nil {
		r.metrics.LoopErrors.WithLabelValues(loopName, errs.ClassTransport.String()).Inc()
		r.logger.Error("Failed to dispatch command",
			zap.String("device", d.Name),
			zap.String("topic", topic),
			zap.Error(err),
		)
		return resultPublishError
	}

	r.logger.Info("Command dispatched",
		zap.String("device", d.Name),
		zap.String("topic", topic),
		zap.String("command", command),
	)

	if !d.IsAlarmMode() && !r.markActuated {
		return resultDispatched
	}

	if err := r.store.MarkDone(ctx, d); err != nil {
		if errors.Is(err, repository.ErrStaleDevice) {
			r.logger.Info("Device changed during dispatch, will retry next cycle",
				zap.String("device", d.Name),
			)
			return resultStale
		}
		r.metrics.LoopErrors.WithLabelValues(loopName, errs.ClassStore.String()).Inc()
		r.logger.Error("Failed to mark device done",
			zap.String("device", d.Name),
			zap.Error(err),
		)
		return resultStoreError
	}
	return resultDispatched
}

func modeLabel(d *models.Device) string {
	if d.IsAlarmMode() {
		return models.ModeAlarm
	}
	return "actuate"
}
