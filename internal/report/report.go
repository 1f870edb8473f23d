// Package report 提供家庭状态汇总和读数导出。
package report

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"safesleep-telemetry/internal/models"
)

// unavailable 无读数时的文本
const unavailable = "currently unavailable"

// ReadingQuery 读数查询能力
type ReadingQuery interface {
	AverageValue(ctx context.Context, pattern string) (float64, int, error)
	ListReadingsBetween(ctx context.Context, pattern, from, to string) ([]*models.Reading, error)
}

// Service 报表服务
type Service struct {
	readings ReadingQuery
	logger   *zap.Logger
}

// NewService 创建报表服务
func NewService(readings ReadingQuery, logger *zap.Logger) *Service {
	return &Service{readings: readings, logger: logger}
}

// Average 指标平均值，Count 为 0 表示暂无数据
type Average struct {
	Metric string
	Value  float64
	Count  int
}

// String 平均值文本，无数据时为 "currently unavailable"
func (a Average) String() string {
	if a.Count == 0 {
		return unavailable
	}
	return strconv.FormatFloat(a.Value, 'f', -1, 64)
}

// HomeStatus 家庭用电和灵敏度的平均状态
type HomeStatus struct {
	Electricity Average
	Sensitivity Average
}

// Text 语音助手播报的句子
func (h *HomeStatus) Text() string {
	return fmt.Sprintf(
		"The current home state: electricity average consumption is %s kiloWatt per hour and operated under normal condition, "+
			"Sensitivity average consumption is %s cubic meters per hour and it is usual to current season",
		h.Electricity, h.Sensitivity,
	)
}

// HomeStatus 汇总电表和灵敏度读数的平均值
func (s *Service) HomeStatus(ctx context.Context) (*HomeStatus, error) {
	electricity, err := s.average(ctx, models.MetricElectricity)
	if err != nil {
		return nil, err
	}
	sensitivity, err := s.average(ctx, models.MetricSensitivity)
	if err != nil {
		return nil, err
	}
	return &HomeStatus{Electricity: electricity, Sensitivity: sensitivity}, nil
}

func (s *Service) average(ctx context.Context, metric string) (Average, error) {
	v, n, err := s.readings.AverageValue(ctx, metric)
	if err != nil {
		return Average{}, fmt.Errorf("failed to average %s: %w", metric, err)
	}
	s.logger.Debug("Metric average",
		zap.String("metric", metric),
		zap.Float64("value", v),
		zap.Int("count", n),
	)
	return Average{Metric: metric, Value: v, Count: n}, nil
}
