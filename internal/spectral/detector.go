// Package spectral 对三轴振动批数据做频域能量特征提取，并与基线比较判断是否异常。
//
// 每个轴：去均值 → FFT/n 取单边谱 → 升序排序后取最高 k 个频点（去掉最大的一个）的均值 → ×10000。
// 特征向量与基线比较欧氏距离和逐轴绝对差的样本标准差，任一超限即为异常。
package spectral

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// FeatureScale 经验放大系数
const FeatureScale = 10000.0

var (
	// ErrBatchTooShort 样本太少，无法取得至少两个高能频点
	ErrBatchTooShort = errors.New("batch too short for percent threshold")
	// ErrAxisMismatch 轴数与基线长度不一致
	ErrAxisMismatch = errors.New("axis count does not match baseline")
)

// Baseline 基线特征向量（每轴一个标量）
type Baseline []float64

// Settings 检测参数
type Settings struct {
	SampleRate          float64 // Hz
	PercentThreshold    float64 // (0,1)
	MaxEuclidean        float64
	MaxDeviationPercent float64
}

// AxisFeature 单轴特征
type AxisFeature struct {
	Axis              string
	Samples           int
	Threshold         float64 // 放大后的特征值
	DominantFrequency float64 // Hz，不含直流分量
}

// Result 检测结果
type Result struct {
	Features         []AxisFeature
	Vector           []float64
	Distance         float64
	Deviation        float64 // 逐轴绝对差的样本标准差
	DistanceTripped  bool
	DeviationTripped bool
	Anomaly          bool
}

// Detector 频谱异常检测器，无内部状态，可并发使用
type Detector struct {
	settings Settings
	baseline Baseline
}

// NewDetector 创建检测器
func NewDetector(settings Settings, baseline Baseline) (*Detector, error) {
	if settings.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %v", settings.SampleRate)
	}
	if settings.PercentThreshold <= 0 || settings.PercentThreshold >= 1 {
		return nil, fmt.Errorf("percent threshold must be in (0,1), got %v", settings.PercentThreshold)
	}
	if settings.MaxEuclidean <= 0 || settings.MaxDeviationPercent <= 0 {
		return nil, fmt.Errorf("max euclidean and max deviation percent must be positive")
	}
	if len(baseline) == 0 {
		return nil, fmt.Errorf("baseline is empty")
	}

	return &Detector{
		settings: settings,
		baseline: append(Baseline(nil), baseline...),
	}, nil
}

// Baseline 返回基线副本
func (d *Detector) Baseline() Baseline {
	return append(Baseline(nil), d.baseline...)
}

// Detect 计算批数据每轴特征并与基线比较
func (d *Detector) Detect(batch *Batch) (*Result, error) {
	if len(batch.Axes) != len(d.baseline) {
		return nil, fmt.Errorf("%w: %d axes, baseline has %d", ErrAxisMismatch, len(batch.Axes), len(d.baseline))
	}

	features := make([]AxisFeature, 0, len(batch.Axes))
	vector := make([]float64, 0, len(batch.Axes))
	for i, axis := range batch.Axes {
		f, err := d.AxisFeature(axis, batch.Samples[i])
		if err != nil {
			return nil, err
		}
		features = append(features, f)
		vector = append(vector, f.Threshold)
	}

	result, err := d.Evaluate(vector)
	if err != nil {
		return nil, err
	}
	result.Features = features
	return result, nil
}

// AxisFeature 计算单轴特征
func (d *Detector) AxisFeature(axis string, samples []float64) (AxisFeature, error) {
	magnitudes := OneSidedSpectrum(samples)
	threshold, err := DynamicThreshold(magnitudes, d.settings.PercentThreshold)
	if err != nil {
		return AxisFeature{}, fmt.Errorf("axis %s: %w", axis, err)
	}

	return AxisFeature{
		Axis:              axis,
		Samples:           len(samples),
		Threshold:         threshold * FeatureScale,
		DominantFrequency: dominantFrequency(magnitudes, len(samples), d.settings.SampleRate),
	}, nil
}

// Evaluate 比较特征向量与基线
func (d *Detector) Evaluate(vector []float64) (*Result, error) {
	if len(vector) != len(d.baseline) {
		return nil, fmt.Errorf("%w: %d values, baseline has %d", ErrAxisMismatch, len(vector), len(d.baseline))
	}

	diffs := make([]float64, len(vector))
	floats.SubTo(diffs, vector, d.baseline)
	for i, v := range diffs {
		diffs[i] = math.Abs(v)
	}

	distance := floats.Distance(vector, d.baseline, 2)
	deviation := 0.0
	if len(diffs) > 1 {
		deviation = stat.StdDev(diffs, nil)
	}
	// 零方差或单轴时标准差无定义，按 0 处理
	if math.IsNaN(deviation) {
		deviation = 0
	}

	r := &Result{
		Vector:           vector,
		Distance:         distance,
		Deviation:        deviation,
		DistanceTripped:  distance > d.settings.MaxEuclidean,
		DeviationTripped: deviation*100 > d.settings.MaxDeviationPercent,
	}
	r.Anomaly = r.DistanceTripped || r.DeviationTripped
	return r, nil
}

// OneSidedSpectrum 去均值后做 FFT，除以 n，返回前 floor(n/2) 个频点的幅值
func OneSidedSpectrum(samples []float64) []float64 {
	n := len(samples)
	if n < 2 {
		return nil
	}

	mean := stat.Mean(samples, nil)
	detrended := make([]float64, n)
	for i, v := range samples {
		detrended[i] = v - mean
	}

	coeffs := fourier.NewFFT(n).Coefficients(nil, detrended)
	bins := n / 2
	magnitudes := make([]float64, bins)
	for i := 0; i < bins; i++ {
		magnitudes[i] = cmplx.Abs(coeffs[i]) / float64(n)
	}
	return magnitudes
}

// DynamicThreshold 升序排序后取 [bins-k, bins-1) 的均值，k = floor(bins*percent)
func DynamicThreshold(magnitudes []float64, percent float64) (float64, error) {
	bins := len(magnitudes)
	k := int(float64(bins) * percent)
	if k < 2 {
		return 0, fmt.Errorf("%w: %d bins, k=%d", ErrBatchTooShort, bins, k)
	}

	sorted := append([]float64(nil), magnitudes...)
	sort.Float64s(sorted)
	return stat.Mean(sorted[bins-k:bins-1], nil), nil
}

func dominantFrequency(magnitudes []float64, n int, sampleRate float64) float64 {
	if len(magnitudes) < 2 {
		return 0
	}
	// 跳过直流分量
	idx := 1 + floats.MaxIdx(magnitudes[1:])
	return float64(idx) * sampleRate / float64(n)
}
