package models

import (
	"strconv"
	"strings"
	"time"
)

// TimestampLayout data 表时间格式（秒精度，无时区）
const TimestampLayout = "2006-01-02 15:04:05"

// 固定指标名
const (
	MetricElectricity = "ElectricityMeter"
	MetricSensitivity = "SensitivityMeter"
)

// Reading 遥测读数（data 表，只追加）
type Reading struct {
	ID        int64
	Name      string
	Timestamp string
	Value     string
}

// FormatTimestamp 按 data 表格式格式化时间
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// ParseTimestamp 解析 data 表时间（本地时区）
func ParseTimestamp(s string) (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, s, time.Local)
}

// Float 将文本值转换为数值
func (r *Reading) Float() (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(r.Value), 64)
}
