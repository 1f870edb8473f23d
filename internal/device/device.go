// Package device 按设备类别解析遥测负载、生成下行命令。
//
// 负载格式由设备固件决定，解析只做字符串切分，不做数值校验。
package device

import (
	"strconv"
	"strings"

	"safesleep-telemetry/common/errs"
	"safesleep-telemetry/internal/models"
)

// Class 设备类别
type Class int

const (
	ClassUnknown Class = iota
	ClassDHT
	ClassMeter
	ClassAlarm
	ClassMotion
)

// 负载与命令中的固定标记
const (
	markerDHT         = "DHT"
	markerMeter       = "Meter"
	markerAlarm       = "Alarm"
	markerMotion      = "Motion"
	markerFrom        = "From: "
	markerTemperature = " Temperature: "
	markerHumidity    = " Humidity: "
	markerElectricity = " Electricity: "
	markerSensitivity = " Sensitivity: "

	CommandSetTemperature = "Set temperature to: "
	CommandActuated       = "actuated"
)

func (c Class) String() string {
	switch c {
	case ClassDHT:
		return "dht"
	case ClassMeter:
		return "meter"
	case ClassAlarm:
		return "alarm"
	case ClassMotion:
		return "motion"
	default:
		return "unknown"
	}
}

// ParsedReading 解析出的一条读数（时间戳由写入方填充）
type ParsedReading struct {
	Name  string
	Value string
}

// Driver 设备类别驱动
type Driver interface {
	Class() Class
	// Parse 解析负载；返回空切片表示无可写入的值
	Parse(payload string) ([]ParsedReading, error)
	// BuildCommand 根据设备当前状态生成下行命令
	BuildCommand(d *models.Device) string
}

var drivers = map[Class]Driver{
	ClassDHT:     dhtDriver{},
	ClassMeter:   meterDriver{},
	ClassAlarm:   commandDriver{class: ClassAlarm},
	ClassMotion:  commandDriver{class: ClassMotion},
	ClassUnknown: commandDriver{class: ClassUnknown},
}

// Classify 根据负载标记判断类别，先 DHT 后 Meter，其余为 ClassUnknown
func Classify(payload string) Class {
	switch {
	case strings.Contains(payload, markerDHT):
		return ClassDHT
	case strings.Contains(payload, markerMeter):
		return ClassMeter
	default:
		return ClassUnknown
	}
}

// ForPayload 返回负载对应的遥测驱动，无法识别时 ok 为 false
func ForPayload(payload string) (Driver, bool) {
	c := Classify(payload)
	if c == ClassUnknown {
		return nil, false
	}
	return drivers[c], true
}

// ForDevice 根据设备类型（或名称）选择驱动，未知类型使用通用命令驱动
func ForDevice(d *models.Device) Driver {
	for _, s := range []string{d.DeviceType, d.Name} {
		if c := classOfName(s); c != ClassUnknown {
			return drivers[c]
		}
	}
	return drivers[ClassUnknown]
}

func classOfName(s string) Class {
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, strings.ToLower(markerDHT)):
		return ClassDHT
	case strings.Contains(lower, strings.ToLower(markerMeter)):
		return ClassMeter
	case strings.Contains(lower, strings.ToLower(markerAlarm)):
		return ClassAlarm
	case strings.Contains(lower, strings.ToLower(markerMotion)):
		return ClassMotion
	default:
		return ClassUnknown
	}
}

// segmentAfter 返回 marker 第一次出现之后、到下一次出现（或结尾）之前的部分
func segmentAfter(s, marker string) (string, bool) {
	_, rest, found := strings.Cut(s, marker)
	if !found {
		return "", false
	}
	if head, _, again := strings.Cut(rest, marker); again {
		return head, true
	}
	return rest, true
}

// segmentBefore 返回 marker 第一次出现之前的部分，不存在时返回整个字符串
func segmentBefore(s, marker string) string {
	head, _, _ := strings.Cut(s, marker)
	return head
}

// buildCommand 报警模式下发温度设定，其他模式下发通用动作命令
func buildCommand(d *models.Device) string {
	if d.IsAlarmMode() {
		return CommandSetTemperature + FormatTemperature(d.Temperature)
	}
	return CommandActuated
}

// FormatTemperature 温度文本：整数值保留一位小数（21 → "21.0"）
func FormatTemperature(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

func parseError(class Class, format string, args ...any) error {
	return errs.New(errs.ClassParse, "parse "+class.String(), format, args...)
}
