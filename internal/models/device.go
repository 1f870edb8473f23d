package models

import "time"

// ReconcileFlag 设备对账标记
type ReconcileFlag string

const (
	ReconcileNone    ReconcileFlag = ""
	ReconcileChanged ReconcileFlag = "changed"
	ReconcileDone    ReconcileFlag = "done"
)

// ModeAlarm 报警模式，对账时下发温度设定命令
const ModeAlarm = "alarm"

// CanTransition 判断标记迁移是否合法：none→changed→done，done 可再次被置为 changed
func (f ReconcileFlag) CanTransition(to ReconcileFlag) bool {
	switch to {
	case ReconcileChanged:
		return true
	case ReconcileDone:
		return f == ReconcileChanged || f == ReconcileDone
	default:
		return f == ReconcileNone
	}
}

// Device 设备（devices 表）
type Device struct {
	ID             int64
	Name           string
	Status         string
	Units          string
	LastUpdated    time.Time
	UpdateInterval int
	CardID         string
	Placement      string
	DeviceType     string
	Enabled        bool
	State          string
	Mode           string
	Fan            string
	Temperature    float64
	PubTopic       string
	SubTopic       string
	Special        string
	Reconcile      ReconcileFlag
}

// IsAlarmMode 是否处于报警模式
func (d *Device) IsAlarmMode() bool {
	return d.Mode == ModeAlarm
}

// CommandTopic 命令下发主题：优先设备订阅主题，其次发布主题
func (d *Device) CommandTopic() string {
	if d.SubTopic != "" {
		return d.SubTopic
	}
	return d.PubTopic
}
