package device

import "safesleep-telemetry/internal/models"

// commandDriver 只接收命令的设备（报警器、运动传感器等），不产生可入库的遥测
type commandDriver struct {
	class Class
}

func (c commandDriver) Class() Class { return c.class }

func (c commandDriver) Parse(string) ([]ParsedReading, error) {
	return nil, parseError(c.class, "device class does not publish telemetry")
}

func (commandDriver) BuildCommand(d *models.Device) string { return buildCommand(d) }
