package device

import "safesleep-telemetry/internal/models"

// dhtDriver 温湿度传感器：From: <name> Temperature: <t> Humidity: <h>
type dhtDriver struct{}

func (dhtDriver) Class() Class { return ClassDHT }

func (dhtDriver) Parse(payload string) ([]ParsedReading, error) {
	segment, ok := segmentAfter(payload, markerTemperature)
	if !ok {
		// 无温度段视为 NA，不写入
		return nil, nil
	}
	value := segmentBefore(segment, markerHumidity)

	fromSegment, ok := segmentAfter(payload, markerFrom)
	if !ok {
		return nil, parseError(ClassDHT, "missing %q marker", markerFrom)
	}
	name := segmentBefore(fromSegment, markerTemperature)
	if name == "" {
		return nil, parseError(ClassDHT, "empty device name")
	}

	return []ParsedReading{{Name: name, Value: value}}, nil
}

func (dhtDriver) BuildCommand(d *models.Device) string { return buildCommand(d) }
