package device

import "safesleep-telemetry/internal/models"

// meterDriver 电表：From: <name> Electricity: <e> Sensitivity: <s>
type meterDriver struct{}

func (meterDriver) Class() Class { return ClassMeter }

func (meterDriver) Parse(payload string) ([]ParsedReading, error) {
	electricity, ok := segmentAfter(payload, markerElectricity)
	if !ok {
		return nil, parseError(ClassMeter, "missing %q marker", markerElectricity)
	}
	sensitivity, ok := segmentAfter(payload, markerSensitivity)
	if !ok {
		return nil, parseError(ClassMeter, "missing %q marker", markerSensitivity)
	}

	return []ParsedReading{
		{Name: models.MetricElectricity, Value: segmentBefore(electricity, markerSensitivity)},
		{Name: models.MetricSensitivity, Value: sensitivity},
	}, nil
}

func (meterDriver) BuildCommand(d *models.Device) string { return buildCommand(d) }
