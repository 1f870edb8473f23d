package report

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"safesleep-telemetry/internal/models"
)

type fakeQuery struct {
	averages map[string]Average
	readings []*models.Reading
	err      error
	lastArgs []string
}

func (f *fakeQuery) AverageValue(_ context.Context, pattern string) (float64, int, error) {
	if f.err != nil {
		return 0, 0, f.err
	}
	a := f.averages[pattern]
	return a.Value, a.Count, nil
}

func (f *fakeQuery) ListReadingsBetween(_ context.Context, pattern, from, to string) ([]*models.Reading, error) {
	f.lastArgs = []string{pattern, from, to}
	if f.err != nil {
		return nil, f.err
	}
	return f.readings, nil
}

func TestHomeStatus(t *testing.T) {
	q := &fakeQuery{averages: map[string]Average{
		models.MetricElectricity: {Value: 1.25, Count: 4},
		models.MetricSensitivity: {Value: 0.0175, Count: 2},
	}}
	s := NewService(q, zap.NewNop())

	status, err := s.HomeStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.25", status.Electricity.String())
	assert.Equal(t, "0.0175", status.Sensitivity.String())
	assert.Contains(t, status.Text(), "electricity average consumption is 1.25 kiloWatt per hour")
	assert.Contains(t, status.Text(), "Sensitivity average consumption is 0.0175 cubic meters per hour")
}

func TestHomeStatus_Unavailable(t *testing.T) {
	s := NewService(&fakeQuery{averages: map[string]Average{}}, zap.NewNop())

	status, err := s.HomeStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "currently unavailable", status.Electricity.String())
	assert.Contains(t, status.Text(), "consumption is currently unavailable kiloWatt")
}

func TestHomeStatus_StoreError(t *testing.T) {
	s := NewService(&fakeQuery{err: errors.New("db down")}, zap.NewNop())

	_, err := s.HomeStatus(context.Background())
	assert.Error(t, err)
}

func TestExportReadings(t *testing.T) {
	q := &fakeQuery{readings: []*models.Reading{
		{ID: 1, Name: models.MetricElectricity, Timestamp: "2024-03-01 08:00:00", Value: "1.1"},
		{ID: 2, Name: "DHT1", Timestamp: "2024-03-01 08:00:05", Value: "n/a"},
	}}
	s := NewService(q, zap.NewNop())

	var buf bytes.Buffer
	n, err := s.ExportReadings(context.Background(), &buf, "%", "2024-03-01 00:00:00", "2024-03-01 23:59:59")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"%", "2024-03-01 00:00:00", "2024-03-01 23:59:59"}, q.lastArgs)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(readingsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, readingHeaders, rows[0])
	assert.Equal(t, []string{"1", models.MetricElectricity, "2024-03-01 08:00:00", "1.1"}, rows[1])
	assert.Equal(t, "n/a", rows[2][3])
	assert.Equal(t, []string{readingsSheet}, f.GetSheetList())
}

func TestExportReadings_QueryError(t *testing.T) {
	s := NewService(&fakeQuery{err: errors.New("db down")}, zap.NewNop())

	var buf bytes.Buffer
	_, err := s.ExportReadings(context.Background(), &buf, "%", "a", "b")
	assert.Error(t, err)
	assert.Zero(t, buf.Len())
}
