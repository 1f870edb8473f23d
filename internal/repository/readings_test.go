package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"safesleep-telemetry/common/errs"
	"safesleep-telemetry/internal/models"
)

var readingColumns = []string{"id", "name", "timestamp", "value"}

func ctx(t *testing.T) context.Context {
	t.Helper()
	return context.Background()
}

func setupTelemetryRepo(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *TelemetryRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewTelemetryRepository(db, zap.NewNop())
}

func TestAppendReading(t *testing.T) {
	db, mock, repo := setupTelemetryRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO data \(name, timestamp, value\)`).
		WithArgs("bedroom", "2024-03-01 10:30:00", "23.5").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectCommit()

	r := &models.Reading{Name: "bedroom", Timestamp: "2024-03-01 10:30:00", Value: "23.5"}
	require.NoError(t, repo.AppendReading(ctx(t), r))
	assert.Equal(t, int64(11), r.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendReadings_AllOrNothing(t *testing.T) {
	db, mock, repo := setupTelemetryRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO data`).
		WithArgs(models.MetricElectricity, "2024-03-01 10:30:00", "1.2").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery(`INSERT INTO data`).
		WithArgs(models.MetricSensitivity, "2024-03-01 10:30:00", "0.01").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := repo.AppendReadings(ctx(t), []*models.Reading{
		{Name: models.MetricElectricity, Timestamp: "2024-03-01 10:30:00", Value: "1.2"},
		{Name: models.MetricSensitivity, Timestamp: "2024-03-01 10:30:00", Value: "0.01"},
	})
	require.Error(t, err)
	assert.True(t, errs.IsStore(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendReadings_Empty(t *testing.T) {
	db, mock, repo := setupTelemetryRepo(t)
	defer db.Close()

	require.NoError(t, repo.AppendReadings(ctx(t), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendReadings_BeginFails(t *testing.T) {
	db, mock, repo := setupTelemetryRepo(t)
	defer db.Close()

	mock.ExpectBegin().WillReturnError(sql.ErrConnDone)

	err := repo.AppendReading(ctx(t), &models.Reading{Name: "x", Timestamp: "t", Value: "1"})
	assert.True(t, errs.IsStore(err))
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestLatestReading(t *testing.T) {
	db, mock, repo := setupTelemetryRepo(t)
	defer db.Close()

	mock.ExpectQuery(`ORDER BY timestamp DESC, id DESC`).
		WithArgs(models.MetricSensitivity).
		WillReturnRows(sqlmock.NewRows(readingColumns).AddRow(9, models.MetricSensitivity, "2024-03-01 10:30:00", "120"))

	r, err := repo.LatestReading(ctx(t), models.MetricSensitivity)
	require.NoError(t, err)
	assert.Equal(t, "120", r.Value)
	v, err := r.Float()
	require.NoError(t, err)
	assert.Equal(t, 120.0, v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestReading_NoRows(t *testing.T) {
	db, mock, repo := setupTelemetryRepo(t)
	defer db.Close()

	mock.ExpectQuery(`FROM data`).
		WithArgs(models.MetricElectricity).
		WillReturnRows(sqlmock.NewRows(readingColumns))

	_, err := repo.LatestReading(ctx(t), models.MetricElectricity)
	assert.ErrorIs(t, err, ErrReadingNotFound)
	assert.False(t, errs.IsStore(err))
}

func TestListReadings_WithLimit(t *testing.T) {
	db, mock, repo := setupTelemetryRepo(t)
	defer db.Close()

	rows := sqlmock.NewRows(readingColumns).
		AddRow(1, "bedroom", "2024-03-01 10:00:00", "21").
		AddRow(2, "bedroom", "2024-03-01 10:01:00", "21.5")
	mock.ExpectQuery(`WHERE name LIKE \$1 (.+) LIMIT \$2`).
		WithArgs("bed%", 2).
		WillReturnRows(rows)

	readings, err := repo.ListReadings(ctx(t), "bed%", 2)
	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.Equal(t, "21.5", readings[1].Value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListReadingsBetween(t *testing.T) {
	db, mock, repo := setupTelemetryRepo(t)
	defer db.Close()

	mock.ExpectQuery(`timestamp >= \$2 AND timestamp <= \$3`).
		WithArgs("%Meter", "2024-03-01 00:00:00", "2024-03-01 23:59:59").
		WillReturnRows(sqlmock.NewRows(readingColumns).AddRow(5, models.MetricElectricity, "2024-03-01 08:00:00", "1.1"))

	readings, err := repo.ListReadingsBetween(ctx(t), "%Meter", "2024-03-01 00:00:00", "2024-03-01 23:59:59")
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Equal(t, models.MetricElectricity, readings[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAverageValue(t *testing.T) {
	db, mock, repo := setupTelemetryRepo(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT AVG`).
		WithArgs(models.MetricElectricity, numericValuePattern).
		WillReturnRows(sqlmock.NewRows([]string{"avg", "count"}).AddRow(1.25, 4))

	avg, n, err := repo.AverageValue(ctx(t), models.MetricElectricity)
	require.NoError(t, err)
	assert.Equal(t, 1.25, avg)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAverageValue_NoReadings(t *testing.T) {
	db, mock, repo := setupTelemetryRepo(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT AVG`).
		WillReturnRows(sqlmock.NewRows([]string{"avg", "count"}).AddRow(nil, 0))

	avg, n, err := repo.AverageValue(ctx(t), models.MetricSensitivity)
	require.NoError(t, err)
	assert.Zero(t, avg)
	assert.Zero(t, n)
}
