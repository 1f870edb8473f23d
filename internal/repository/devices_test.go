package repository

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"safesleep-telemetry/common/errs"
	"safesleep-telemetry/internal/models"
)

var fixedNow = time.Date(2024, 3, 1, 10, 30, 0, 0, time.Local)

var deviceRowColumns = []string{
	"sys_id", "name", "status", "units", "last_updated", "update_interval", "card_id", "placed",
	"dev_type", "enabled", "state", "mode", "fan", "temperature", "dev_pub_topic", "dev_sub_topic",
	"special", "reconcile",
}

func setupDeviceRepo(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *DeviceRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewDeviceRepository(db, zap.NewNop())
	repo.now = func() time.Time { return fixedNow }
	return db, mock, repo
}

func addDeviceRow(rows *sqlmock.Rows, id int64, name, mode string, temperature float64, reconcile string) *sqlmock.Rows {
	return rows.AddRow(id, name, "online", "C", "2024-03-01 10:00:00", 30, "card-1", "bedroom",
		"dht", true, "on", mode, "auto", temperature, "safesleep/"+name, "safesleep/"+name+"/set",
		"", reconcile)
}

func TestCreateDevice_Success(t *testing.T) {
	db, mock, repo := setupDeviceRepo(t)
	defer db.Close()

	d := &models.Device{
		Name:       "bedroom-dht",
		DeviceType: "dht",
		Enabled:    true,
		Mode:       models.ModeAlarm,
		PubTopic:   "safesleep/bedroom",
		SubTopic:   "safesleep/bedroom/set",
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO devices`).
		WithArgs("bedroom-dht", "", "", "2024-03-01 10:30:00", 0, "", "", "dht", true, "", "alarm", "",
			0.0, "safesleep/bedroom", "safesleep/bedroom/set", "", "").
		WillReturnRows(sqlmock.NewRows([]string{"sys_id"}).AddRow(7))
	mock.ExpectCommit()

	id, err := repo.CreateDevice(ctx(t), d)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, int64(7), d.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDevice_RequiresTopics(t *testing.T) {
	db, mock, repo := setupDeviceRepo(t)
	defer db.Close()

	_, err := repo.CreateDevice(ctx(t), &models.Device{Name: "fan"})
	require.Error(t, err)
	assert.True(t, errs.IsStore(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDevice_InsertFailsRollsBack(t *testing.T) {
	db, mock, repo := setupDeviceRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO devices`).WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	_, err := repo.CreateDevice(ctx(t), &models.Device{Name: "fan", PubTopic: "a", SubTopic: "b"})
	require.Error(t, err)
	assert.True(t, errs.IsStore(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDevice_Success(t *testing.T) {
	db, mock, repo := setupDeviceRepo(t)
	defer db.Close()

	rows := addDeviceRow(sqlmock.NewRows(deviceRowColumns), 3, "bedroom-dht", "alarm", 21.5, "changed")
	mock.ExpectQuery(`SELECT (.+) FROM devices WHERE name = \$1`).
		WithArgs("bedroom-dht").
		WillReturnRows(rows)

	d, err := repo.GetDevice(ctx(t), "bedroom-dht")
	require.NoError(t, err)
	assert.Equal(t, int64(3), d.ID)
	assert.Equal(t, "bedroom", d.Placement)
	assert.Equal(t, 21.5, d.Temperature)
	assert.Equal(t, models.ReconcileChanged, d.Reconcile)
	assert.True(t, d.IsAlarmMode())
	assert.Equal(t, "safesleep/bedroom-dht/set", d.CommandTopic())
	assert.Equal(t, 10, d.LastUpdated.Hour())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDevice_NotFound(t *testing.T) {
	db, mock, repo := setupDeviceRepo(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM devices WHERE name = \$1`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(deviceRowColumns))

	_, err := repo.GetDevice(ctx(t), "ghost")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDevices_EmptyPatternMatchesAll(t *testing.T) {
	db, mock, repo := setupDeviceRepo(t)
	defer db.Close()

	rows := sqlmock.NewRows(deviceRowColumns)
	addDeviceRow(rows, 1, "a", "", 0, "")
	addDeviceRow(rows, 2, "b", "alarm", 19, "done")
	mock.ExpectQuery(`FROM devices WHERE name LIKE \$1`).
		WithArgs("%").
		WillReturnRows(rows)

	devices, err := repo.ListDevices(ctx(t), "")
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, models.ReconcileNone, devices[0].Reconcile)
	assert.Equal(t, models.ReconcileDone, devices[1].Reconcile)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDevices_PatternIsParameterized(t *testing.T) {
	db, mock, repo := setupDeviceRepo(t)
	defer db.Close()

	pattern := "x'; DROP TABLE devices; --%"
	mock.ExpectQuery(`FROM devices WHERE name LIKE \$1`).
		WithArgs(pattern).
		WillReturnRows(sqlmock.NewRows(deviceRowColumns))

	devices, err := repo.ListDevices(ctx(t), pattern)
	require.NoError(t, err)
	assert.Empty(t, devices)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListPending(t *testing.T) {
	db, mock, repo := setupDeviceRepo(t)
	defer db.Close()

	rows := addDeviceRow(sqlmock.NewRows(deviceRowColumns), 4, "heater", "alarm", 22, "changed")
	mock.ExpectQuery(`FROM devices WHERE reconcile = \$1`).
		WithArgs("changed").
		WillReturnRows(rows)

	devices, err := repo.ListPending(ctx(t))
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "heater", devices[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListPending_QueryError(t *testing.T) {
	db, mock, repo := setupDeviceRepo(t)
	defer db.Close()

	mock.ExpectQuery(`FROM devices WHERE reconcile = \$1`).WillReturnError(sql.ErrConnDone)

	_, err := repo.ListPending(ctx(t))
	assert.True(t, errs.IsStore(err))
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestRequestTemperature_SetsChanged(t *testing.T) {
	db, mock, repo := setupDeviceRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE devices`).
		WithArgs(21.5, "", "", "changed", "2024-03-01 10:30:00", "heater").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.RequestTemperature(ctx(t), "heater", 21.5))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestActuation_KeepsTemperatureWhenUnset(t *testing.T) {
	db, mock, repo := setupDeviceRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE devices`).
		WithArgs(nil, "alarm", "on", "changed", "2024-03-01 10:30:00", "heater").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.RequestActuation(ctx(t), "heater", ActuationRequest{Mode: "alarm", State: "on"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestTemperature_UnknownDevice(t *testing.T) {
	db, mock, repo := setupDeviceRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE devices`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.RequestTemperature(ctx(t), "ghost", 20)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkDone_Success(t *testing.T) {
	db, mock, repo := setupDeviceRepo(t)
	defer db.Close()

	d := &models.Device{Name: "heater", Mode: "alarm", Temperature: 22}
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE devices SET reconcile = \$1`).
		WithArgs("done", "2024-03-01 10:30:00", "heater", "changed", 22.0, "alarm").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.MarkDone(ctx(t), d))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkDone_StaleWhenChangedAgain(t *testing.T) {
	db, mock, repo := setupDeviceRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE devices SET reconcile = \$1`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.MarkDone(ctx(t), &models.Device{Name: "heater", Mode: "alarm", Temperature: 22})
	assert.ErrorIs(t, err, ErrStaleDevice)
	assert.False(t, errs.IsStore(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetReconcile_RejectsChangedToNone(t *testing.T) {
	db, mock, repo := setupDeviceRepo(t)
	defer db.Close()

	rows := addDeviceRow(sqlmock.NewRows(deviceRowColumns), 4, "heater", "alarm", 22, "changed")
	mock.ExpectQuery(`FROM devices WHERE name = \$1`).WithArgs("heater").WillReturnRows(rows)

	err := repo.SetReconcile(ctx(t), "heater", models.ReconcileNone)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetReconcile_DoneToChanged(t *testing.T) {
	db, mock, repo := setupDeviceRepo(t)
	defer db.Close()

	rows := addDeviceRow(sqlmock.NewRows(deviceRowColumns), 4, "heater", "alarm", 22, "done")
	mock.ExpectQuery(`FROM devices WHERE name = \$1`).WithArgs("heater").WillReturnRows(rows)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE devices SET reconcile = \$1`).
		WithArgs("changed", "2024-03-01 10:30:00", "heater", "done").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.SetReconcile(ctx(t), "heater", models.ReconcileChanged))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDeviceState(t *testing.T) {
	db, mock, repo := setupDeviceRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE devices SET state = \$1`).
		WithArgs("off", "2024-03-01 10:30:00", "fan").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.UpdateDeviceState(ctx(t), "fan", "off"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSeen_UnknownDeviceIsNoop(t *testing.T) {
	db, mock, repo := setupDeviceRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE devices SET status = 'online'`).
		WithArgs("2024-03-01 10:00:00", "unregistered").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local)
	require.NoError(t, repo.MarkSeen(ctx(t), "unregistered", at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteDevice(t *testing.T) {
	db, mock, repo := setupDeviceRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM devices WHERE name = \$1`).
		WithArgs("fan").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.DeleteDevice(ctx(t), "fan"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
