package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"safesleep-telemetry/common/errs"
	"safesleep-telemetry/internal/models"
)

const deviceColumns = `sys_id, name, status, units, last_updated, update_interval, card_id, placed,
	dev_type, enabled, state, mode, fan, temperature, dev_pub_topic, dev_sub_topic, special, reconcile`

// ActuationRequest 设备动作请求，零值字段保持原值
type ActuationRequest struct {
	Temperature *float64
	Mode        string
	State       string
}

// DeviceRepository devices 表
type DeviceRepository struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewDeviceRepository 创建设备仓库
func NewDeviceRepository(db *sql.DB, logger *zap.Logger) *DeviceRepository {
	return &DeviceRepository{db: db, logger: logger, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*models.Device, error) {
	var (
		d          models.Device
		lastUpdate string
		reconcile  string
	)
	err := row.Scan(
		&d.ID, &d.Name, &d.Status, &d.Units, &lastUpdate, &d.UpdateInterval, &d.CardID, &d.Placement,
		&d.DeviceType, &d.Enabled, &d.State, &d.Mode, &d.Fan, &d.Temperature, &d.PubTopic, &d.SubTopic,
		&d.Special, &reconcile,
	)
	if err != nil {
		return nil, err
	}
	if t, err := models.ParseTimestamp(lastUpdate); err == nil {
		d.LastUpdated = t
	}
	d.Reconcile = models.ReconcileFlag(reconcile)
	return &d, nil
}

// CreateDevice 登记设备，返回 sys_id
func (r *DeviceRepository) CreateDevice(ctx context.Context, d *models.Device) (int64, error) {
	if d == nil || d.Name == "" {
		return 0, errs.New(errs.ClassStore, "create device", "device name is required")
	}
	if d.PubTopic == "" || d.SubTopic == "" {
		return 0, errs.New(errs.ClassStore, "create device", "device %s requires pub and sub topics", d.Name)
	}
	if d.LastUpdated.IsZero() {
		d.LastUpdated = r.now()
	}

	var id int64
	err := withTx(ctx, r.db, r.logger, func(tx *sql.Tx) error {
		query := `
			INSERT INTO devices (name, status, units, last_updated, update_interval, card_id, placed,
				dev_type, enabled, state, mode, fan, temperature, dev_pub_topic, dev_sub_topic, special, reconcile)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
			RETURNING sys_id
		`
		return tx.QueryRowContext(ctx, query,
			d.Name, d.Status, d.Units, models.FormatTimestamp(d.LastUpdated), d.UpdateInterval, d.CardID,
			d.Placement, d.DeviceType, d.Enabled, d.State, d.Mode, d.Fan, d.Temperature, d.PubTopic,
			d.SubTopic, d.Special, string(d.Reconcile),
		).Scan(&id)
	})
	if err != nil {
		return 0, errs.Wrap(errs.ClassStore, "create device", err)
	}

	d.ID = id
	r.logger.Info("Device provisioned",
		zap.String("device", d.Name),
		zap.String("type", d.DeviceType),
		zap.Int64("sys_id", id),
	)
	return id, nil
}

// GetDevice 按名称查询设备
func (r *DeviceRepository) GetDevice(ctx context.Context, name string) (*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE name = $1`
	d, err := scanDevice(r.db.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
	}
	if err != nil {
		return nil, errs.Wrap(errs.ClassStore, "get device", err)
	}
	return d, nil
}

// ListDevices 按名称模式（LIKE）列出设备，空模式表示全部
func (r *DeviceRepository) ListDevices(ctx context.Context, pattern string) ([]*models.Device, error) {
	if pattern == "" {
		pattern = "%"
	}
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE name LIKE $1 ORDER BY sys_id`
	return r.queryDevices(ctx, "list devices", query, pattern)
}

// ListPending 列出对账标记为 changed 的设备
func (r *DeviceRepository) ListPending(ctx context.Context) ([]*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE reconcile = $1 ORDER BY sys_id`
	return r.queryDevices(ctx, "list pending devices", query, string(models.ReconcileChanged))
}

func (r *DeviceRepository) queryDevices(ctx context.Context, op, query string, args ...any) ([]*models.Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.ClassStore, op, err)
	}
	defer rows.Close()

	var out []*models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, errs.Wrap(errs.ClassStore, op, err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.ClassStore, op, err)
	}
	return out, nil
}

// RequestTemperature 设定目标温度并置 changed
func (r *DeviceRepository) RequestTemperature(ctx context.Context, name string, temperature float64) error {
	return r.RequestActuation(ctx, name, ActuationRequest{Temperature: &temperature})
}

// RequestActuation 写入动作请求并置 changed，等待对账循环下发
func (r *DeviceRepository) RequestActuation(ctx context.Context, name string, req ActuationRequest) error {
	var temperature sql.NullFloat64
	if req.Temperature != nil {
		temperature = sql.NullFloat64{Float64: *req.Temperature, Valid: true}
	}

	query := `
		UPDATE devices
		SET temperature = COALESCE($1, temperature),
			mode = COALESCE(NULLIF($2, ''), mode),
			state = COALESCE(NULLIF($3, ''), state),
			reconcile = $4,
			last_updated = $5
		WHERE name = $6
	`
	err := r.execOne(ctx, query,
		temperature, req.Mode, req.State, string(models.ReconcileChanged),
		models.FormatTimestamp(r.now()), name,
	)
	if errors.Is(err, ErrDeviceNotFound) {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
	}
	if err != nil {
		return errs.Wrap(errs.ClassStore, "request actuation", err)
	}
	return nil
}

// MarkDone 下发成功后将 changed 置为 done。
// 仅当设备的温度和模式仍与下发时一致才更新，否则返回 ErrStaleDevice，由下一周期重新下发。
func (r *DeviceRepository) MarkDone(ctx context.Context, d *models.Device) error {
	query := `
		UPDATE devices
		SET reconcile = $1, last_updated = $2
		WHERE name = $3 AND reconcile = $4 AND temperature = $5 AND mode = $6
	`
	err := r.execOne(ctx, query,
		string(models.ReconcileDone), models.FormatTimestamp(r.now()), d.Name,
		string(models.ReconcileChanged), d.Temperature, d.Mode,
	)
	if errors.Is(err, ErrDeviceNotFound) {
		return fmt.Errorf("%w: %s", ErrStaleDevice, d.Name)
	}
	if err != nil {
		return errs.Wrap(errs.ClassStore, "mark done", err)
	}
	return nil
}

// SetReconcile 直接设置对账标记（受迁移规则约束）
func (r *DeviceRepository) SetReconcile(ctx context.Context, name string, to models.ReconcileFlag) error {
	d, err := r.GetDevice(ctx, name)
	if err != nil {
		return err
	}
	if !d.Reconcile.CanTransition(to) {
		return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, d.Reconcile, to)
	}

	query := `UPDATE devices SET reconcile = $1, last_updated = $2 WHERE name = $3 AND reconcile = $4`
	err = r.execOne(ctx, query, string(to), models.FormatTimestamp(r.now()), name, string(d.Reconcile))
	if errors.Is(err, ErrDeviceNotFound) {
		return fmt.Errorf("%w: %s", ErrStaleDevice, name)
	}
	if err != nil {
		return errs.Wrap(errs.ClassStore, "set reconcile", err)
	}
	return nil
}

// UpdateDeviceState 更新设备开关状态（不影响对账标记）
func (r *DeviceRepository) UpdateDeviceState(ctx context.Context, name, state string) error {
	query := `UPDATE devices SET state = $1, last_updated = $2 WHERE name = $3`
	err := r.execOne(ctx, query, state, models.FormatTimestamp(r.now()), name)
	if errors.Is(err, ErrDeviceNotFound) {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
	}
	if err != nil {
		return errs.Wrap(errs.ClassStore, "update device state", err)
	}
	return nil
}

// MarkSeen 收到设备遥测时刷新在线状态，未登记的设备忽略
func (r *DeviceRepository) MarkSeen(ctx context.Context, name string, at time.Time) error {
	query := `UPDATE devices SET status = 'online', last_updated = $1 WHERE name = $2`
	err := withTx(ctx, r.db, r.logger, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query, models.FormatTimestamp(at), name)
		return err
	})
	return errs.Wrap(errs.ClassStore, "mark seen", err)
}

// DeleteDevice 删除设备
func (r *DeviceRepository) DeleteDevice(ctx context.Context, name string) error {
	err := r.execOne(ctx, `DELETE FROM devices WHERE name = $1`, name)
	if errors.Is(err, ErrDeviceNotFound) {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
	}
	if err != nil {
		return errs.Wrap(errs.ClassStore, "delete device", err)
	}
	r.logger.Info("Device deleted", zap.String("device", name))
	return nil
}

// execOne 在事务中执行单条写语句，未命中任何行时返回 ErrDeviceNotFound
func (r *DeviceRepository) execOne(ctx context.Context, query string, args ...any) error {
	return withTx(ctx, r.db, r.logger, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrDeviceNotFound
		}
		return nil
	})
}
