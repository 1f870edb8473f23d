package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"safesleep-telemetry/common/errs"
	"safesleep-telemetry/internal/models"
)

// numericValuePattern 可转换为 double precision 的文本值
const numericValuePattern = `^\s*[-+]?([0-9]+(\.[0-9]*)?|\.[0-9]+)([eE][-+]?[0-9]+)?\s*$`

// TelemetryRepository data 表（只追加）
type TelemetryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTelemetryRepository 创建读数仓库
func NewTelemetryRepository(db *sql.DB, logger *zap.Logger) *TelemetryRepository {
	return &TelemetryRepository{db: db, logger: logger}
}

// AppendReading 追加一条读数
func (r *TelemetryRepository) AppendReading(ctx context.Context, reading *models.Reading) error {
	return r.AppendReadings(ctx, []*models.Reading{reading})
}

// AppendReadings 在同一事务中追加多条读数，全部成功或全部不写
func (r *TelemetryRepository) AppendReadings(ctx context.Context, readings []*models.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	err := withTx(ctx, r.db, r.logger, func(tx *sql.Tx) error {
		query := `INSERT INTO data (name, timestamp, value) VALUES ($1, $2, $3) RETURNING id`
		for _, reading := range readings {
			if reading.Name == "" {
				return fmt.Errorf("reading name is required")
			}
			if err := tx.QueryRowContext(ctx, query, reading.Name, reading.Timestamp, reading.Value).Scan(&reading.ID); err != nil {
				return fmt.Errorf("insert reading %s: %w", reading.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return errs.Wrap(errs.ClassStore, "append readings", err)
	}

	r.logger.Debug("Readings appended", zap.Int("count", len(readings)))
	return nil
}

// LatestReading 返回指定名称最新的读数（按时间戳，时间相同取后写入的）
func (r *TelemetryRepository) LatestReading(ctx context.Context, name string) (*models.Reading, error) {
	query := `
		SELECT id, name, timestamp, value
		FROM data
		WHERE name = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`
	var reading models.Reading
	err := r.db.QueryRowContext(ctx, query, name).Scan(&reading.ID, &reading.Name, &reading.Timestamp, &reading.Value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrReadingNotFound, name)
	}
	if err != nil {
		return nil, errs.Wrap(errs.ClassStore, "latest reading", err)
	}
	return &reading, nil
}

// ListReadings 按名称模式（LIKE）列出读数，limit<=0 表示不限
func (r *TelemetryRepository) ListReadings(ctx context.Context, pattern string, limit int) ([]*models.Reading, error) {
	query := `
		SELECT id, name, timestamp, value
		FROM data
		WHERE name LIKE $1
		ORDER BY timestamp, id
	`
	args := []any{pattern}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return r.queryReadings(ctx, "list readings", query, args...)
}

// ListReadingsBetween 按名称模式列出 [from, to] 区间内的读数，时间格式为 2006-01-02 15:04:05
func (r *TelemetryRepository) ListReadingsBetween(ctx context.Context, pattern, from, to string) ([]*models.Reading, error) {
	query := `
		SELECT id, name, timestamp, value
		FROM data
		WHERE name LIKE $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp, id
	`
	return r.queryReadings(ctx, "list readings between", query, pattern, from, to)
}

// AverageValue 计算匹配读数的平均值，非数值文本不参与计算；count 为参与计算的条数
func (r *TelemetryRepository) AverageValue(ctx context.Context, pattern string) (avg float64, count int, err error) {
	query := `
		SELECT AVG(TRIM(value)::double precision), COUNT(*)
		FROM data
		WHERE name LIKE $1 AND value ~ $2
	`
	var mean sql.NullFloat64
	if err := r.db.QueryRowContext(ctx, query, pattern, numericValuePattern).Scan(&mean, &count); err != nil {
		return 0, 0, errs.Wrap(errs.ClassStore, "average value", err)
	}
	if !mean.Valid {
		return 0, 0, nil
	}
	return mean.Float64, count, nil
}

func (r *TelemetryRepository) queryReadings(ctx context.Context, op, query string, args ...any) ([]*models.Reading, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.ClassStore, op, err)
	}
	defer rows.Close()

	var out []*models.Reading
	for rows.Next() {
		var reading models.Reading
		if err := rows.Scan(&reading.ID, &reading.Name, &reading.Timestamp, &reading.Value); err != nil {
			return nil, errs.Wrap(errs.ClassStore, op, err)
		}
		out = append(out, &reading)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.ClassStore, op, err)
	}
	return out, nil
}
