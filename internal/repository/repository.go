// Package repository 实现 devices / data 两张表的持久化。
//
// 每次写入在独立事务中完成；名称过滤统一使用参数化的 LIKE。
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrDeviceNotFound 设备不存在
	ErrDeviceNotFound = errors.New("device not found")
	// ErrReadingNotFound 没有匹配的读数
	ErrReadingNotFound = errors.New("reading not found")
	// ErrStaleDevice 设备在下发后又被修改（或标记已不是 changed），本次不置 done
	ErrStaleDevice = errors.New("device changed since dispatch")
	// ErrInvalidTransition 非法的对账标记迁移
	ErrInvalidTransition = errors.New("invalid reconcile transition")
)

// withTx 在事务中执行 fn，失败回滚
func withTx(ctx context.Context, db *sql.DB, logger *zap.Logger, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && logger != nil {
			logger.Warn("Failed to rollback transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
