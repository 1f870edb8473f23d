// Package errs 定义遥测服务的错误分类（传输、存储、解析、配置）。
//
// 分类错误通过 Wrap 包装，调用方使用 errors.Is 判断类别、errors.As 取出 *Error。
package errs

import (
	"errors"
	"fmt"
)

// Class 错误类别
type Class int

const (
	// ClassTransport 连接/发布/订阅失败，由所属周期任务在下一周期重试
	ClassTransport Class = iota
	// ClassStore 数据库连接或查询失败，调用方跳过本周期
	ClassStore
	// ClassParse 遥测负载格式错误，丢弃并计数
	ClassParse
	// ClassConfig 配置非法，仅在启动时致命
	ClassConfig
)

// 类别哨兵错误
var (
	ErrTransport = errors.New("transport error")
	ErrStore     = errors.New("store error")
	ErrParse     = errors.New("parse error")
	ErrConfig    = errors.New("config error")
)

// String 返回类别名称
func (c Class) String() string {
	switch c {
	case ClassTransport:
		return "transport"
	case ClassStore:
		return "store"
	case ClassParse:
		return "parse"
	case ClassConfig:
		return "config"
	default:
		return "unknown"
	}
}

func (c Class) sentinel() error {
	switch c {
	case ClassTransport:
		return ErrTransport
	case ClassStore:
		return ErrStore
	case ClassParse:
		return ErrParse
	case ClassConfig:
		return ErrConfig
	default:
		return nil
	}
}

// Error 带类别和操作名的错误
type Error struct {
	Class Class
	Op    string
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Class, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Class, e.Op, e.Err)
}

// Unwrap 同时展开类别哨兵和原始错误
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if s := e.Class.sentinel(); s != nil {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Wrap 用类别包装错误，err 为 nil 时返回 nil
func Wrap(class Class, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: class, Op: op, Err: err}
}

// New 创建一个新的分类错误
func New(class Class, op, format string, args ...any) error {
	return &Error{Class: class, Op: op, Err: fmt.Errorf(format, args...)}
}

// ClassOf 返回错误类别，非分类错误返回 false
func ClassOf(err error) (Class, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Class, true
	}
	return 0, false
}

// IsTransport 判断是否为传输错误
func IsTransport(err error) bool { return errors.Is(err, ErrTransport) }

// IsStore 判断是否为存储错误
func IsStore(err error) bool { return errors.Is(err, ErrStore) }

// IsParse 判断是否为解析错误
func IsParse(err error) bool { return errors.Is(err, ErrParse) }

// IsConfig 判断是否为配置错误
func IsConfig(err error) bool { return errors.Is(err, ErrConfig) }
