// Package errors 提供 agent-shell 的统一错误类型与哨兵错误。
//
// 两层错误体系:
//   - L1 哨兵错误: ErrNotFound / ErrInvalidInput / ErrClosed 等
//   - L2 AppError: 带 Op + Code + Message 的应用级错误
//
// 转录核心本身从不向终端用户暴露错误, AppError 只在宿主层 (HTTP/WS/存储) 流转。
package errors

import (
	"errors"
	"fmt"
)

// ========================================
// L1 哨兵错误 (Sentinel Errors)
// ========================================

var (
	// ErrNotFound 资源不存在
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput 输入参数无效
	ErrInvalidInput = errors.New("invalid input")

	// ErrMalformed 事件负载无法解析
	ErrMalformed = errors.New("malformed payload")

	// ErrClosed 会话已关闭
	ErrClosed = errors.New("closed")

	// ErrUnavailable 依赖 (数据库/后端) 不可用
	ErrUnavailable = errors.New("unavailable")

	// ErrTimeout 操作超时
	ErrTimeout = errors.New("timeout")
)

// 错误码, 供 HTTP 层映射状态码。
const (
	CodeValidation  = "VALIDATION"
	CodeNotFound    = "NOT_FOUND"
	CodeClosed      = "CLOSED"
	CodeStorage     = "STORAGE"
	CodeUnavailable = "UNAVAILABLE"
)

// ========================================
// L2 AppError (应用级错误)
// ========================================

// AppError 应用级错误，带操作上下文。
type AppError struct {
	Op      string // 操作名，如 "HistoryStore.Save"
	Code    string // 错误码，如 "STORAGE"
	Message string // 人类可读消息
	Err     error  // 原始错误
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap 支持 errors.Is / errors.As 链式查找。
func (e *AppError) Unwrap() error { return e.Err }

// ========================================
// 工厂函数
// ========================================

// New 创建无原因链的应用错误。
func New(op, message string) error {
	return &AppError{Op: op, Message: message}
}

// Newf 创建带格式化消息的应用错误。
func Newf(op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装错误并附加操作上下文。
func Wrap(err error, op string, message string) error {
	return &AppError{Op: op, Message: message, Err: err}
}

// Wrapf 用格式化消息包装错误。
func Wrapf(err error, op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithCode 创建带错误码的应用错误。err 可为 nil。
func WithCode(err error, op, code, message string) error {
	return &AppError{Op: op, Code: code, Message: message, Err: err}
}

// CodeOf 返回错误链上第一个非空 Code; 无则按哨兵推断。
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	for e := err; errors.As(e, &appErr); e = appErr.Err {
		if appErr.Code != "" {
			return appErr.Code
		}
		if appErr.Err == nil {
			break
		}
	}
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrMalformed):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrClosed):
		return CodeClosed
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrTimeout):
		return CodeUnavailable
	}
	return ""
}

// Is / As 透传标准库, 调用方无需同时 import 两个 errors 包。
func Is(err, target error) bool { return errors.Is(err, target) }
func As(err error, target any) bool { return errors.As(err, target) }
