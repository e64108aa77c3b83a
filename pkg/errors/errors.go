// Package errors 提供统一的错误定义
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误 (1xxx)
	CodeSuccess            ErrorCode = "0"
	CodeUnknown            ErrorCode = "1000"
	CodeInvalidParam       ErrorCode = "1001"
	CodeNotFound           ErrorCode = "1002"
	CodeConflict           ErrorCode = "1003"
	CodeTooManyRequests    ErrorCode = "1004"
	CodeInternalError      ErrorCode = "1005"
	CodeServiceUnavailable ErrorCode = "1006"

	// 资源错误 (2xxx)
	CodeJobNotFound     ErrorCode = "2001"
	CodeChapterNotFound ErrorCode = "2002"
	CodeGenreUnknown    ErrorCode = "2003"

	// 生成业务错误 (3xxx)
	CodeCapacityExceeded ErrorCode = "3001"
	CodeGenerationFailed ErrorCode = "3002"
	CodeResponseFormat   ErrorCode = "3003"
	CodeJobNotRetryable  ErrorCode = "3004"
	CodeJobNotComplete   ErrorCode = "3005"

	// 模型供应商错误 (4xxx)
	CodeProviderRateLimited   ErrorCode = "4001"
	CodeProviderServer        ErrorCode = "4002"
	CodeProviderContextLength ErrorCode = "4003"
	CodeProviderAuth          ErrorCode = "4004"

	// 外部服务错误 (5xxx)
	CodeDatabaseError  ErrorCode = "5001"
	CodeCacheError     ErrorCode = "5002"
	CodeMessagingError ErrorCode = "5003"
)

// AppError 应用错误
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	HTTPStatus int       `json:"-"`
	Err        error     `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail 添加详细信息
func (e *AppError) WithDetail(detail string) *AppError {
	e.Detail = detail
	return e
}

// WithError 添加底层错误
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// New 创建新的应用错误
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Err:        err,
	}
}

// codeToHTTPStatus 错误码转 HTTP 状态码
func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case CodeSuccess:
		return http.StatusOK
	case CodeInvalidParam, CodeGenreUnknown, CodeResponseFormat, CodeJobNotRetryable, CodeJobNotComplete:
		return http.StatusBadRequest
	case CodeNotFound, CodeJobNotFound, CodeChapterNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeTooManyRequests, CodeCapacityExceeded, CodeProviderRateLimited:
		return http.StatusTooManyRequests
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// 预定义错误
var (
	ErrInvalidParam       = New(CodeInvalidParam, "invalid parameter")
	ErrNotFound           = New(CodeNotFound, "resource not found")
	ErrConflict           = New(CodeConflict, "resource conflict")
	ErrTooManyRequests    = New(CodeTooManyRequests, "too many requests")
	ErrInternalError      = New(CodeInternalError, "internal server error")
	ErrServiceUnavailable = New(CodeServiceUnavailable, "service unavailable")

	ErrJobNotFound     = New(CodeJobNotFound, "novel job not found")
	ErrJobConflict     = New(CodeConflict, "novel job was modified concurrently")
	ErrChapterNotFound = New(CodeChapterNotFound, "chapter not found")
	ErrGenreUnknown    = New(CodeGenreUnknown, "unknown genre or subgenre")

	ErrGenerationFailed = New(CodeGenerationFailed, "novel generation failed")
	ErrResponseFormat   = New(CodeResponseFormat, "model response format invalid")
	ErrJobNotRetryable  = New(CodeJobNotRetryable, "job has no retryable chapters")
	ErrJobNotComplete   = New(CodeJobNotComplete, "novel generation not complete")
)

// CapacityError 并发容量超限错误
type CapacityError struct {
	Active int
	Max    int
}

// Error 实现 error 接口
func (e *CapacityError) Error() string {
	return fmt.Sprintf("generation capacity exceeded: %d active jobs, limit %d", e.Active, e.Max)
}

// NewCapacityError 创建容量超限错误
func NewCapacityError(active, max int) *AppError {
	return &AppError{
		Code:       CodeCapacityExceeded,
		Message:    "maximum concurrent generations reached",
		HTTPStatus: http.StatusTooManyRequests,
		Err:        &CapacityError{Active: active, Max: max},
	}
}

// IsAppError 检查错误链中是否含 AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError 提取错误链中的 AppError，不是业务错误时返回 nil
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsRetryable 判断供应商错误是否可重试
func IsRetryable(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return true
	}
	switch appErr.Code {
	case CodeProviderContextLength, CodeProviderAuth, CodeResponseFormat:
		return false
	default:
		return true
	}
}
