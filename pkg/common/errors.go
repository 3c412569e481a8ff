package common

import "errors"

var (
	// ErrMalformedFrame 数据报解码失败（截断、非UTF-8、已知opcode字段数不符）
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrNotConnected 未连接错误
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnected 已连接错误
	ErrAlreadyConnected = errors.New("already connected")

	// ErrNotFound 未找到错误
	ErrNotFound = errors.New("not found")

	// ErrRequestTimeout 后端请求超时
	ErrRequestTimeout = errors.New("request timeout")

	// ErrAuthFailed 后端认证失败
	ErrAuthFailed = errors.New("authentication failed")

	// ErrValidationFailed 校验失败错误
	ErrValidationFailed = errors.New("validation failed")

	// ErrStorageFailed 存储失败错误
	ErrStorageFailed = errors.New("storage failed")

	// ErrOverflowExhausted 溢出文件也写入失败，事件丢失（仅对该事件致命）
	ErrOverflowExhausted = errors.New("overflow exhausted")

	// ErrQueueClosed 管道已关闭
	ErrQueueClosed = errors.New("queue closed")
)

// AppError 应用错误
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError 创建应用错误
func NewAppError(code string, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}
