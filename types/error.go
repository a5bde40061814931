package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the service.
type ErrorCode string

// Request / domain error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrPreconditionFailed ErrorCode = "PRECONDITION_FAILED"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrSessionBusy        ErrorCode = "SESSION_BUSY"
	ErrConflict           ErrorCode = "CONFLICT"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Completion provider error codes
const (
	ErrAuthentication  ErrorCode = "AUTHENTICATION"
	ErrRateLimit       ErrorCode = "RATE_LIMIT"
	ErrQuotaExceeded   ErrorCode = "QUOTA_EXCEEDED"
	ErrModelNotFound   ErrorCode = "MODEL_NOT_FOUND"
	ErrContentFiltered ErrorCode = "CONTENT_FILTERED"
	ErrUpstreamTimeout ErrorCode = "UPSTREAM_TIMEOUT"
	ErrUpstreamError   ErrorCode = "UPSTREAM_ERROR"
	ErrProviderNotSet  ErrorCode = "PROVIDER_NOT_SET"
	ErrModelOverloaded ErrorCode = "MODEL_OVERLOADED"
	ErrMalformedOutput ErrorCode = "MALFORMED_OUTPUT"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// =============================================================================
// 常用构造
// =============================================================================

// NewInvalidRequestError 请求参数错误
func NewInvalidRequestError(message string) *Error {
	return NewError(ErrInvalidRequest, message).WithHTTPStatus(http.StatusBadRequest)
}

// NewPreconditionError 前置条件不满足，调用方在任何状态变更之前收到
func NewPreconditionError(message string) *Error {
	return NewError(ErrPreconditionFailed, message).WithHTTPStatus(http.StatusUnprocessableEntity)
}

// NewNotFoundError 资源不存在
func NewNotFoundError(message string) *Error {
	return NewError(ErrNotFound, message).WithHTTPStatus(http.StatusNotFound)
}

// NewBusyError 会话正在运行
func NewBusyError(message string) *Error {
	return NewError(ErrSessionBusy, message).WithHTTPStatus(http.StatusConflict)
}

// NewInternalError 内部错误
func NewInternalError(message string) *Error {
	return NewError(ErrInternalError, message).WithHTTPStatus(http.StatusInternalServerError)
}

// =============================================================================
// 错误工具链
// =============================================================================

// AsError extracts a *Error from the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsErrorCode reports whether any *Error in the chain carries code.
func IsErrorCode(err error, code ErrorCode) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}
