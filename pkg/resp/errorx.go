package resp

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode 错误码，机器可读
type ErrorCode string

const (
	CodeNotFound          ErrorCode = "not_found"
	CodeInvalidState      ErrorCode = "invalid_state"
	CodeInvalidTransition ErrorCode = "invalid_transition"
	CodeConflict          ErrorCode = "conflict"
	CodeValidation        ErrorCode = "validation_error"
	CodeUnauthorized      ErrorCode = "unauthorized"
	CodeInternal          ErrorCode = "internal"
)

// StatusError carries a machine-readable code plus the offending current
// status, so the caller can decide whether to retry, wait, or prompt a human.
type StatusError struct {
	ErrCode       ErrorCode `json:"code"`
	Msg           string    `json:"message"`
	CurrentStatus string    `json:"currentStatus,omitempty"`
}

func (e *StatusError) Error() string {
	if e.CurrentStatus != "" {
		return fmt.Sprintf("%s: %s (current status: %s)", e.ErrCode, e.Msg, e.CurrentStatus)
	}
	return fmt.Sprintf("%s: %s", e.ErrCode, e.Msg)
}

func NotFoundf(format string, args ...interface{}) *StatusError {
	return &StatusError{ErrCode: CodeNotFound, Msg: fmt.Sprintf(format, args...)}
}

func InvalidStatef(currentStatus, format string, args ...interface{}) *StatusError {
	return &StatusError{ErrCode: CodeInvalidState, Msg: fmt.Sprintf(format, args...), CurrentStatus: currentStatus}
}

func InvalidTransitionf(currentStatus, format string, args ...interface{}) *StatusError {
	return &StatusError{ErrCode: CodeInvalidTransition, Msg: fmt.Sprintf(format, args...), CurrentStatus: currentStatus}
}

func Conflictf(currentStatus, format string, args ...interface{}) *StatusError {
	return &StatusError{ErrCode: CodeConflict, Msg: fmt.Sprintf(format, args...), CurrentStatus: currentStatus}
}

func Validationf(format string, args ...interface{}) *StatusError {
	return &StatusError{ErrCode: CodeValidation, Msg: fmt.Sprintf(format, args...)}
}

func Unauthorizedf(format string, args ...interface{}) *StatusError {
	return &StatusError{ErrCode: CodeUnauthorized, Msg: fmt.Sprintf(format, args...)}
}

func Internalf(format string, args ...interface{}) *StatusError {
	return &StatusError{ErrCode: CodeInternal, Msg: fmt.Sprintf(format, args...)}
}

// AsStatusError 解包错误链中的 StatusError
func AsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码
func CodeOf(err error) ErrorCode {
	if se, ok := AsStatusError(err); ok {
		return se.ErrCode
	}
	return CodeInternal
}

// HTTPStatus 错误码到HTTP状态码
func HTTPStatus(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidState, CodeInvalidTransition:
		return http.StatusConflict
	case CodeConflict:
		return http.StatusConflict
	case CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
