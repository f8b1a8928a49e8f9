package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// Kind 错误分类，决定对外暴露的错误类型与 HTTP 状态码
type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindAuthorization   Kind = "authorization_error"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindInvalidState    Kind = "invalid_state"
	KindTransient       Kind = "transient_error"
	KindValidation      Kind = "validation_error"
	KindNotSharing      Kind = "not_sharing"
	KindInternal        Kind = "internal_error"
)

// Error represents a custom error with stack trace
type Error struct {
	Kind    Kind       `json:"kind"`
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Err     error      `json:"-"` // 原始错误，不序列化
	Stack   string     `json:"stack,omitempty"`
	Context []KeyValue `json:"context,omitempty"`
}

// KeyValue represents a key-value pair for context
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown error"
}

// Unwrap implements the errors.Wrapper interface
func (e *Error) Unwrap() error {
	return e.Err
}

// WithKind creates a new classified error
func WithKind(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Code:    HTTPStatus(kind),
		Message: message,
		Stack:   captureStack(),
	}
}

// WithKindf creates a new classified error with formatted message
func WithKindf(kind Kind, format string, args ...interface{}) *Error {
	return WithKind(kind, fmt.Sprintf(format, args...))
}

func Unauthenticated(message string) *Error { return WithKind(KindUnauthenticated, message) }
func Authorization(message string) *Error   { return WithKind(KindAuthorization, message) }
func NotFound(message string) *Error        { return WithKind(KindNotFound, message) }
func Conflict(message string) *Error        { return WithKind(KindConflict, message) }
func InvalidState(message string) *Error    { return WithKind(KindInvalidState, message) }
func Validation(message string) *Error      { return WithKind(KindValidation, message) }
func NotSharing(message string) *Error      { return WithKind(KindNotSharing, message) }

// Transient wraps a storage or timeout failure; callers may retry
func Transient(err error, message string) *Error {
	e := WithKind(KindTransient, message)
	e.Err = err
	return e
}

// Wrap wraps an error with message, keeping the kind of a wrapped *Error
func Wrap(err error, message string) *Error {
	if err == nil {
		return nil
	}
	kind := KindOf(err)
	return &Error{
		Kind:    kind,
		Code:    HTTPStatus(kind),
		Message: message,
		Err:     err,
		Stack:   captureStack(),
	}
}

// WithContext adds context to an error
func (e *Error) WithContext(key, value string) *Error {
	if e == nil {
		return nil
	}

	// 创建新的错误实例以避免修改原始错误
	newErr := *e
	newErr.Context = make([]KeyValue, len(e.Context), len(e.Context)+1)
	copy(newErr.Context, e.Context)
	newErr.Context = append(newErr.Context, KeyValue{Key: key, Value: value})
	return &newErr
}

// captureStack captures the current stack trace
func captureStack() string {
	buf := make([]byte, 1024)
	n := runtime.Stack(buf, false)
	stack := string(buf[:n])

	// 移除顶部几行（captureStack 与构造函数本身）
	lines := strings.Split(stack, "\n")
	if len(lines) > 6 {
		stack = strings.Join(lines[6:], "\n")
	}

	return strings.TrimSpace(stack)
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) && e.Kind != "" {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind to its response status code
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound, KindNotSharing:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindInvalidState:
		return http.StatusUnprocessableEntity
	case KindValidation:
		return http.StatusBadRequest
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GetMessage returns the error message
func GetMessage(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Error()
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// GetStack returns the error stack trace
func GetStack(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Stack
	}
	return ""
}

// Cause returns the underlying error
func Cause(err error) error {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Err != nil {
			err = e.Err
		} else {
			return err
		}
	}
	return err
}

// Format implements fmt.Formatter
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "%s", e.Error())
			if e.Stack != "" {
				fmt.Fprintf(s, "\n%s", e.Stack)
			}
			return
		}
		fallthrough
	case 's':
		fmt.Fprintf(s, "%s", e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}
