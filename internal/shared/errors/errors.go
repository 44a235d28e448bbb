package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType is the kind of a failure. Kinds travel over the wire unchanged so a
// remote error is rebuilt with the same kind on the client side.
type ErrorType string

const (
	ErrorTypeInvalidPath        ErrorType = "INVALID_PATH"
	ErrorTypeInvalidCursor      ErrorType = "INVALID_CURSOR"
	ErrorTypeInvalidArgument    ErrorType = "INVALID_ARGUMENT"
	ErrorTypeNotFound           ErrorType = "NOT_FOUND"
	ErrorTypeAlreadyExists      ErrorType = "ALREADY_EXISTS"
	ErrorTypePermissionDenied   ErrorType = "PERMISSION_DENIED"
	ErrorTypeUnauthenticated    ErrorType = "UNAUTHENTICATED"
	ErrorTypeUnavailable        ErrorType = "UNAVAILABLE"
	ErrorTypeAborted            ErrorType = "ABORTED"
	ErrorTypeFailedPrecondition ErrorType = "FAILED_PRECONDITION"
	ErrorTypeRetriesExhausted   ErrorType = "RETRIES_EXHAUSTED"
	ErrorTypeInternal           ErrorType = "INTERNAL"
)

// Sentinels for errors.Is. An *AppError matches a sentinel when the kinds are equal.
var (
	ErrInvalidPath        = &AppError{Type: ErrorTypeInvalidPath, Message: "invalid path"}
	ErrInvalidCursor      = &AppError{Type: ErrorTypeInvalidCursor, Message: "invalid cursor"}
	ErrInvalidArgument    = &AppError{Type: ErrorTypeInvalidArgument, Message: "invalid argument"}
	ErrNotFound           = &AppError{Type: ErrorTypeNotFound, Message: "not found"}
	ErrAlreadyExists      = &AppError{Type: ErrorTypeAlreadyExists, Message: "already exists"}
	ErrPermissionDenied   = &AppError{Type: ErrorTypePermissionDenied, Message: "permission denied"}
	ErrUnauthenticated    = &AppError{Type: ErrorTypeUnauthenticated, Message: "unauthenticated"}
	ErrUnavailable        = &AppError{Type: ErrorTypeUnavailable, Message: "unavailable"}
	ErrAborted            = &AppError{Type: ErrorTypeAborted, Message: "aborted"}
	ErrFailedPrecondition = &AppError{Type: ErrorTypeFailedPrecondition, Message: "failed precondition"}
	ErrRetriesExhausted   = &AppError{Type: ErrorTypeRetriesExhausted, Message: "retries exhausted"}
	ErrInternal           = &AppError{Type: ErrorTypeInternal, Message: "internal error"}
)

// AppError represents a custom application error with context
type AppError struct {
	Type      ErrorType              `json:"type"`
	Message   string                 `json:"message"`
	Code      string                 `json:"code,omitempty"`
	HTTPCode  int                    `json:"-"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Cause     error                  `json:"-"`
	Component string                 `json:"component,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *AppError of the same kind.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string) *AppError {
	return &AppError{
		Type:     errorType,
		Message:  message,
		HTTPCode: HTTPStatus(errorType),
		Details:  make(map[string]interface{}),
	}
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithCause adds the underlying cause
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithComponent adds the component name
func (e *AppError) WithComponent(component string) *AppError {
	e.Component = component
	return e
}

// WithDetail adds a detail field
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Common error constructors

func NewInvalidPathError(message string) *AppError {
	return NewAppError(ErrorTypeInvalidPath, message)
}

func NewInvalidCursorError(message string) *AppError {
	return NewAppError(ErrorTypeInvalidCursor, message)
}

func NewInvalidArgumentError(message string) *AppError {
	return NewAppError(ErrorTypeInvalidArgument, message)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource))
}

func NewAlreadyExistsError(resource string) *AppError {
	return NewAppError(ErrorTypeAlreadyExists, fmt.Sprintf("%s already exists", resource))
}

func NewPermissionDeniedError(message string) *AppError {
	return NewAppError(ErrorTypePermissionDenied, message)
}

func NewUnauthenticatedError(message string) *AppError {
	return NewAppError(ErrorTypeUnauthenticated, message)
}

func NewUnavailableError(message string) *AppError {
	return NewAppError(ErrorTypeUnavailable, message)
}

func NewAbortedError(message string) *AppError {
	return NewAppError(ErrorTypeAborted, message)
}

func NewFailedPreconditionError(message string) *AppError {
	return NewAppError(ErrorTypeFailedPrecondition, message)
}

func NewRetriesExhaustedError(message string) *AppError {
	return NewAppError(ErrorTypeRetriesExhausted, message)
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, message)
}

// HTTPStatus maps an error kind to the status code the emulator answers with.
func HTTPStatus(t ErrorType) int {
	switch t {
	case ErrorTypeInvalidPath, ErrorTypeInvalidCursor, ErrorTypeInvalidArgument:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeAlreadyExists, ErrorTypeAborted:
		return http.StatusConflict
	case ErrorTypePermissionDenied:
		return http.StatusForbidden
	case ErrorTypeUnauthenticated:
		return http.StatusUnauthorized
	case ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	case ErrorTypeFailedPrecondition:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

// TypeFromHTTPStatus is used when a response carries no error body.
func TypeFromHTTPStatus(status int) ErrorType {
	switch status {
	case http.StatusBadRequest:
		return ErrorTypeInvalidArgument
	case http.StatusNotFound:
		return ErrorTypeNotFound
	case http.StatusConflict:
		return ErrorTypeAborted
	case http.StatusForbidden:
		return ErrorTypePermissionDenied
	case http.StatusUnauthorized:
		return ErrorTypeUnauthenticated
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return ErrorTypeUnavailable
	case http.StatusPreconditionFailed:
		return ErrorTypeFailedPrecondition
	default:
		return ErrorTypeInternal
	}
}

// Helper functions for common error scenarios

// WrapError wraps an error with context
func WrapError(err error, message string) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternalError(message).WithCause(err)
}

// TypeOf returns the kind of err, or "" when err carries none.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return TypeOf(err) == ErrorTypeNotFound
}

// IsValidation reports the kinds raised by local validation before any transport call.
func IsValidation(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeInvalidPath, ErrorTypeInvalidCursor, ErrorTypeInvalidArgument:
		return true
	}
	return false
}

func IsUnavailable(err error) bool {
	return TypeOf(err) == ErrorTypeUnavailable
}

func IsAborted(err error) bool {
	return TypeOf(err) == ErrorTypeAborted
}

// IsAuthorization checks if an error is an authorization error
func IsAuthorization(err error) bool {
	t := TypeOf(err)
	return t == ErrorTypePermissionDenied || t == ErrorTypeUnauthenticated
}
