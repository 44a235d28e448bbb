package firestore

import (
	apperrors "firestore-client/internal/shared/errors"
)

// Error kinds. errors.Is(err, ErrNotFound) matches any error of that kind, whether
// it was raised locally or rebuilt from a remote response.
var (
	ErrInvalidPath        = apperrors.ErrInvalidPath
	ErrInvalidCursor      = apperrors.ErrInvalidCursor
	ErrInvalidArgument    = apperrors.ErrInvalidArgument
	ErrNotFound           = apperrors.ErrNotFound
	ErrAlreadyExists      = apperrors.ErrAlreadyExists
	ErrPermissionDenied   = apperrors.ErrPermissionDenied
	ErrUnauthenticated    = apperrors.ErrUnauthenticated
	ErrUnavailable        = apperrors.ErrUnavailable
	ErrAborted            = apperrors.ErrAborted
	ErrFailedPrecondition = apperrors.ErrFailedPrecondition
	ErrRetriesExhausted   = apperrors.ErrRetriesExhausted
	ErrInternal           = apperrors.ErrInternal
)

// Error is the concrete type behind every error this package returns.
type Error = apperrors.AppError

// ErrorKind names an error kind such as "NOT_FOUND".
type ErrorKind = apperrors.ErrorType

// Code returns the kind of err, INTERNAL for errors without one and "" for nil.
func Code(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if kind := apperrors.TypeOf(err); kind != "" {
		return kind
	}
	return apperrors.ErrorTypeInternal
}
