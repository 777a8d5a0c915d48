package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrValidation ErrorCode = iota + 1000
	ErrDuplicateUsername
	ErrInvalidRoleLinkage
	ErrNotFound
	ErrAuthentication
	ErrAuthorization
	ErrSubscriptionInactive
	ErrOwnerProtected
	ErrRemoteUnavailable
	ErrInternal
)

// Code extracts the ErrorCode from err, or ErrInternal when err
// is not an AppError.
func Code(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// Error constructors
func Validation(message string, err error) *AppError {
	return &AppError{Code: ErrValidation, Message: message, Err: err}
}

func DuplicateUsername(username string) *AppError {
	return &AppError{
		Code:    ErrDuplicateUsername,
		Message: fmt.Sprintf("username %q already exists", username),
	}
}

func InvalidRoleLinkage(message string) *AppError {
	return &AppError{Code: ErrInvalidRoleLinkage, Message: message}
}

func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func Authentication(message string, err error) *AppError {
	if message == "" {
		message = "authentication failed"
	}
	return &AppError{Code: ErrAuthentication, Message: message, Err: err}
}

func Authorization(message string) *AppError {
	if message == "" {
		message = "permission denied"
	}
	return &AppError{Code: ErrAuthorization, Message: message}
}

func SubscriptionInactive(admin string) *AppError {
	return &AppError{
		Code:    ErrSubscriptionInactive,
		Message: fmt.Sprintf("subscription for %q is not active", admin),
	}
}

func OwnerProtected(op string) *AppError {
	return &AppError{
		Code:    ErrOwnerProtected,
		Message: fmt.Sprintf("operation %q is not allowed on the owner account", op),
	}
}

func RemoteUnavailable(err error) *AppError {
	return &AppError{
		Code:    ErrRemoteUnavailable,
		Message: "remote authority unavailable",
		Err:     err,
	}
}

func Internal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal error",
		Err:     err,
	}
}
