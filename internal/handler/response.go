package handler

import (
	"net/http"

	apperrors "github.com/jwalitptl/account-api/pkg/errors"
)

type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewErrorResponse(message string) *Response {
	return &Response{
		Status:  "error",
		Message: message,
	}
}

// StatusForError maps application error codes onto HTTP statuses.
func StatusForError(err error) int {
	switch apperrors.Code(err) {
	case apperrors.ErrValidation, apperrors.ErrInvalidRoleLinkage:
		return http.StatusBadRequest
	case apperrors.ErrDuplicateUsername:
		return http.StatusConflict
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrAuthentication:
		return http.StatusUnauthorized
	case apperrors.ErrAuthorization, apperrors.ErrOwnerProtected:
		return http.StatusForbidden
	case apperrors.ErrSubscriptionInactive:
		return http.StatusPaymentRequired
	case apperrors.ErrRemoteUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error writes the standard error envelope for an application error.
func Error(err error) (int, *Response) {
	return StatusForError(err), NewErrorResponse(err.Error())
}
