package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError carries an HTTP status alongside the message so handlers can map
// domain failures straight onto responses.
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

func New(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func NewWithDetails(code int, message, details string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	ErrBadRequest          = New(http.StatusBadRequest, "Bad request")
	ErrUnauthorized        = New(http.StatusUnauthorized, "Unauthorized")
	ErrForbidden           = New(http.StatusForbidden, "Forbidden")
	ErrNotFound            = New(http.StatusNotFound, "Not found")
	ErrConflict            = New(http.StatusConflict, "Conflict")
	ErrInternalServerError = New(http.StatusInternalServerError, "Internal server error")

	ErrInstanceNotFound = New(http.StatusNotFound, "Instance not found")
	ErrInstanceBlocked  = New(http.StatusUnauthorized, "Instance is blocked")
	ErrInstanceInactive = New(http.StatusUnauthorized, "Instance is not active")
	ErrNotConnected     = New(http.StatusBadRequest, "Instance not started")
	ErrConnectionStart  = New(http.StatusServiceUnavailable, "Failed to start connection")

	ErrWebhookNotFound = New(http.StatusNotFound, "Webhook not found")

	ErrUserNotFound      = New(http.StatusNotFound, "User not found")
	ErrUserAlreadyExists = New(http.StatusConflict, "User already exists")
	ErrInvalidToken      = New(http.StatusUnauthorized, "Invalid token")
	ErrTrialExpired      = New(http.StatusForbidden, "Trial expired")
)

func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewWithDetails(http.StatusInternalServerError, "Internal server error", err.Error())
}
