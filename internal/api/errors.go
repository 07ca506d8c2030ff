package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Every *Error matches exactly one of them through errors.Is.
var (
	ErrTransient = errors.New("transient network error")
	ErrConflict  = errors.New("conflict")
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	ErrInvalid   = errors.New("invalid request")
)

type Error struct {
	Status  int
	Code    string
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return e.kind() == target
}

func (e *Error) kind() error {
	switch {
	case e.Status == 0, e.Status == http.StatusRequestTimeout, e.Status >= 500:
		return ErrTransient
	case e.Status == http.StatusConflict:
		return ErrConflict
	case e.Status == http.StatusNotFound:
		return ErrNotFound
	case e.Status == http.StatusForbidden, e.Status == http.StatusUnauthorized:
		return ErrForbidden
	default:
		return ErrInvalid
	}
}

func apiError(status int, code, message string, details any) *Error {
	return &Error{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func networkError(err error) *Error {
	return &Error{Code: "NETWORK", Message: "server unreachable", Err: err}
}

// ConflictError reports an operation rejected because a job is already running.
func ConflictError(message string) *Error {
	return apiError(http.StatusConflict, "ALREADY_IN_PROGRESS", message, nil)
}

// ForbiddenError reports an operation the client refuses before calling the server.
func ForbiddenError(message string) *Error {
	return apiError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

// InvalidError reports a failed client-side precondition.
func InvalidError(message string) *Error {
	return apiError(http.StatusBadRequest, "VALIDATION_ERROR", message, nil)
}

// UserMessage renders err as the short text shown in a toast or inline message.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Status != 0 && apiErr.Message != "" {
		return apiErr.Message
	}
	switch {
	case errors.Is(err, ErrTransient):
		return "Could not reach the server. Try again."
	case errors.Is(err, ErrConflict):
		return "Already in progress."
	case errors.Is(err, ErrNotFound):
		return "Not found."
	}
	return err.Error()
}
