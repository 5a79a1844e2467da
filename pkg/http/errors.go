package http

import (
	"fmt"
	"net/http"
)

// AppError is an error the API reports to clients as-is. Status selects the
// HTTP status; Err stays server side.
type AppError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Field   string                 `json:"field,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *AppError) Unwrap() error { return e.Err }

// NewAppError builds an error with an explicit code. Prefer the status helpers
// below unless the code carries meaning for clients.
func NewAppError(code, field, message string, status int) *AppError {
	return &AppError{Code: code, Field: field, Message: message, Status: status}
}

// WithParam attaches a machine readable detail, e.g. the offending symbol.
func (e *AppError) WithParam(key string, value interface{}) *AppError {
	if e.Params == nil {
		e.Params = map[string]interface{}{}
	}
	e.Params[key] = value
	return e
}

// WithError keeps the cause for logs and errors.Is.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

var statusCodes = map[int]string{
	http.StatusBadRequest:          "ERR_BAD_REQUEST",
	http.StatusNotFound:            "ERR_NOT_FOUND",
	http.StatusConflict:            "ERR_CONFLICT",
	http.StatusTooManyRequests:     "ERR_RATE_LIMITED",
	http.StatusInternalServerError: "ERR_INTERNAL",
}

func statusError(status int, message string) *AppError {
	code, ok := statusCodes[status]
	if !ok {
		code = "ERR_UNKNOWN"
	}
	return NewAppError(code, "", message, status)
}

func NotFoundError(message string) *AppError {
	return statusError(http.StatusNotFound, message)
}

func NotFoundErrorf(format string, a ...interface{}) *AppError {
	return NotFoundError(fmt.Sprintf(format, a...))
}

func BadRequestError(message string) *AppError {
	return statusError(http.StatusBadRequest, message)
}

// ConflictError rejects a request the current state cannot satisfy, such as a
// buy without balance or an update to a completed simulation.
func ConflictError(message string) *AppError {
	return statusError(http.StatusConflict, message)
}

func TooManyRequestsError(message string) *AppError {
	return statusError(http.StatusTooManyRequests, message)
}

func InternalError(message string) *AppError {
	return statusError(http.StatusInternalServerError, message)
}
