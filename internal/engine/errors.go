package engine

import (
	"fmt"
	"net/http"
)

// ErrorKind groups error codes into the categories callers react to.
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation_error"
	KindPersistence         ErrorKind = "persistence_error"
	KindContextUnresolvable ErrorKind = "context_unresolvable"
	KindInvariantViolation  ErrorKind = "invariant_violation"
	KindNotFound            ErrorKind = "not_found"
	KindConflict            ErrorKind = "conflict"
	KindUnauthorized        ErrorKind = "unauthorized"
	KindInternal            ErrorKind = "internal"
)

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`

	// Err is the underlying cause. It is logged, never serialized.
	Err error `json:"-"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Kind maps the error code onto the error taxonomy.
func (e *AppError) Kind() ErrorKind {
	switch e.Code {
	case "VALIDATION_ERROR", "INVALID_PAYLOAD":
		return KindValidation
	case "PERSISTENCE_ERROR", "CONNECTION_FAILED":
		return KindPersistence
	case "CONTEXT_UNRESOLVABLE":
		return KindContextUnresolvable
	case "INVARIANT_VIOLATION":
		return KindInvariantViolation
	case "NOT_FOUND":
		return KindNotFound
	case "ALREADY_CONNECTED", "CONFLICT":
		return KindConflict
	case "UNAUTHORIZED", "FORBIDDEN":
		return KindUnauthorized
	default:
		return KindInternal
	}
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func NotFoundError(entity, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  http.StatusNotFound,
		Message: fmt.Sprintf("%s with id %s not found", entity, id),
	}
}

func ValidationError(details []ErrorDetail) *AppError {
	return &AppError{
		Code:    "VALIDATION_ERROR",
		Status:  http.StatusUnprocessableEntity,
		Message: "Validation failed",
		Details: details,
	}
}

func InvalidPayloadError(msg string) *AppError {
	return &AppError{Code: "INVALID_PAYLOAD", Status: http.StatusBadRequest, Message: msg}
}

func PersistenceError(msg string, err error) *AppError {
	return &AppError{Code: "PERSISTENCE_ERROR", Status: http.StatusInternalServerError, Message: msg, Err: err}
}

// ConnectionFailedError reports a failed connect or terminate. The action can
// be re-triggered by the author.
func ConnectionFailedError(msg string, err error) *AppError {
	return &AppError{Code: "CONNECTION_FAILED", Status: http.StatusBadGateway, Message: msg, Err: err}
}

func ContextUnresolvableError(msg string) *AppError {
	return &AppError{Code: "CONTEXT_UNRESOLVABLE", Status: http.StatusConflict, Message: msg}
}

func InvariantViolationError(msg string) *AppError {
	return &AppError{Code: "INVARIANT_VIOLATION", Status: http.StatusConflict, Message: msg}
}

func AlreadyConnectedError(edgeID string) *AppError {
	return &AppError{
		Code:    "ALREADY_CONNECTED",
		Status:  http.StatusConflict,
		Message: fmt.Sprintf("Value is already connected by connection %s", edgeID),
	}
}

func ConflictError(msg string) *AppError {
	return &AppError{Code: "CONFLICT", Status: http.StatusConflict, Message: msg}
}

func UnauthorizedError(msg string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Status: http.StatusUnauthorized, Message: msg}
}

func ForbiddenError(msg string) *AppError {
	return &AppError{Code: "FORBIDDEN", Status: http.StatusForbidden, Message: msg}
}
