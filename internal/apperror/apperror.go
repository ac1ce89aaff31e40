package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
	ErrStorage      = errors.New("storage error")
	ErrDatabase     = errors.New("database error")
	ErrConfig       = errors.New("config error")

	// ErrPoolExhausted is a database error: errors.Is(err, ErrDatabase) holds for it too.
	ErrPoolExhausted = fmt.Errorf("connection pool exhausted: %w", ErrDatabase)
)

// Stable codes for 401 responses. Clients branch on these, so never rename them.
const (
	CodeMissingToken       = "missing_token"
	CodeEmptyToken         = "empty_token"
	CodeInvalidScheme      = "invalid_scheme"
	CodeTrailingWhitespace = "trailing_whitespace"
	CodeMalformedToken     = "malformed_token"
	CodeExpiredToken       = "expired_token"
	CodeInvalidSignature   = "invalid_signature"
	CodeInvalidClaims      = "invalid_claims"
	CodeUnknownUser        = "unknown_user"
	CodeUnverifiedEmail    = "unverified_email"
	CodeBadCredentials     = "bad_credentials"
)

type AppError struct {
	Err     error  // sentinel, one of the Err* values above
	Code    string // machine-readable code sent to clients
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Code:    "not_found",
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Code:    "validation_error",
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Code:    "conflict",
		Message: fmt.Sprintf("%s conflict with %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Code:    "forbidden",
		Message: message,
	}
}

// Unauthorized returns an AppError carrying one of the Code* reasons.
// HTTP handlers map this to 401 Unauthorized.
func Unauthorized(code, message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Code:    code,
		Message: message,
	}
}

func RateLimited(message string) *AppError {
	return &AppError{
		Err:     ErrRateLimited,
		Code:    "rate_limited",
		Message: message,
	}
}

// Storage wraps a failure of the object store. The cause is kept for logs;
// the message is safe to show to clients.
func Storage(op string, cause error) *AppError {
	return &AppError{
		Err:     errors.Join(ErrStorage, cause),
		Code:    "storage_error",
		Message: fmt.Sprintf("storage unavailable during %s", op),
	}
}

// Database wraps an infrastructure failure of the database.
func Database(op string, cause error) *AppError {
	return &AppError{
		Err:     errors.Join(ErrDatabase, cause),
		Code:    "database_error",
		Message: fmt.Sprintf("database unavailable during %s", op),
	}
}

// PoolExhausted reports that no connection could be acquired within the pool timeout.
func PoolExhausted(op string, cause error) *AppError {
	return &AppError{
		Err:     errors.Join(ErrPoolExhausted, cause),
		Code:    "pool_exhausted",
		Message: fmt.Sprintf("database busy during %s, retry later", op),
	}
}

// Config reports every missing or invalid setting at once.
func Config(problems []string) *AppError {
	return &AppError{
		Err:     ErrConfig,
		Code:    "config_error",
		Message: fmt.Sprintf("invalid configuration: %v", problems),
	}
}
