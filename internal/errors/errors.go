// Package errors classifies failures of the read-model service into
// categories that map onto HTTP status codes and wire error codes.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/edison-alpha/backendmome/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "validation"
	CategoryAuthorization ErrorCategory = "authorization"
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryConflict      ErrorCategory = "conflict"
	CategoryRateLimit     ErrorCategory = "rate_limit"
	CategoryUpstream      ErrorCategory = "upstream"
	CategoryCache         ErrorCategory = "cache"
	CategoryPersistence   ErrorCategory = "persistence"
	CategoryConfig        ErrorCategory = "config"
	CategorySystem        ErrorCategory = "system"
)

// Wire error codes
const (
	CodeInvalidParameter   = "INVALID_PARAMETER"
	CodeInvalidAddress     = "INVALID_ADDRESS"
	CodeInvalidRaffleID    = "INVALID_RAFFLE_ID"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeConflict           = "CONFLICT"
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	CodeUpstreamError      = "UPSTREAM_ERROR"
	CodeUpstreamRateLimit  = "UPSTREAM_RATE_LIMIT"
	CodeCacheError         = "CACHE_ERROR"
	CodePersistenceError   = "PERSISTENCE_ERROR"
	CodeConfigError        = "CONFIG_ERROR"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// pgUniqueViolation is the SQLSTATE Postgres reports for duplicate keys
const pgUniqueViolation = "23505"

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to the wire representation
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewInvalidParameterError creates a validation error for a request parameter
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidParameter,
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewInvalidAddressError creates a validation error for a malformed wallet address
func NewInvalidAddressError(address string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidAddress,
		Message:    fmt.Sprintf("invalid address format: %s", address),
		Details: map[string]interface{}{
			"address": address,
		},
	}
}

// NewInvalidRaffleIDError creates a validation error for a malformed raffle id
func NewInvalidRaffleIDError(raw string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidRaffleID,
		Message:    fmt.Sprintf("invalid raffle id: %s", raw),
		Details: map[string]interface{}{
			"raffleId": raw,
		},
	}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusUnauthorized,
		Code:       CodeUnauthorized,
		Message:    message,
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewConflictError creates a conflict error
func NewConflictError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeConflict,
		Message:    message,
		Cause:      cause,
	}
}

// NewRateLimitError creates a rate limit error for API callers
func NewRateLimitError(retryAfter int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       CodeRateLimitExceeded,
		Message:    "rate limit exceeded",
		Details: map[string]interface{}{
			"retryAfter": retryAfter,
		},
	}
}

// NewUpstreamError wraps a failure talking to the indexer or chain node
func NewUpstreamError(upstream string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUpstream,
		StatusCode: http.StatusBadGateway,
		Code:       CodeUpstreamError,
		Message:    fmt.Sprintf("upstream error: %s", upstream),
		Cause:      cause,
		Details: map[string]interface{}{
			"upstream": upstream,
		},
	}
}

// NewUpstreamRateLimitError marks an upstream 429/403 response
func NewUpstreamRateLimitError(upstream string, status int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUpstream,
		StatusCode: http.StatusTooManyRequests,
		Code:       CodeUpstreamRateLimit,
		Message:    fmt.Sprintf("upstream throttled: %s (status %d)", upstream, status),
		Details: map[string]interface{}{
			"upstream": upstream,
			"status":   status,
		},
	}
}

// NewCacheError creates a cache error
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCache,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeCacheError,
		Message:    fmt.Sprintf("cache error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewPersistenceError creates a database error
func NewPersistenceError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryPersistence,
		StatusCode: http.StatusInternalServerError,
		Code:       CodePersistenceError,
		Message:    fmt.Sprintf("persistence error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewConfigError reports missing or invalid configuration at startup
func NewConfigError(setting string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConfig,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeConfigError,
		Message:    fmt.Sprintf("%s: %s", setting, reason),
		Details: map[string]interface{}{
			"setting": setting,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternalError,
		Message:    message,
		Cause:      cause,
	}
}

// NewServiceUnavailableError creates a service unavailable error
func NewServiceUnavailableError(service string) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusServiceUnavailable,
		Code:       CodeServiceUnavailable,
		Message:    fmt.Sprintf("service unavailable: %s", service),
		Details: map[string]interface{}{
			"service": service,
		},
	}
}

// Categorize categorizes an existing error. Wrapped CategorizedErrors are
// found through the chain; anything else becomes an internal error.
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return categorizeServiceError(svcErr)
	}

	if IsDuplicateKey(err) {
		return NewConflictError("record already exists", err)
	}

	return NewInternalError("unexpected error", err)
}

func categorizeServiceError(err *types.ServiceError) *CategorizedError {
	category, status := CategorySystem, http.StatusInternalServerError
	switch err.Code {
	case CodeInvalidParameter, CodeInvalidAddress, CodeInvalidRaffleID:
		category, status = CategoryValidation, http.StatusBadRequest
	case CodeNotFound:
		category, status = CategoryNotFound, http.StatusNotFound
	case CodeUnauthorized:
		category, status = CategoryAuthorization, http.StatusUnauthorized
	case CodeRateLimitExceeded:
		category, status = CategoryRateLimit, http.StatusTooManyRequests
	case CodeConflict:
		category, status = CategoryConflict, http.StatusConflict
	}
	return &CategorizedError{
		Category:   category,
		StatusCode: status,
		Code:       err.Code,
		Message:    err.Message,
		Details:    err.Details,
	}
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsDuplicateKey reports whether err is a Postgres unique violation
func IsDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryUpstream:
		return catErr.Code == CodeUpstreamRateLimit
	case CategoryCache, CategoryPersistence:
		return true
	case CategorySystem:
		return catErr.StatusCode == http.StatusServiceUnavailable
	default:
		return false
	}
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}

// IsValidation reports whether err is a request validation failure
func IsValidation(err error) bool {
	var catErr *CategorizedError
	return stderrors.As(err, &catErr) && catErr.Category == CategoryValidation
}
