package collab

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes surfaced to callers. The Status field carries the HTTP
// status the excluded API layer should map the code to.
const (
	CodeAccessDenied           = "ACCESS_DENIED"
	CodeConcurrentEditConflict = "CONCURRENT_EDIT_CONFLICT"
	CodeLockDenied             = "LOCK_DENIED"
	CodeVersionConflict        = "VERSION_CONFLICT"
	CodeShareExpired           = "SHARE_EXPIRED"
	CodeShareExhausted         = "SHARE_EXHAUSTED"
	CodeSessionAlreadyActive   = "SESSION_ALREADY_ACTIVE"
	CodeStorageError           = "STORAGE_ERROR"
	CodeValidationError        = "VALIDATION_ERROR"
	CodeNotFound               = "NOT_FOUND"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func accessDenied(message string) *DomainError {
	return domainError(http.StatusForbidden, CodeAccessDenied, message, nil)
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, message, nil)
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeValidationError, message, nil)
}

func storageError(message string, cause error) *DomainError {
	return domainError(http.StatusServiceUnavailable, CodeStorageError, message, map[string]any{
		"cause": cause.Error(),
	})
}

// CodeOf extracts the domain error code, or "" for plain errors.
func CodeOf(err error) string {
	var domain *DomainError
	if errors.As(err, &domain) {
		return domain.Code
	}
	return ""
}

// IsRetryable reports whether the failure is conflict-class: the caller
// should retry after backoff or after the occupant clears, as opposed to
// a hard failure worth escalating.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeConcurrentEditConflict, CodeLockDenied, CodeVersionConflict:
		return true
	default:
		return false
	}
}
