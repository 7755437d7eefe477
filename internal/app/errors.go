package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"coauthor/api/internal/auth"
	"coauthor/api/internal/blocks"
	"coauthor/api/internal/gitrepo"
	"coauthor/api/internal/review"
	"coauthor/api/internal/store"
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

// errLockTimeout is returned when a document stays locked past the lock
// timeout.
var errLockTimeout = errors.New("document is busy")

var errSnapshotsDisabled = domainError(http.StatusServiceUnavailable, "SNAPSHOTS_DISABLED", "Version snapshots are not configured", nil)

// toDomainError classifies err into the HTTP error envelope. Unknown errors
// become SERVER_ERROR.
func toDomainError(err error) *DomainError {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}

	var verrs blocks.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", verrs)
	case errors.Is(err, review.ErrPermissionDenied):
		return domainError(http.StatusForbidden, "FORBIDDEN", err.Error(), nil)
	case errors.Is(err, review.ErrInvalidStateTransition):
		return domainError(http.StatusConflict, "INVALID_STATE_TRANSITION", err.Error(), nil)
	case errors.Is(err, review.ErrAlreadyResolved):
		return domainError(http.StatusConflict, "ALREADY_RESOLVED", err.Error(), nil)
	case errors.Is(err, review.ErrStaleVersion):
		details := map[string]any{}
		var stale *review.StaleVersionError
		if errors.As(err, &stale) {
			details["revision"] = stale.Actual
		}
		return domainError(http.StatusConflict, "STALE_VERSION", err.Error(), details)
	case errors.Is(err, review.ErrNotFound), errors.Is(err, gitrepo.ErrVersionNotFound):
		return domainError(http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, blocks.ErrUnknownType):
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(),
			blocks.ValidationErrors{{Field: "type", Reason: err.Error()}})
	case errors.Is(err, store.ErrDuplicate):
		return domainError(http.StatusConflict, "DUPLICATE", err.Error(), nil)
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	case errors.Is(err, errLockTimeout):
		return domainError(http.StatusServiceUnavailable, "LOCK_TIMEOUT", err.Error(), nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return domainError(http.StatusServiceUnavailable, "CANCELED", err.Error(), nil)
	default:
		return domainError(http.StatusInternalServerError, "SERVER_ERROR", "Internal server error", nil)
	}
}

func resultCode(err error) string {
	if err == nil {
		return "ok"
	}
	return toDomainError(err).Code
}
