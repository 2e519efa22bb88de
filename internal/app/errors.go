package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/auth"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/coordinator"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/export"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/store"
)

// DomainError carries its own HTTP rendering. Err, when set, is the cause
// and stays reachable through errors.Is.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
	Err     error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// badRequest reports caller input the service cannot act on.
func badRequest(code string, err error) *DomainError {
	return &DomainError{Status: http.StatusBadRequest, Code: code, Message: err.Error(), Err: err}
}

// errorRule renders every error it matches. An empty message means the
// error's own text is shown.
type errorRule struct {
	match   func(error) bool
	status  int
	code    string
	message string
}

func is(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, target := range targets {
			if errors.Is(err, target) {
				return true
			}
		}
		return false
	}
}

// errorRules are checked in order; the first match wins.
var errorRules = []errorRule{
	{is(auth.ErrInvalidToken, auth.ErrExpiredToken), http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized"},
	{is(ErrBlocked), http.StatusConflict, "SESSION_BLOCKED", ""},
	{is(ErrNotStarted), http.StatusConflict, "SESSION_NOT_STARTED", "Session not started"},
	{is(ErrNoGenerator), http.StatusServiceUnavailable, "ADVISORY_UNAVAILABLE", "Advisory generator not configured"},
	{is(coordinator.ErrForbidden), http.StatusForbidden, "FORBIDDEN", "Forbidden"},
	{store.IsPermissionDenied, http.StatusForbidden, "FORBIDDEN", "Forbidden"},
	{is(coordinator.ErrInvalid, export.ErrUnsupportedFormat), http.StatusUnprocessableEntity, "VALIDATION_ERROR", ""},
	{is(coordinator.ErrNotFound, store.ErrNotFound), http.StatusNotFound, "NOT_FOUND", "Not found"},
	{is(export.ErrContentUnavailable), http.StatusConflict, "NOT_READY", "Strategy data is still loading"},
	{is(export.ErrPDFDependencyMissing, export.ErrDOCXDependencyMissing), http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", ""},
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	for _, rule := range errorRules {
		if !rule.match(err) {
			continue
		}
		message = rule.message
		if message == "" {
			message = err.Error()
		}
		return rule.status, rule.code, message, nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
