package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("document not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrClosed           = errors.New("store closed")
)

// AccessError is a permission denial. Transient denials are the startup race
// where a freshly signed-in principal is not yet known to the access rules;
// they clear on their own and are worth retrying.
type AccessError struct {
	Op         string
	Collection Collection
	ID         string
	Transient  bool
	Reason     string
}

func (e *AccessError) Error() string {
	if e == nil {
		return ""
	}
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	target := string(e.Collection)
	if e.ID != "" {
		target += "/" + e.ID
	}
	return fmt.Sprintf("%s %s: %s permission denied: %s", e.Op, target, kind, e.Reason)
}

func (e *AccessError) Unwrap() error {
	return ErrPermissionDenied
}

// IsTransient reports whether err is a transient permission denial.
func IsTransient(err error) bool {
	var accessErr *AccessError
	return errors.As(err, &accessErr) && accessErr.Transient
}

// IsPermissionDenied reports any permission denial, transient or not.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}
