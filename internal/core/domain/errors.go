package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured signals a skip: the feed or lookup has no credentials.
	ErrNotConfigured = errors.New("not configured")

	// ErrDuplicate is returned by stores when (value, source) already exists.
	ErrDuplicate = errors.New("duplicate ioc")

	ErrNotFound        = errors.New("ioc not found")
	ErrEmptyValue      = errors.New("ioc value is empty")
	ErrEmptySource     = errors.New("ioc source is empty")
	ErrInvalidTag      = errors.New("tag must not be empty")
	ErrUnsupportedType = errors.New("unsupported indicator type")
)

// FetchError describes a failed feed download: transport error, non-2xx
// status or a payload that could not be decoded.
type FetchError struct {
	Source     string
	StatusCode int
	Cause      error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Cause != nil:
		return fmt.Sprintf("fetch %s: status %d: %v", e.Source, e.StatusCode, e.Cause)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: unexpected status %d", e.Source, e.StatusCode)
	case e.Cause != nil:
		return fmt.Sprintf("fetch %s: %v", e.Source, e.Cause)
	default:
		return fmt.Sprintf("fetch %s: unknown error", e.Source)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}
