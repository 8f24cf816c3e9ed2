package dms

import (
	"errors"
	"fmt"
)

// ErrNotFound marks a 404 from the DMS. Lookup call sites treat it as
// "absent"; everything else propagates it.
var ErrNotFound = errors.New("dms: resource not found")

// ErrNotConfigured is returned when no DMS endpoint is set in settings.
var ErrNotConfigured = errors.New("dms: url not configured")

// Error is a DMS transport or status failure (network, auth, HTTP >= 400
// other than 404).
type Error struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("dms: request failed with status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("dms: request failed: %s", e.Message)
}

func (e *Error) Unwrap() error { return e.Err }
