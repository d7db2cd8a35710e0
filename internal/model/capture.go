package model

import "errors"

// ErrNavigationTimeout is returned by collectors when the page did not
// finish loading within its budget. It aborts the whole scan.
var ErrNavigationTimeout = errors.New("page load timed out")

// ErrNavigationFailed is returned by collectors when the page could not be
// loaded at all (DNS, connection or TLS failure). The scan is aborted the
// same way as on a timeout.
var ErrNavigationFailed = errors.New("page load failed")

// IsNavigationError reports whether err aborted a page load
func IsNavigationError(err error) bool {
	return errors.Is(err, ErrNavigationTimeout) || errors.Is(err, ErrNavigationFailed)
}

// Capture is a collected observation whose accessors may still depend on
// a live resource (a browser page). Release frees that resource; the
// observation must not be used afterwards.
type Capture interface {
	Observation() Observation
	Release()
}

// StaticCapture wraps an observation that needs no live resource
type StaticCapture struct {
	Obs Observation
}

// Observation returns the wrapped observation
func (c *StaticCapture) Observation() Observation { return c.Obs }

// Release is a no-op
func (c *StaticCapture) Release() {}
