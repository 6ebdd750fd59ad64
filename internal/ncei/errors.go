package ncei

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

var (
	// ErrNotFound means the remote resource does not exist.
	ErrNotFound = errors.New("remote resource not found")
	// ErrCircuitOpen means the archive has been failing and requests are
	// currently short-circuited.
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrShortBody means fewer bytes arrived than the server announced.
	ErrShortBody = errors.New("response body shorter than Content-Length")
	// ErrInvalidItem is returned for work items with no URL or destination.
	ErrInvalidItem = errors.New("invalid work item")
	// ErrDuplicateDestination is returned when two items target one path.
	ErrDuplicateDestination = errors.New("duplicate destination")
)

// StatusError is an unexpected HTTP status.
type StatusError struct {
	Method string
	URL    string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d %s", e.Method, e.URL, e.Code, http.StatusText(e.Code))
}

// Is reports 404 and 410 as ErrNotFound.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && (e.Code == http.StatusNotFound || e.Code == http.StatusGone)
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// IsTransient reports whether err is a failure that a later attempt may not
// repeat: network errors, timeouts, 5xx and 429 responses, short bodies.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	if errors.Is(err, ErrShortBody) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
