package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Each failure category is its own type so callers can match with
// errors.As; Label turns any of them into the metrics label.

// ErrTimeout is a request or body read that ran out of time.
type ErrTimeout struct{ Err error }

// ErrConnection is a dial or socket failure.
type ErrConnection struct{ Err error }

// ErrForbidden is an HTTP 403.
type ErrForbidden struct{ Err error }

// ErrNotFound is an HTTP 404.
type ErrNotFound struct{ Err error }

// ErrRateLimited is an HTTP 429.
type ErrRateLimited struct{ Err error }

// ErrServer is any 5xx response.
type ErrServer struct{ Err error }

func (e ErrTimeout) Error() string     { return describe(e) }
func (e ErrConnection) Error() string  { return describe(e) }
func (e ErrForbidden) Error() string   { return describe(e) }
func (e ErrNotFound) Error() string    { return describe(e) }
func (e ErrRateLimited) Error() string { return describe(e) }
func (e ErrServer) Error() string      { return describe(e) }

func (e ErrTimeout) Unwrap() error     { return e.Err }
func (e ErrConnection) Unwrap() error  { return e.Err }
func (e ErrForbidden) Unwrap() error   { return e.Err }
func (e ErrNotFound) Unwrap() error    { return e.Err }
func (e ErrRateLimited) Unwrap() error { return e.Err }
func (e ErrServer) Unwrap() error      { return e.Err }

func (ErrTimeout) label() string     { return "timeout" }
func (ErrConnection) label() string  { return "connection" }
func (ErrForbidden) label() string   { return "forbidden" }
func (ErrNotFound) label() string    { return "not_found" }
func (ErrRateLimited) label() string { return "rate_limited" }
func (ErrServer) label() string      { return "server" }

type categorized interface {
	error
	Unwrap() error
	label() string
}

func describe(e categorized) string {
	if e.Unwrap() == nil {
		return e.label()
	}
	return e.label() + ": " + e.Unwrap().Error()
}

// StatusError builds a classified error for a non-success HTTP status.
func StatusError(statusCode int, url string) error {
	return Classify(fmt.Errorf("http status %d for %s", statusCode, url), statusCode)
}

// Label returns the metrics and log label for err: the category of the
// outermost classified error in its chain, "other" when there is none.
func Label(err error) string {
	if err == nil {
		return "unknown"
	}
	var c categorized
	if errors.As(err, &c) {
		return c.label()
	}
	return "other"
}

// Classify wraps err in the typed error matching its cause or, failing that,
// its status code. Unrecognised errors are returned unchanged.
func Classify(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout{Err: err}
	case errors.As(err, &netErr) && netErr.Timeout():
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode == 0 {
		return err
	}
	if err == nil {
		err = fmt.Errorf("http status %d", statusCode)
	}
	switch {
	case statusCode == http.StatusForbidden:
		return ErrForbidden{Err: err}
	case statusCode == http.StatusNotFound:
		return ErrNotFound{Err: err}
	case statusCode == http.StatusTooManyRequests:
		return ErrRateLimited{Err: err}
	case statusCode >= http.StatusInternalServerError:
		return ErrServer{Err: err}
	}
	return err
}
