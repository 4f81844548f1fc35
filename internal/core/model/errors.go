package model

import (
	"errors"
	"fmt"
)

var (
	ErrUpstreamUnavailable = errors.New("failed to reach data source")
	ErrNoDataFound         = errors.New("no coverage data found")
	ErrInvalidInput        = errors.New("invalid input")
)

// UpstreamError is a network, timeout or non-2xx failure talking to an upstream service.
type UpstreamError struct {
	Service string
	Op      string
	Status  int
	Err     error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s %s: status %d: %v", e.Service, e.Op, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s %s: status %d", e.Service, e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
	default:
		return fmt.Sprintf("%s %s: upstream unavailable", e.Service, e.Op)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamUnavailable
}

func Upstream(service, op string, status int, err error) error {
	return &UpstreamError{Service: service, Op: op, Status: status, Err: err}
}

func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
