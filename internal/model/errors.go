package model

import (
	"errors"
	"fmt"
)

var (
	// ErrMiddlewareUnreachable covers connection failures and timeouts
	// when calling a chain member.
	ErrMiddlewareUnreachable = errors.New("middleware unreachable")

	// ErrMiddlewareProtocol is returned when a verdict cannot be decoded
	// or violates the contract.
	ErrMiddlewareProtocol = errors.New("middleware protocol error")

	// ErrUpstreamUnreachable is returned when the upstream call fails.
	ErrUpstreamUnreachable = errors.New("upstream unreachable")

	// ErrUpstreamTimeout is returned when the upstream call exceeds its timeout.
	ErrUpstreamTimeout = errors.New("upstream timed out")

	// ErrInvalidRequest marks an inbound request rejected before the chain runs.
	ErrInvalidRequest = errors.New("invalid inbound request")
)

// MiddlewareError records which chain member failed and in which phase.
type MiddlewareError struct {
	Middleware string
	Phase      Phase
	Err        error
}

func (e *MiddlewareError) Error() string {
	return fmt.Sprintf("middleware %s (%s phase): %v", e.Middleware, e.Phase, e.Err)
}

func (e *MiddlewareError) Unwrap() error {
	return e.Err
}
