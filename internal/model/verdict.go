package model

import "fmt"

// VerdictStatus is the decision a middleware returns.
type VerdictStatus int

// Wire values of the ResponseStatus enum.
const (
	StatusSuccess  VerdictStatus = 0
	StatusContinue VerdictStatus = 1
	StatusStop     VerdictStatus = 2
)

func (s VerdictStatus) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusContinue:
		return "CONTINUE"
	case StatusStop:
		return "STOP"
	default:
		return fmt.Sprintf("VerdictStatus(%d)", int(s))
	}
}

// Valid reports whether s is a known status.
func (s VerdictStatus) Valid() bool {
	return s == StatusSuccess || s == StatusContinue || s == StatusStop
}

// Verdict is the structured decision returned by one middleware call.
// Body and StatusCode are nil when the middleware did not set them.
type Verdict struct {
	Status         VerdictStatus
	AddedHeaders   Headers
	RemovedHeaders []string
	Body           *string
	StatusCode     *int
}

// Phase identifies which pass of the chain a call belongs to.
type Phase string

const (
	PhaseRequest  Phase = "request"
	PhaseResponse Phase = "response"
)
