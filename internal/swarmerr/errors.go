// Package swarmerr defines the sentinel error taxonomy shared by every
// coordination core component.
package swarmerr

import "errors"

// Input/validation errors.
var (
	ErrBadRequest    = errors.New("bad request")
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Policy errors.
var (
	ErrRateLimited           = errors.New("rate limited")
	ErrForbidden             = errors.New("forbidden")
	ErrRelaunchCeilingReached = errors.New("relaunch ceiling reached")
)

// Capacity/timeout errors.
var (
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	ErrTimeout              = errors.New("timeout")
	ErrCancelled            = errors.New("cancelled")
)

// Coordination errors.
var (
	ErrNoHealthyAgent  = errors.New("no healthy agent")
	ErrStaleHeartbeat  = errors.New("stale heartbeat")
)

// ErrInternal marks an unexpected invariant violation. Call sites return
// it wrapped around the underlying error's text and do not log it.
var ErrInternal = errors.New("internal error")

// Code is a short machine-readable label mirroring the error taxonomy in
// the external interface contract, for inclusion in HTTP/event payloads.
type Code string

const (
	CodeBadRequest             Code = "BadRequest"
	CodeNotFound               Code = "NotFound"
	CodeAlreadyExists          Code = "AlreadyExists"
	CodeRateLimited            Code = "RateLimited"
	CodeForbidden              Code = "Forbidden"
	CodeRelaunchCeilingReached Code = "RelaunchCeilingReached"
	CodeInsufficientCapacity   Code = "InsufficientCapacity"
	CodeTimeout                Code = "Timeout"
	CodeCancelled              Code = "Cancelled"
	CodeNoHealthyAgent         Code = "NoHealthyAgent"
	CodeStaleHeartbeat         Code = "StaleHeartbeat"
	CodeInternal               Code = "Internal"
)

// CodeFor maps a sentinel error to its wire code. Unknown errors map to
// CodeInternal so callers never leak an unclassified error string.
func CodeFor(err error) Code {
	switch {
	case errors.Is(err, ErrBadRequest):
		return CodeBadRequest
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrAlreadyExists):
		return CodeAlreadyExists
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrRelaunchCeilingReached):
		return CodeRelaunchCeilingReached
	case errors.Is(err, ErrInsufficientCapacity):
		return CodeInsufficientCapacity
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrCancelled):
		return CodeCancelled
	case errors.Is(err, ErrNoHealthyAgent):
		return CodeNoHealthyAgent
	case errors.Is(err, ErrStaleHeartbeat):
		return CodeStaleHeartbeat
	default:
		return CodeInternal
	}
}
