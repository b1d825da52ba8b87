// Package ratelimit protects the API with per-IP request limits.
// Reads and mutations carry separate budgets; fund-moving endpoints sit
// in the mutation class. Checks fail open: a broken limiter store must
// not take the API down with it.
package ratelimit

import "time"

// EndpointClass selects which budget applies to a request.
type EndpointClass string

const (
	ClassRead   EndpointClass = "read"
	ClassMutate EndpointClass = "mutate"
)

// Limit is one request budget: at most Requests per Window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Limits maps endpoint classes to budgets. A class with no entry is
// denied outright, so misconfiguration fails closed.
type Limits map[EndpointClass]Limit

// DefaultLimits returns the per-IP budgets.
func DefaultLimits() Limits {
	return Limits{
		ClassRead:   {Requests: 300, Window: time.Minute},
		ClassMutate: {Requests: 60, Window: time.Minute},
	}
}

// Result is the outcome of one rate limit check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int
}
