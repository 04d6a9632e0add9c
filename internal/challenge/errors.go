package challenge

import (
	"errors"
	"fmt"
)

// Sentinel errors for resolver control flow. Callers branch on these with
// errors.Is.
var (
	// ErrRateLimited means the rolling-hour attempt cap was hit. Fatal for
	// the current application attempt, never retried.
	ErrRateLimited = errors.New("challenge rate limit reached")

	// ErrBudgetExhausted means the daily solving budget cannot cover the
	// estimated cost. The paid tier is skipped for the rest of the day.
	ErrBudgetExhausted = errors.New("daily challenge budget exhausted")

	// ErrUnresolved means every configured tier failed.
	ErrUnresolved = errors.New("challenge unresolved after all tiers")
)

// ServiceError wraps a failure from the external solving service.
type ServiceError struct {
	Provider string
	Message  string
	Cause    error
}

func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("solving service %s: %s: %v", e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("solving service %s: %s", e.Provider, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Cause
}
