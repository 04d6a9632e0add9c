package engine

import "errors"

// Terminal attempt errors. Each carries enough context in the Result
// (URL, state, evidence paths) to be actionable without re-running.
var (
	// ErrDeadPosting means the posting is closed or gone; nothing was
	// filled or submitted.
	ErrDeadPosting = errors.New("job posting is no longer open")

	// ErrNoForm means no application form materialized after following
	// apply affordances and waiting.
	ErrNoForm = errors.New("application form not found")

	// ErrRequiredFieldMissing means required fields stayed empty after the
	// corrective pass; the attempt fails without submitting.
	ErrRequiredFieldMissing = errors.New("required fields empty after corrective pass")

	// ErrSubmitNotFound means no submit control could be located.
	ErrSubmitNotFound = errors.New("submit control not found")

	// ErrChallengeRetryExceeded means the challenge resolver hit its
	// per-attempt invocation bound.
	ErrChallengeRetryExceeded = errors.New("challenge retry bound exceeded")
)
