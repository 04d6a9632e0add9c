// Package engine orchestrates one application attempt end to end:
// navigation, form analysis, filling, validation, submission, challenge
// handling and outcome classification.
package engine

import (
	"time"

	"github.com/google/uuid"
)

// FormState tracks one attempt through its lifecycle. ChallengeRequired is
// re-entrant: a resolved challenge drops the attempt back to InProgress, up
// to the per-attempt challenge bound.
type FormState string

const (
	StateNotStarted        FormState = "not_started"
	StateInProgress        FormState = "in_progress"
	StateChallengeRequired FormState = "challenge_required"
	StateSubmitted         FormState = "submitted"
	StateSuccess           FormState = "success"
	StateFailed            FormState = "failed"
)

// Outcome is the classified end result of an attempt. Ambiguous post-submit
// signals yield OutcomeSubmittedUnverified, never a silent success.
const (
	OutcomeSuccess             = "success"
	OutcomeSubmittedUnverified = "submitted_unverified"
	OutcomeFailed              = "failed"
	OutcomeDeadPosting         = "dead_posting"
)

// Target identifies one posting to apply to.
type Target struct {
	URL     string
	Title   string
	Company string
}

// Artifacts are the externally produced documents an attempt submits.
type Artifacts struct {
	ResumePath  string
	CoverLetter string
}

// Result is the structured report of one attempt. Errors are surfaced here,
// never swallowed.
type Result struct {
	ID                string
	URL               string
	Outcome           string
	State             FormState
	Err               string
	FieldsFilled      []string
	Unmapped          []string
	Evidence          []string
	ChallengeAttempts int
	StartedAt         time.Time
	Elapsed           time.Duration
}

func newResult(url string) *Result {
	return &Result{
		ID:        uuid.NewString()[:8],
		URL:       url,
		State:     StateNotStarted,
		Outcome:   OutcomeFailed,
		StartedAt: time.Now().UTC(),
	}
}
