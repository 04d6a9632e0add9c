// Package store persists durable run state: daily challenge metrics,
// application attempt outcomes, and cached sessions per site. Two backends
// exist, a JSON file store for standalone use and a PostgreSQL store for
// shared deployments.
package store

import (
	"context"
	"time"

	"github.com/jonathan/job-applier/internal/browser"
	"github.com/jonathan/job-applier/internal/challenge"
)

// TierCounts breaks successful resolutions down by the tier that produced
// them.
type TierCounts struct {
	Auto    int `json:"auto"`
	Service int `json:"service"`
	Human   int `json:"human"`
}

// DayMetrics aggregates challenge resolutions for one day and challenge
// type. Counters are monotonic; concurrent attempts must not lose updates.
type DayMetrics struct {
	Attempts  int        `json:"attempts"`
	Successes TierCounts `json:"successes"`
	Failures  int        `json:"failures"`
	Cost      float64    `json:"cost"`
}

// AttemptRecord is the durable summary of one application attempt.
type AttemptRecord struct {
	ID           string        `json:"id"`
	URL          string        `json:"url"`
	Company      string        `json:"company,omitempty"`
	JobTitle     string        `json:"job_title,omitempty"`
	Outcome      string        `json:"outcome"`
	Error        string        `json:"error,omitempty"`
	FieldsFilled int           `json:"fields_filled"`
	Evidence     []string      `json:"evidence,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Session is a cached cookie bundle for a site domain.
type Session struct {
	Domain    string           `json:"domain"`
	Cookies   []browser.Cookie `json:"cookies"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// Store is the durable state surface shared by concurrent attempts.
// Implementations must be safe for concurrent use.
type Store interface {
	challenge.Recorder

	// RecordAttempt appends one application attempt outcome.
	RecordAttempt(ctx context.Context, rec AttemptRecord) error

	// DailyCost reports cumulative paid-solve spend for a calendar day
	// (YYYY-MM-DD). Seeds the budget on startup.
	DailyCost(ctx context.Context, day string) (float64, error)

	// Metrics returns per-challenge-type counters for a day.
	Metrics(ctx context.Context, day string) (map[string]DayMetrics, error)

	// AttemptsFor returns the application attempts started on a day, in
	// insertion order.
	AttemptsFor(ctx context.Context, day string) ([]AttemptRecord, error)

	// CacheSession stores a cookie bundle for a domain, replacing any
	// previous bundle (last writer wins).
	CacheSession(ctx context.Context, domain string, cookies []browser.Cookie, expiresAt time.Time) error

	// Session returns the cached bundle for a domain, or ok=false when
	// none exists or the bundle has expired. Expired bundles are pruned.
	Session(ctx context.Context, domain string) (Session, bool, error)

	Close()
}

// Day formats a time as a metrics day key. Keys are UTC calendar days so
// that budget seeding and metrics reads agree across restarts regardless of
// the host time zone.
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
