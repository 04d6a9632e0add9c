package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/job-applier/internal/browser"
	"github.com/jonathan/job-applier/internal/challenge"
)

// PGStore backs the Store interface with PostgreSQL, for deployments where
// several workers share metrics, budget state and cached sessions.
type PGStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PGStore)(nil)

const pgSchema = `
CREATE TABLE IF NOT EXISTS challenge_metrics (
	day            date NOT NULL,
	challenge_type text NOT NULL,
	attempts       int NOT NULL DEFAULT 0,
	auto_solved    int NOT NULL DEFAULT 0,
	service_solved int NOT NULL DEFAULT 0,
	human_solved   int NOT NULL DEFAULT 0,
	failures       int NOT NULL DEFAULT 0,
	cost           double precision NOT NULL DEFAULT 0,
	PRIMARY KEY (day, challenge_type)
);
CREATE TABLE IF NOT EXISTS application_attempts (
	id            text PRIMARY KEY,
	url           text NOT NULL,
	company       text,
	job_title     text,
	outcome       text NOT NULL,
	error         text,
	fields_filled int NOT NULL DEFAULT 0,
	evidence      jsonb,
	started_at    timestamptz NOT NULL,
	elapsed_ms    bigint NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS cached_sessions (
	domain     text PRIMARY KEY,
	cookies    jsonb NOT NULL,
	expires_at timestamptz NOT NULL
);`

// ConnectPG opens a pool, verifies it, and ensures the schema exists.
func ConnectPG(ctx context.Context, databaseURL string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return &PGStore{pool: pool}, nil
}

func (s *PGStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PGStore) RecordResolution(ctx context.Context, c *challenge.Challenge, r challenge.Resolution) error {
	auto, service, human, failures := 0, 0, 0, 0
	if r.Success {
		switch r.Tier {
		case challenge.TierAuto:
			auto = 1
		case challenge.TierService:
			service = 1
		case challenge.TierHuman:
			human = 1
		}
	} else {
		failures = 1
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO challenge_metrics (day, challenge_type, attempts, auto_solved, service_solved, human_solved, failures, cost)
		 VALUES ((NOW() AT TIME ZONE 'utc')::date, $1, 1, $2, $3, $4, $5, $6)
		 ON CONFLICT (day, challenge_type) DO UPDATE SET
			attempts = challenge_metrics.attempts + 1,
			auto_solved = challenge_metrics.auto_solved + $2,
			service_solved = challenge_metrics.service_solved + $3,
			human_solved = challenge_metrics.human_solved + $4,
			failures = challenge_metrics.failures + $5,
			cost = challenge_metrics.cost + $6`,
		string(c.Type), auto, service, human, failures, r.Cost,
	)
	if err != nil {
		return fmt.Errorf("failed to record resolution: %w", err)
	}
	return nil
}

func (s *PGStore) RecordAttempt(ctx context.Context, rec AttemptRecord) error {
	evidence, err := json.Marshal(rec.Evidence)
	if err != nil {
		return fmt.Errorf("failed to encode evidence list: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO application_attempts (id, url, company, job_title, outcome, error, fields_filled, evidence, started_at, elapsed_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.URL, rec.Company, rec.JobTitle, rec.Outcome, rec.Error,
		rec.FieldsFilled, evidence, rec.StartedAt, rec.Elapsed.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

func (s *PGStore) DailyCost(ctx context.Context, day string) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(cost), 0) FROM challenge_metrics WHERE day = $1`, day,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to read daily cost: %w", err)
	}
	return total, nil
}

func (s *PGStore) Metrics(ctx context.Context, day string) (map[string]DayMetrics, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT challenge_type, attempts, auto_solved, service_solved, human_solved, failures, cost
		 FROM challenge_metrics WHERE day = $1`, day,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read metrics: %w", err)
	}
	defer rows.Close()

	out := make(map[string]DayMetrics)
	for rows.Next() {
		var typ string
		var m DayMetrics
		if err := rows.Scan(&typ, &m.Attempts, &m.Successes.Auto, &m.Successes.Service,
			&m.Successes.Human, &m.Failures, &m.Cost); err != nil {
			return nil, fmt.Errorf("failed to scan metrics row: %w", err)
		}
		out[typ] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read metrics: %w", err)
	}
	return out, nil
}

func (s *PGStore) AttemptsFor(ctx context.Context, day string) ([]AttemptRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, url, company, job_title, outcome, error, fields_filled, evidence, started_at, elapsed_ms
		 FROM application_attempts WHERE (started_at AT TIME ZONE 'utc')::date = $1 ORDER BY started_at`, day,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read attempts: %w", err)
	}
	defer rows.Close()

	var out []AttemptRecord
	for rows.Next() {
		var rec AttemptRecord
		var evidence []byte
		var elapsedMS int64
		if err := rows.Scan(&rec.ID, &rec.URL, &rec.Company, &rec.JobTitle, &rec.Outcome,
			&rec.Error, &rec.FieldsFilled, &evidence, &rec.StartedAt, &elapsedMS); err != nil {
			return nil, fmt.Errorf("failed to scan attempt row: %w", err)
		}
		if len(evidence) > 0 {
			if err := json.Unmarshal(evidence, &rec.Evidence); err != nil {
				return nil, fmt.Errorf("failed to decode evidence for attempt %s: %w", rec.ID, err)
			}
		}
		rec.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read attempts: %w", err)
	}
	return out, nil
}

func (s *PGStore) CacheSession(ctx context.Context, domain string, cookies []browser.Cookie, expiresAt time.Time) error {
	data, err := json.Marshal(cookies)
	if err != nil {
		return fmt.Errorf("failed to encode cookies: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO cached_sessions (domain, cookies, expires_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (domain) DO UPDATE SET cookies = $2, expires_at = $3`,
		domain, data, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to cache session for %s: %w", domain, err)
	}
	return nil
}

func (s *PGStore) Session(ctx context.Context, domain string) (Session, bool, error) {
	var data []byte
	var expiresAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT cookies, expires_at FROM cached_sessions WHERE domain = $1 AND expires_at > NOW()`,
		domain,
	).Scan(&data, &expiresAt)
	if err == pgx.ErrNoRows {
		// Prune anything expired while we are here.
		_, _ = s.pool.Exec(ctx, `DELETE FROM cached_sessions WHERE domain = $1 AND expires_at <= NOW()`, domain)
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("failed to read session for %s: %w", domain, err)
	}

	var cookies []browser.Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return Session{}, false, fmt.Errorf("failed to decode session for %s: %w", domain, err)
	}
	return Session{Domain: domain, Cookies: cookies, ExpiresAt: expiresAt}, true, nil
}
