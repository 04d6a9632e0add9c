package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonathan/job-applier/internal/browser"
	"github.com/jonathan/job-applier/internal/challenge"
)

// FileStore keeps durable state in JSON files under a data directory.
// Writes go through a single mutex, which is enough for the handful of
// concurrent attempts one process runs.
type FileStore struct {
	mu       sync.Mutex
	dir      string
	metrics  map[string]map[string]DayMetrics // day -> challenge type
	attempts []AttemptRecord
	sessions map[string]Session
}

const (
	metricsFile  = "challenge_metrics.json"
	attemptsFile = "attempts.json"
	sessionsFile = "sessions.json"
)

// NewFileStore loads existing state from dir, creating it when absent.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}

	s := &FileStore{
		dir:      dir,
		metrics:  make(map[string]map[string]DayMetrics),
		sessions: make(map[string]Session),
	}
	if err := loadJSON(filepath.Join(dir, metricsFile), &s.metrics); err != nil {
		return nil, err
	}
	if err := loadJSON(filepath.Join(dir, attemptsFile), &s.attempts); err != nil {
		return nil, err
	}
	if err := loadJSON(filepath.Join(dir, sessionsFile), &s.sessions); err != nil {
		return nil, err
	}
	return s, nil
}

func loadJSON(path string, dst any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// saveLocked writes one state file. Callers hold the mutex.
func (s *FileStore) saveLocked(name string, src any) error {
	data, err := json.MarshalIndent(src, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) RecordResolution(_ context.Context, c *challenge.Challenge, r challenge.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := Day(time.Now())
	byType, ok := s.metrics[day]
	if !ok {
		byType = make(map[string]DayMetrics)
		s.metrics[day] = byType
	}

	m := byType[string(c.Type)]
	m.Attempts++
	m.Cost += r.Cost
	if r.Success {
		switch r.Tier {
		case challenge.TierAuto:
			m.Successes.Auto++
		case challenge.TierService:
			m.Successes.Service++
		case challenge.TierHuman:
			m.Successes.Human++
		}
	} else {
		m.Failures++
	}
	byType[string(c.Type)] = m

	return s.saveLocked(metricsFile, s.metrics)
}

func (s *FileStore) RecordAttempt(_ context.Context, rec AttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts = append(s.attempts, rec)
	return s.saveLocked(attemptsFile, s.attempts)
}

func (s *FileStore) DailyCost(_ context.Context, day string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0.0
	for _, m := range s.metrics[day] {
		total += m.Cost
	}
	return total, nil
}

func (s *FileStore) Metrics(_ context.Context, day string) (map[string]DayMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]DayMetrics, len(s.metrics[day]))
	for typ, m := range s.metrics[day] {
		out[typ] = m
	}
	return out, nil
}

func (s *FileStore) AttemptsFor(_ context.Context, day string) ([]AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []AttemptRecord
	for _, rec := range s.attempts {
		if Day(rec.StartedAt) == day {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *FileStore) CacheSession(_ context.Context, domain string, cookies []browser.Cookie, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[domain] = Session{Domain: domain, Cookies: cookies, ExpiresAt: expiresAt}
	return s.saveLocked(sessionsFile, s.sessions)
}

func (s *FileStore) Session(_ context.Context, domain string) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[domain]
	if !ok {
		return Session{}, false, nil
	}
	if !sess.ExpiresAt.After(time.Now()) {
		delete(s.sessions, domain)
		if err := s.saveLocked(sessionsFile, s.sessions); err != nil {
			return Session{}, false, err
		}
		return Session{}, false, nil
	}
	return sess, true, nil
}

func (s *FileStore) Close() {}
