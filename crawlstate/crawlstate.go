// Package crawlstate persists the crawl frontier in SQLite so an
// interrupted run can resume without re-fetching visited URLs.
//
// Lifecycle of a record: pending → visited, or pending → failed with an
// attempt counter. Failed URLs below the retry ceiling are handed out
// again on subsequent runs; beyond the ceiling they are reported only.
// All mutations go through one Store instance and are serialized, so
// concurrent fetch workers never race status updates for the same URL.
package crawlstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hazyhaar/policorpus/dbopen"
)

// Status of a frontier URL.
type Status string

const (
	StatusPending  Status = "pending"
	StatusInflight Status = "inflight"
	StatusVisited  Status = "visited"
	StatusFailed   Status = "failed"
)

// ErrExhausted is returned by NextPending when no URL remains eligible.
var ErrExhausted = errors.New("crawlstate: frontier exhausted")

// Record is one frontier entry.
type Record struct {
	URL            string
	Status         Status
	DiscoveredFrom string
	Attempts       int
	UpdatedAt      time.Time
}

// Schema creates the frontier table.
const Schema = `
CREATE TABLE IF NOT EXISTS frontier (
    url             TEXT PRIMARY KEY,
    status          TEXT NOT NULL DEFAULT 'pending',
    discovered_from TEXT NOT NULL DEFAULT '',
    attempts        INTEGER NOT NULL DEFAULT 0,
    updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_frontier_status ON frontier(status, attempts);
`

// Store is the persistent crawl frontier.
type Store struct {
	db *sql.DB
	mu sync.Mutex // single-writer discipline over status mutations
}

// Open opens (creating if needed) the frontier database at path. Records
// left inflight by a crashed run are returned to pending.
func Open(path string) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("crawlstate: %w", err)
	}
	s := &Store{db: db}
	if err := s.recoverInflight(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an already-opened database (tests).
func NewWithDB(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("crawlstate: schema: %w", err)
	}
	s := &Store{db: db}
	if err := s.recoverInflight(); err != nil {
		return nil, err
	}
	return s, nil
}

// recoverInflight re-queues URLs a previous process claimed but never marked.
func (s *Store) recoverInflight() error {
	_, err := s.db.Exec(
		`UPDATE frontier SET status = 'pending', updated_at = ? WHERE status = 'inflight'`,
		time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("crawlstate: recover inflight: %w", err)
	}
	return nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Enqueue adds a URL as pending if it has never been seen. Known URLs keep
// their current status; Enqueue is how link discovery feeds the frontier
// without ever downgrading a visited record.
func (s *Store) Enqueue(ctx context.Context, url, discoveredFrom string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO frontier (url, status, discovered_from, updated_at)
		 VALUES (?, 'pending', ?, ?)
		 ON CONFLICT(url) DO NOTHING`,
		url, discoveredFrom, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("crawlstate: enqueue %s: %w", url, err)
	}
	return nil
}

// Mark sets the status of a URL. Marking failed increments the attempt
// counter; marking visited freezes it.
func (s *Store) Mark(ctx context.Context, url string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if status == StatusFailed {
		_, err = s.db.ExecContext(ctx,
			`UPDATE frontier SET status = 'failed', attempts = attempts + 1, updated_at = ?
			 WHERE url = ?`, time.Now().UnixMilli(), url)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE frontier SET status = ?, updated_at = ? WHERE url = ?`,
			string(status), time.Now().UnixMilli(), url)
	}
	if err != nil {
		return fmt.Errorf("crawlstate: mark %s %s: %w", url, status, err)
	}
	return nil
}

// MarkPermanent fails a URL past any retry ceiling. Used for errors that
// retrying cannot fix, like a 404 or a disallowed redirect target.
func (s *Store) MarkPermanent(ctx context.Context, url string, maxAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE frontier SET status = 'failed', attempts = MAX(attempts + 1, ?), updated_at = ?
		 WHERE url = ?`, maxAttempts, time.Now().UnixMilli(), url)
	if err != nil {
		return fmt.Errorf("crawlstate: mark permanent %s: %w", url, err)
	}
	return nil
}

// NextPending claims the next eligible URL: pending first, then failed
// records whose attempts are still under the ceiling. The claimed record
// moves to inflight until Mark retires it, so two workers never receive
// the same URL. Returns ErrExhausted when nothing is eligible.
func (s *Store) NextPending(ctx context.Context, maxAttempts int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var url string
	err := s.db.QueryRowContext(ctx,
		`SELECT url FROM frontier
		 WHERE status = 'pending' OR (status = 'failed' AND attempts < ?)
		 ORDER BY CASE status WHEN 'pending' THEN 0 ELSE 1 END, updated_at
		 LIMIT 1`, maxAttempts).Scan(&url)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrExhausted
	}
	if err != nil {
		return "", fmt.Errorf("crawlstate: next pending: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE frontier SET status = 'inflight', updated_at = ? WHERE url = ?`,
		time.Now().UnixMilli(), url)
	if err != nil {
		return "", fmt.Errorf("crawlstate: claim %s: %w", url, err)
	}
	return url, nil
}

// IsVisited reports whether url has already been fetched successfully.
func (s *Store) IsVisited(ctx context.Context, url string) (bool, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM frontier WHERE url = ?`, url).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("crawlstate: is visited: %w", err)
	}
	return Status(status) == StatusVisited, nil
}

// Get returns the full record for a URL, or nil if unknown.
func (s *Store) Get(ctx context.Context, url string) (*Record, error) {
	var r Record
	var status string
	var updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT url, status, discovered_from, attempts, updated_at
		 FROM frontier WHERE url = ?`, url).
		Scan(&r.URL, &status, &r.DiscoveredFrom, &r.Attempts, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("crawlstate: get: %w", err)
	}
	r.Status = Status(status)
	r.UpdatedAt = time.UnixMilli(updated)
	return &r, nil
}

// Reset clears all frontier state. The next crawl starts from scratch.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM frontier`); err != nil {
		return fmt.Errorf("crawlstate: reset: %w", err)
	}
	return nil
}

// Counts returns the number of records per status, plus how many failed
// records sit beyond the retry ceiling.
func (s *Store) Counts(ctx context.Context, maxAttempts int) (pending, visited, failed, exhausted int, err error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, attempts, COUNT(*) FROM frontier GROUP BY status, attempts`)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("crawlstate: counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var attempts, n int
		if err := rows.Scan(&status, &attempts, &n); err != nil {
			return 0, 0, 0, 0, fmt.Errorf("crawlstate: scan counts: %w", err)
		}
		switch Status(status) {
		case StatusPending:
			pending += n
		case StatusVisited:
			visited += n
		case StatusFailed:
			failed += n
			if attempts >= maxAttempts {
				exhausted += n
			}
		}
	}
	return pending, visited, failed, exhausted, rows.Err()
}
