// Package rawstore keeps the raw bodies of fetched pages alongside the
// crawl frontier. Storing the bytes lets the scrape stage re-run
// extraction and classification later without touching the network, for
// example after switching to a better classifier model.
package rawstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/policorpus/dbopen"
)

// Schema creates the raw page table. Shares the crawl database.
const Schema = `
CREATE TABLE IF NOT EXISTS raw_pages (
    url          TEXT PRIMARY KEY,
    media_kind   TEXT NOT NULL,
    hash         TEXT NOT NULL,
    body         BLOB NOT NULL,
    fetched_at   INTEGER NOT NULL,
    processed_at INTEGER
);
`

// Page is one stored raw fetch.
type Page struct {
	URL       string
	MediaKind string
	Hash      string
	Body      []byte
	FetchedAt time.Time
	Processed bool
}

// Store persists raw pages.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the raw page store at path. Pass the
// crawl database path to colocate with the frontier.
func Open(path string) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("rawstore: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an already-open database (tests, shared crawl db).
func NewWithDB(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("rawstore: schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Save upserts the raw body of a fetched URL. A refetch replaces the body
// and clears the processed mark, since the content may have changed.
func (s *Store) Save(ctx context.Context, url, mediaKind, hash string, body []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO raw_pages (url, media_kind, hash, body, fetched_at, processed_at)
		 VALUES (?, ?, ?, ?, ?, NULL)
		 ON CONFLICT(url) DO UPDATE SET
		   media_kind = excluded.media_kind, hash = excluded.hash,
		   body = excluded.body, fetched_at = excluded.fetched_at,
		   processed_at = NULL`,
		url, mediaKind, hash, body, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("rawstore: save %s: %w", url, err)
	}
	return nil
}

// MarkProcessed records that the scrape stage has handled a URL.
func (s *Store) MarkProcessed(ctx context.Context, url string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE raw_pages SET processed_at = ? WHERE url = ?`,
		time.Now().UnixMilli(), url)
	if err != nil {
		return fmt.Errorf("rawstore: mark processed %s: %w", url, err)
	}
	return nil
}

// Each streams stored pages to fn in fetch order. With includeProcessed
// false, only pages the scrape stage has not handled yet are visited. A
// non-nil error from fn stops the walk.
func (s *Store) Each(ctx context.Context, includeProcessed bool, fn func(Page) error) error {
	query := `SELECT url, media_kind, hash, body, fetched_at, processed_at
	          FROM raw_pages`
	if !includeProcessed {
		query += ` WHERE processed_at IS NULL`
	}
	query += ` ORDER BY fetched_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("rawstore: each: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p Page
		var fetched int64
		var processed sql.NullInt64
		if err := rows.Scan(&p.URL, &p.MediaKind, &p.Hash, &p.Body, &fetched, &processed); err != nil {
			return fmt.Errorf("rawstore: scan: %w", err)
		}
		p.FetchedAt = time.UnixMilli(fetched)
		p.Processed = processed.Valid
		if err := fn(p); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Get returns one stored page, or nil if the URL was never saved.
func (s *Store) Get(ctx context.Context, url string) (*Page, error) {
	var p Page
	var fetched int64
	var processed sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT url, media_kind, hash, body, fetched_at, processed_at
		 FROM raw_pages WHERE url = ?`, url).
		Scan(&p.URL, &p.MediaKind, &p.Hash, &p.Body, &fetched, &processed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rawstore: get %s: %w", url, err)
	}
	p.FetchedAt = time.UnixMilli(fetched)
	p.Processed = processed.Valid
	return &p, nil
}

// Count returns stored and still-unprocessed page counts.
func (s *Store) Count(ctx context.Context) (total, unprocessed int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(*) - COUNT(processed_at) FROM raw_pages`).
		Scan(&total, &unprocessed)
	if err != nil {
		return 0, 0, fmt.Errorf("rawstore: count: %w", err)
	}
	return total, unprocessed, nil
}
