// Package store persists processed policies, their chunks, and their
// images in SQLite. One policy version maps to one policies row plus its
// dependent rows, inserted in a single transaction so a failed run never
// leaves a policy without its chunks.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/policorpus/dbopen"
	"github.com/hazyhaar/policorpus/embed"
)

// Schema is applied on open. (title, timestamp) is the version identity:
// a second insert of the same version is a constraint violation the
// caller treats as an already-done skip.
const Schema = `
CREATE TABLE IF NOT EXISTS policies (
    id           TEXT PRIMARY KEY,
    title        TEXT NOT NULL,
    timestamp    TEXT NOT NULL,
    source_kind  TEXT NOT NULL,
    source_ref   TEXT NOT NULL,
    text         TEXT NOT NULL DEFAULT '',
    content_hash TEXT NOT NULL DEFAULT '',
    created_at   TEXT NOT NULL,
    UNIQUE (title, timestamp)
);

CREATE TABLE IF NOT EXISTS policy_chunks (
    id        TEXT PRIMARY KEY,
    policy_id TEXT NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
    ordinal   INTEGER NOT NULL,
    text      TEXT NOT NULL,
    embedding BLOB NOT NULL,
    UNIQUE (policy_id, ordinal)
);

CREATE TABLE IF NOT EXISTS policy_images (
    id        TEXT PRIMARY KEY,
    policy_id TEXT NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
    name      TEXT NOT NULL,
    data      BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_policy ON policy_chunks(policy_id, ordinal);
CREATE INDEX IF NOT EXISTS idx_policies_title ON policies(title);
`

// Policy is one stored version. Text is the full extracted document; the
// chunks carry the same content split for retrieval.
type Policy struct {
	ID          string
	Title       string
	Timestamp   string
	SourceKind  string
	SourceRef   string
	Text        string
	ContentHash string
	CreatedAt   string
}

// Chunk is one embedded span of a policy.
type Chunk struct {
	ID       string
	PolicyID string
	Ordinal  int
	Text     string
	Vector   []float32
}

// Image is one stored image of a policy.
type Image struct {
	Name string
	Data []byte
}

// Store wraps the corpus database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the corpus database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	return newStore(db, logger), nil
}

// NewWithDB wraps an already-open database, applying the schema. Used by
// tests running on dbopen.OpenMemory.
func NewWithDB(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return newStore(db, logger), nil
}

func newStore(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Exists reports whether the (title, timestamp) version is already stored.
func (s *Store) Exists(ctx context.Context, title, timestamp string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM policies WHERE title = ? AND timestamp = ?`, title, timestamp).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: exists: %w", err)
	}
	return true, nil
}

// IsUniqueViolation reports whether err is a UNIQUE constraint failure,
// which callers treat as "version already inserted by a concurrent run".
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// InsertPolicy writes the policy with all its chunks and images in one
// transaction. Either everything lands or nothing does.
func (s *Store) InsertPolicy(ctx context.Context, p Policy, chunks []Chunk, images []Image) (string, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt == "" {
		p.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO policies (id, title, timestamp, source_kind, source_ref, text, content_hash, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Title, p.Timestamp, p.SourceKind, p.SourceRef, p.Text, p.ContentHash, p.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert policy: %w", err)
		}
		for _, c := range chunks {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO policy_chunks (id, policy_id, ordinal, text, embedding)
				 VALUES (?, ?, ?, ?, ?)`,
				uuid.NewString(), p.ID, c.Ordinal, c.Text, embed.SerializeVector(c.Vector))
			if err != nil {
				return fmt.Errorf("insert chunk %d: %w", c.Ordinal, err)
			}
		}
		for _, img := range images {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO policy_images (id, policy_id, name, data) VALUES (?, ?, ?, ?)`,
				uuid.NewString(), p.ID, img.Name, img.Data)
			if err != nil {
				return fmt.Errorf("insert image %s: %w", img.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("store: insert %q@%s: %w", p.Title, p.Timestamp, err)
	}

	s.logger.Info("policy stored", "id", p.ID, "title", p.Title,
		"timestamp", p.Timestamp, "chunks", len(chunks), "images", len(images))
	return p.ID, nil
}

// GetByID loads one policy row.
func (s *Store) GetByID(ctx context.Context, id string) (*Policy, error) {
	p := &Policy{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, timestamp, source_kind, source_ref, text, content_hash, created_at
		 FROM policies WHERE id = ?`, id).
		Scan(&p.ID, &p.Title, &p.Timestamp, &p.SourceKind, &p.SourceRef, &p.Text, &p.ContentHash, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", id, err)
	}
	return p, nil
}

// ListByTitle returns every stored version of a title, oldest first.
func (s *Store) ListByTitle(ctx context.Context, title string) ([]Policy, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, timestamp, source_kind, source_ref, text, content_hash, created_at
		 FROM policies WHERE title = ? ORDER BY timestamp`, title)
	if err != nil {
		return nil, fmt.Errorf("store: list by title: %w", err)
	}
	defer rows.Close()
	return scanPolicies(rows)
}

// List returns every stored policy ordered by title then timestamp.
func (s *Store) List(ctx context.Context) ([]Policy, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, timestamp, source_kind, source_ref, text, content_hash, created_at
		 FROM policies ORDER BY title, timestamp`)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()
	return scanPolicies(rows)
}

func scanPolicies(rows *sql.Rows) ([]Policy, error) {
	var out []Policy
	for rows.Next() {
		var p Policy
		if err := rows.Scan(&p.ID, &p.Title, &p.Timestamp, &p.SourceKind, &p.SourceRef, &p.Text, &p.ContentHash, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan policy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// HasContentHash reports whether any version with this content hash is
// already stored, letting callers skip re-embedding unchanged documents.
func (s *Store) HasContentHash(ctx context.Context, hash string) (bool, error) {
	if hash == "" {
		return false, nil
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM policies WHERE content_hash = ? LIMIT 1`, hash).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: content hash lookup: %w", err)
	}
	return true, nil
}

// RemoveByID deletes one policy version; chunks and images go with it via
// cascade. Returns whether a row was deleted.
func (s *Store) RemoveByID(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM policies WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("store: remove %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: remove %s: %w", id, err)
	}
	if n > 0 {
		s.logger.Info("policy removed", "id", id)
	}
	return n > 0, nil
}

// RemoveByTitle deletes every stored version of a title. Returns the
// number of versions deleted.
func (s *Store) RemoveByTitle(ctx context.Context, title string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM policies WHERE title = ?`, title)
	if err != nil {
		return 0, fmt.Errorf("store: remove title %q: %w", title, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: remove title %q: %w", title, err)
	}
	if n > 0 {
		s.logger.Info("policy versions removed", "title", title, "count", n)
	}
	return n, nil
}

// ChunkCount returns the number of chunks stored for a policy.
func (s *Store) ChunkCount(ctx context.Context, policyID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM policy_chunks WHERE policy_id = ?`, policyID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: chunk count: %w", err)
	}
	return n, nil
}
