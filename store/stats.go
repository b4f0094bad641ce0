package store

import (
	"context"
	"fmt"
)

// Stats summarizes the corpus contents.
type Stats struct {
	Policies       int
	DistinctTitles int
	Chunks         int
	Images         int
	BySourceKind   map[string]int
}

// Stats counts stored policies, chunks, and images.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{BySourceKind: map[string]int{}}

	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT title) FROM policies`)
	if err := row.Scan(&st.Policies, &st.DistinctTitles); err != nil {
		return nil, fmt.Errorf("store: stats policies: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM policy_chunks`).Scan(&st.Chunks); err != nil {
		return nil, fmt.Errorf("store: stats chunks: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM policy_images`).Scan(&st.Images); err != nil {
		return nil, fmt.Errorf("store: stats images: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT source_kind, COUNT(*) FROM policies GROUP BY source_kind`)
	if err != nil {
		return nil, fmt.Errorf("store: stats by kind: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("store: stats by kind: %w", err)
		}
		st.BySourceKind[kind] = n
	}
	return st, rows.Err()
}
