package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/hazyhaar/policorpus/embed"
)

// Match is one similarity-search result.
type Match struct {
	PolicyID    string
	PolicyTitle string
	Timestamp   string
	Ordinal     int
	Text        string
	Score       float64
}

// SearchSimilar brute-force scans every stored chunk and returns the topK
// by cosine similarity against the query vector. The corpus is small
// enough (hundreds of policies) that a scan beats maintaining an index.
func (s *Store) SearchSimilar(ctx context.Context, query []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = 5
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.policy_id, p.title, p.timestamp, c.ordinal, c.text, c.embedding
		 FROM policy_chunks c JOIN policies p ON p.id = c.policy_id`)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var blob []byte
		if err := rows.Scan(&m.PolicyID, &m.PolicyTitle, &m.Timestamp, &m.Ordinal, &m.Text, &blob); err != nil {
			return nil, fmt.Errorf("store: search scan: %w", err)
		}
		vec, err := embed.DeserializeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("store: chunk %s/%d: %w", m.PolicyID, m.Ordinal, err)
		}
		if len(vec) != len(query) {
			continue // stored under a different embedding model
		}
		m.Score = embed.CosineSimilarity(query, vec)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}
