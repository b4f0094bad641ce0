package embed

import (
	"context"
	"fmt"
	"hash/fnv"
)

// Stub is a deterministic Embedder for tests: the vector is derived from a
// hash of the text, so identical text always embeds identically.
type Stub struct {
	Dim int // default 8

	// FailAfter, when > 0, makes the (FailAfter+1)-th single-text call and
	// every later one fail — simulates a partial embedding outage.
	FailAfter int
	calls     int
}

func (s *Stub) dim() int {
	if s.Dim <= 0 {
		return 8
	}
	return s.Dim
}

func (s *Stub) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (s *Stub) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		s.calls++
		if s.FailAfter > 0 && s.calls > s.FailAfter {
			return nil, fmt.Errorf("embed stub: simulated failure on call %d", s.calls)
		}
		h := fnv.New32a()
		h.Write([]byte(text))
		seed := h.Sum32()
		vec := make([]float32, s.dim())
		for j := range vec {
			seed = seed*1664525 + 1013904223
			vec[j] = float32(seed%1000)/1000 - 0.5
		}
		out[i] = vec
	}
	return out, nil
}

func (s *Stub) Dimension() int { return s.dim() }
func (s *Stub) Model() string  { return "stub" }
