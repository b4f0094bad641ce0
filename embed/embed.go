// Package embed converts chunk text into fixed-dimension float32 vectors
// through any OpenAI-compatible embedding server (vLLM, Ollama, ONNX
// serving, or OpenAI itself).
//
// The pipeline depends only on the Embedder interface; tests substitute the
// deterministic Stub.
package embed

import (
	"context"
	"log/slog"
	"time"
)

// Embedder converts text to vectors. Implementations must be safe for
// concurrent use.
type Embedder interface {
	// Embed returns the vector for one text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns vectors for multiple texts, input order preserved.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the vector dimension, or 0 before first detection.
	Dimension() int

	// Model returns the model name.
	Model() string
}

// Config configures the embedding client.
type Config struct {
	// Endpoint is the server base URL (e.g. "http://localhost:8003").
	Endpoint string

	// Model name sent with each request.
	Model string

	// Dimension expected of returned vectors. 0 means auto-detect on first call.
	Dimension int

	// BatchSize is the maximum texts per HTTP request. Default: 32.
	BatchSize int

	// Timeout per HTTP request. Default: 30s.
	Timeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New creates an Embedder from config.
func New(cfg Config) Embedder {
	cfg.defaults()
	return newClient(cfg)
}
