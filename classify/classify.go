// Package classify answers one question about extracted text: is this an
// actual institutional policy, and if so under what title?
//
// The decision comes from a remote language model behind an
// OpenAI-compatible chat endpoint. The pipeline treats the service as slow
// and unreliable: failures surface as errors distinct from a genuine
// negative decision, so operators can tell "not a policy" apart from
// "classification service unavailable".
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Decision is the classifier's verdict.
type Decision struct {
	IsPolicy bool   `json:"is_policy"`
	Title    string `json:"title"`
}

// Classifier decides whether text is a policy document.
// Implementations must be safe for concurrent use.
type Classifier interface {
	Classify(ctx context.Context, text string) (Decision, error)
}

// Config configures the LLM classifier.
type Config struct {
	// Endpoint is the OpenAI-compatible base URL (e.g. "http://localhost:11434/v1").
	Endpoint string
	// Model is the chat model name.
	Model string
	// Timeout bounds one classification call. Default: 60s.
	Timeout time.Duration
	// MaxChars caps how much text is sent to the model. Default: 8000.
	MaxChars int
	Logger   *slog.Logger
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxChars <= 0 {
		c.MaxChars = 8000
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

const systemPrompt = `You review text extracted from university and corporate web pages and documents.
Decide whether the text is an actual institutional policy document (rules, procedures, entitlements, governance) as opposed to a news item, navigation page, form, or marketing content.
Respond with JSON only, no prose: {"is_policy": true|false, "title": "official policy title or empty string"}.
The title must be the document's own title, not a summary you invent.`

// LLM is the production Classifier backed by langchaingo.
type LLM struct {
	client llms.Model
	cfg    Config
}

// New creates an LLM classifier. The token is a placeholder for local
// OpenAI-compatible services that do not authenticate.
func New(cfg Config) (*LLM, error) {
	cfg.defaults()
	client, err := openai.New(
		openai.WithBaseURL(cfg.Endpoint),
		openai.WithToken("none"),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("classify: new client: %w", err)
	}
	return &LLM{client: client, cfg: cfg}, nil
}

// Classify sends the text to the model and parses its JSON verdict.
// Malformed responses are retried twice before surfacing an error; the
// caller decides what a classification failure means for the candidate.
func (l *LLM) Classify(ctx context.Context, text string) (Decision, error) {
	if len(text) > l.cfg.MaxChars {
		text = text[:l.cfg.MaxChars]
	}

	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	content := []llms.MessageContent{
		{Role: llms.ChatMessageTypeSystem, Parts: []llms.ContentPart{llms.TextPart(systemPrompt)}},
		{Role: llms.ChatMessageTypeHuman, Parts: []llms.ContentPart{llms.TextPart(text)}},
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		resp, err := l.client.GenerateContent(ctx, content,
			llms.WithTemperature(0.0), llms.WithJSONMode())
		if err != nil {
			return Decision{}, fmt.Errorf("classify: generate: %w", err)
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("classify: empty response")
			continue
		}

		d, err := parseDecision(resp.Choices[0].Content)
		if err != nil {
			l.cfg.Logger.Debug("classify: malformed verdict", "attempt", attempt+1, "error", err)
			lastErr = err
			continue
		}
		return d, nil
	}
	return Decision{}, lastErr
}

// parseDecision unmarshals the model's JSON, tolerating surrounding prose
// or markdown fences by slicing to the outermost braces.
func parseDecision(raw string) (Decision, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return Decision{}, fmt.Errorf("classify: no JSON object in %q", truncate(raw, 120))
	}

	var d Decision
	if err := json.Unmarshal([]byte(raw[start:end+1]), &d); err != nil {
		return Decision{}, fmt.Errorf("classify: parse verdict: %w", err)
	}
	d.Title = strings.TrimSpace(d.Title)
	if d.IsPolicy && d.Title == "" {
		return Decision{}, fmt.Errorf("classify: positive verdict without title")
	}
	return d, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
