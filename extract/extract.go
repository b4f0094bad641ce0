// Package extract converts raw fetched bytes into normalized policy
// content: markdown, plain text, and any embedded images.
//
// HTML goes through sanitization, text/title/image collection, and a
// markdown conversion. PDF runs an ordered list of strategies — structured
// content-stream extraction first, a raw literal scan as fallback — and
// short-circuits on the first one that yields usable text. Callers see only
// success or a terminal failure; which strategy won is an implementation
// detail surfaced in the result for logging.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Kind of raw input.
type Kind string

const (
	KindHTML Kind = "html"
	KindPDF  Kind = "pdf"
)

// ErrNoContent is the terminal extraction failure: every strategy ran and
// none produced usable text.
var ErrNoContent = errors.New("extract: no usable text content")

// Image is one embedded or referenced image.
type Image struct {
	Name string // filename or source URL
	Data []byte // nil when the image is a remote reference not yet fetched
}

// Content is the extractor's output contract.
type Content struct {
	Title    string
	Markdown string
	Text     string
	Images   []Image
	Strategy string // which strategy produced the text (logging only)
}

// Options configures extraction.
type Options struct {
	// SourceURL resolves relative links during markdown conversion.
	SourceURL string
	// MaxImages caps collected images. Default: 8.
	MaxImages int
	Logger    *slog.Logger
}

func (o *Options) defaults() {
	if o.MaxImages <= 0 {
		o.MaxImages = 8
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Extract dispatches on kind and normalizes the result. A nil error means
// Text is non-empty.
func Extract(ctx context.Context, raw []byte, kind Kind, opts Options) (*Content, error) {
	opts.defaults()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var c *Content
	var err error
	switch kind {
	case KindHTML:
		c, err = extractHTML(raw, opts)
	case KindPDF:
		c, err = extractPDF(ctx, raw, opts)
	default:
		return nil, fmt.Errorf("extract: unsupported kind %q", kind)
	}
	if err != nil {
		return nil, err
	}

	c.Text = normalizeWhitespace(c.Text)
	if c.Text == "" {
		return nil, ErrNoContent
	}
	if strings.TrimSpace(c.Markdown) == "" {
		c.Markdown = c.Text
	}
	return c, nil
}

// normalizeWhitespace collapses runs of blank lines and trims each line,
// preserving paragraph boundaries for the chunker.
func normalizeWhitespace(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	var out []string
	blank := true
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	// Drop a trailing blank.
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}
