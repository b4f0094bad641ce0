// Package chunk splits normalized policy text into overlapping spans sized
// for retrieval.
//
// Strategy:
//  1. Pack whole paragraphs (double-newline boundaries) into a span until
//     the token budget is hit.
//  2. Split oversized paragraphs with a sliding word window.
//  3. Start each new span with the last OverlapTokens tokens of the
//     previous one, recorded in OverlapPrev.
//
// Splitting is fully deterministic: identical input always yields identical
// boundaries, which the idempotent resync contract depends on. Dropping the
// first OverlapPrev tokens of every span and concatenating reconstructs the
// token stream of the input without gaps.
package chunk

import "strings"

// Options configures splitting.
type Options struct {
	// MaxTokens is the span budget, overlap included. Default: 512.
	MaxTokens int
	// OverlapTokens carried between consecutive spans. Default: 64.
	OverlapTokens int
}

func (o *Options) defaults() {
	if o.MaxTokens <= 0 {
		o.MaxTokens = 512
	}
	if o.OverlapTokens < 0 || o.OverlapTokens >= o.MaxTokens {
		o.OverlapTokens = o.MaxTokens / 8
	}
}

// Span is one retrieval-sized fragment.
type Span struct {
	Index       int    // 0-based ordinal, contiguous
	Text        string // span content
	TokenCount  int    // word-level token count, overlap included
	OverlapPrev int    // leading tokens repeated from the previous span
}

// Split divides text into overlapping spans. Empty or whitespace-only text
// yields nil; text within one budget yields exactly one span.
func Split(text string, opts Options) []Span {
	opts.defaults()

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	if countTokens(trimmed) <= opts.MaxTokens {
		return []Span{{Index: 0, Text: trimmed, TokenCount: countTokens(trimmed)}}
	}

	b := builder{opts: opts}
	for _, para := range paragraphs(trimmed) {
		b.addParagraph(para)
	}
	b.flush()
	return b.spans
}

type builder struct {
	opts    Options
	spans   []Span
	current []string // paragraph texts in the open span
	tokens  int      // token count of current, overlap included
	overlap []string // overlap tokens seeding the open span
}

// addParagraph packs para into the open span, flushing and windowing as needed.
func (b *builder) addParagraph(para string) {
	n := countTokens(para)

	if b.tokens+n <= b.opts.MaxTokens {
		b.current = append(b.current, para)
		b.tokens += n
		return
	}

	b.flush()

	// After a flush the new span holds only the overlap seed; a paragraph
	// that still does not fit gets the sliding window.
	if b.tokens+n <= b.opts.MaxTokens {
		b.current = append(b.current, para)
		b.tokens += n
		return
	}
	b.window(tokenize(para))
}

// window splits one oversized paragraph's tokens across spans.
func (b *builder) window(words []string) {
	for len(words) > 0 {
		room := b.opts.MaxTokens - b.tokens
		if room <= 0 {
			b.flush()
			room = b.opts.MaxTokens - b.tokens
		}
		take := room
		if take > len(words) {
			take = len(words)
		}
		b.current = append(b.current, strings.Join(words[:take], " "))
		b.tokens += take
		words = words[take:]
		if len(words) > 0 {
			b.flush()
		}
	}
}

// flush closes the open span and seeds the next with overlap tokens.
func (b *builder) flush() {
	if len(b.current) == 0 {
		return
	}

	parts := b.current
	if len(b.overlap) > 0 {
		parts = append([]string{strings.Join(b.overlap, " ")}, parts...)
	}
	text := strings.Join(parts, "\n\n")

	span := Span{
		Index:       len(b.spans),
		Text:        text,
		TokenCount:  b.tokens,
		OverlapPrev: len(b.overlap),
	}
	b.spans = append(b.spans, span)

	// Seed the next span with this one's tail.
	tail := tokenize(text)
	k := b.opts.OverlapTokens
	if k > len(tail) {
		k = len(tail)
	}
	b.overlap = tail[len(tail)-k:]
	b.current = nil
	b.tokens = k
}

// paragraphs splits on blank lines, dropping empties.
func paragraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func tokenize(text string) []string { return strings.Fields(text) }

func countTokens(text string) int { return len(strings.Fields(text)) }

// CountTokens reports the word-level token count used by the splitter.
func CountTokens(text string) int { return countTokens(text) }
