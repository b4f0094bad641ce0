// Package scraper turns stored raw pages into processed version
// directories. It is the offline half of the crawl: given bodies the
// crawler already fetched, it re-runs extraction and classification, so a
// corpus can be rebuilt with a different classifier without refetching.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/policorpus/classify"
	"github.com/hazyhaar/policorpus/extract"
	"github.com/hazyhaar/policorpus/rawstore"
	"github.com/hazyhaar/policorpus/version"
)

// Config tunes one scrape run.
type Config struct {
	// All re-processes pages already marked processed; default is only
	// pages the scrape stage has not handled yet.
	All    bool
	Logger *slog.Logger
}

// Summary reports one scrape run.
type Summary struct {
	Pages       int
	Policies    int
	NonPolicies int
	Failed      int
}

// Scraper processes raw pages into versions.
type Scraper struct {
	cfg        Config
	raw        *rawstore.Store
	classifier classify.Classifier
	builder    *version.Builder
}

// New assembles a Scraper.
func New(cfg Config, raw *rawstore.Store, classifier classify.Classifier, builder *version.Builder) *Scraper {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scraper{cfg: cfg, raw: raw, classifier: classifier, builder: builder}
}

// Run walks the raw store and writes a version directory for every page
// judged to be a policy. Item failures are counted, never fatal.
func (s *Scraper) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{}
	err := s.raw.Each(ctx, s.cfg.All, func(p rawstore.Page) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		summary.Pages++
		s.processPage(ctx, p, summary)
		return nil
	})
	if err != nil {
		return summary, fmt.Errorf("scraper: %w", err)
	}

	s.cfg.Logger.Info("scrape finished", "pages", summary.Pages,
		"policies", summary.Policies, "non_policies", summary.NonPolicies,
		"failed", summary.Failed)
	return summary, nil
}

func (s *Scraper) processPage(ctx context.Context, p rawstore.Page, summary *Summary) {
	log := s.cfg.Logger.With("url", p.URL)

	kind := extract.KindHTML
	if p.MediaKind == "pdf" {
		kind = extract.KindPDF
	}

	content, err := extract.Extract(ctx, p.Body, kind, extract.Options{SourceURL: p.URL, Logger: log})
	if err != nil {
		if errors.Is(err, extract.ErrNoContent) {
			log.Info("no extractable content")
			s.raw.MarkProcessed(ctx, p.URL)
			return
		}
		log.Error("extract failed", "error", err)
		summary.Failed++
		return
	}

	decision, err := s.classifier.Classify(ctx, content.Text)
	if err != nil {
		// left unmarked so the next run retries it
		log.Error("classify failed", "error", err)
		summary.Failed++
		return
	}
	if !decision.IsPolicy {
		summary.NonPolicies++
		s.raw.MarkProcessed(ctx, p.URL)
		return
	}

	meta := version.Meta{
		Title:      decision.Title,
		Timestamp:  version.Now(),
		SourceKind: version.SourceURL,
		SourceRef:  p.URL,
	}
	if _, err := s.builder.Build(meta, content); err != nil {
		log.Error("version build failed", "error", err)
		summary.Failed++
		return
	}
	summary.Policies++
	s.raw.MarkProcessed(ctx, p.URL)
}
