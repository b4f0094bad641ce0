// Package pdfingest feeds manually collected PDFs through the same
// extract/classify/version chain the crawler uses. Input folders are
// named policies_<YYYYMMDD>; by default the newest one is ingested.
package pdfingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hazyhaar/policorpus/classify"
	"github.com/hazyhaar/policorpus/extract"
	"github.com/hazyhaar/policorpus/fetcher"
	"github.com/hazyhaar/policorpus/version"
)

const folderPrefix = "policies_"

// ErrNoBatch means the source directory holds no policies_<YYYYMMDD>
// folder to ingest.
var ErrNoBatch = errors.New("pdfingest: no batch folder found")

// Config tunes one ingest run.
type Config struct {
	SourceDir string // root holding policies_<YYYYMMDD> folders
	Logger    *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Summary reports one ingest run.
type Summary struct {
	Batch       string // folder ingested
	Processed   int
	NonPolicies int
	Failed      int
}

// Ingester runs local-PDF ingestion.
type Ingester struct {
	cfg        Config
	classifier classify.Classifier
	builder    *version.Builder
}

// New assembles an Ingester.
func New(cfg Config, classifier classify.Classifier, builder *version.Builder) *Ingester {
	cfg.defaults()
	return &Ingester{cfg: cfg, classifier: classifier, builder: builder}
}

// Batches returns every dated batch folder under SourceDir, oldest first.
func (g *Ingester) Batches() ([]string, error) {
	entries, err := os.ReadDir(g.cfg.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("pdfingest: read %s: %w", g.cfg.SourceDir, err)
	}

	var batches []string
	for _, e := range entries {
		if e.IsDir() && validBatchName(e.Name()) {
			batches = append(batches, e.Name())
		}
	}
	sort.Strings(batches) // YYYYMMDD sorts chronologically
	return batches, nil
}

// LatestBatch returns the newest dated batch folder under SourceDir.
func (g *Ingester) LatestBatch() (string, error) {
	batches, err := g.Batches()
	if err != nil {
		return "", err
	}
	if len(batches) == 0 {
		return "", ErrNoBatch
	}
	return batches[len(batches)-1], nil
}

// RunAll ingests every batch folder in chronological order and merges the
// per-batch counts.
func (g *Ingester) RunAll(ctx context.Context) (*Summary, error) {
	batches, err := g.Batches()
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return nil, ErrNoBatch
	}

	total := &Summary{Batch: "all"}
	for _, batch := range batches {
		s, err := g.Run(ctx, batch)
		if err != nil {
			return total, err
		}
		total.Processed += s.Processed
		total.NonPolicies += s.NonPolicies
		total.Failed += s.Failed
	}
	return total, nil
}

// validBatchName accepts policies_<YYYYMMDD> with a parseable date.
func validBatchName(name string) bool {
	if !strings.HasPrefix(name, folderPrefix) {
		return false
	}
	_, err := time.Parse("20060102", strings.TrimPrefix(name, folderPrefix))
	return err == nil
}

// Run ingests one batch folder. An empty batch name selects the latest.
// Every PDF in the folder passes through extraction and classification;
// policies get a version directory under the builder's root, non-policies
// are counted and skipped.
func (g *Ingester) Run(ctx context.Context, batch string) (*Summary, error) {
	if batch == "" {
		var err error
		batch, err = g.LatestBatch()
		if err != nil {
			return nil, err
		}
	}
	dir := filepath.Join(g.cfg.SourceDir, batch)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("pdfingest: read batch %s: %w", dir, err)
	}

	summary := &Summary{Batch: batch}
	for _, e := range entries {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		g.ingestOne(ctx, filepath.Join(dir, e.Name()), summary)
	}

	g.cfg.Logger.Info("pdf ingest finished", "batch", batch,
		"processed", summary.Processed, "non_policies", summary.NonPolicies,
		"failed", summary.Failed)
	return summary, nil
}

func (g *Ingester) ingestOne(ctx context.Context, path string, summary *Summary) {
	log := g.cfg.Logger.With("pdf", path)

	res, err := fetcher.ReadLocal(path)
	if err != nil {
		log.Error("read failed", "error", err)
		summary.Failed++
		return
	}

	content, err := extract.Extract(ctx, res.Body, extract.KindPDF, extract.Options{Logger: log})
	if err != nil {
		log.Error("extract failed", "error", err)
		summary.Failed++
		return
	}

	decision, err := g.classifier.Classify(ctx, content.Text)
	if err != nil {
		log.Error("classify failed", "error", err)
		summary.Failed++
		return
	}
	if !decision.IsPolicy {
		log.Info("not a policy, skipped")
		summary.NonPolicies++
		return
	}

	meta := version.Meta{
		Title:      decision.Title,
		Timestamp:  version.Now(),
		SourceKind: version.SourceLocalPDF,
		SourceRef:  path,
	}
	if _, err := g.builder.Build(meta, content); err != nil {
		log.Error("version build failed", "error", err)
		summary.Failed++
		return
	}
	summary.Processed++
}
