// Package syncer reconciles the on-disk version ledger with the corpus
// database: every complete version directory listed in the ledger ends up
// stored with its chunks embedded, exactly once.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/hazyhaar/policorpus/chunk"
	"github.com/hazyhaar/policorpus/embed"
	"github.com/hazyhaar/policorpus/store"
	"github.com/hazyhaar/policorpus/version"
)

// Config wires the syncer's collaborators.
type Config struct {
	ScrapedDir  string // root for source kind "url"
	LocalDir    string // root for source kind "local-pdf"
	LedgerPath  string
	Concurrency int // policies embedded in parallel, default 4
	Chunk       chunk.Options
	Logger      *slog.Logger
}

func (c *Config) defaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Summary counts the outcome of one Populate run.
type Summary struct {
	mu         sync.Mutex
	Processed  int // newly inserted
	Skipped    int // already stored
	Incomplete int // ledger row without a complete directory
	Failed     int // embed or insert errors
}

func (s *Summary) add(field *int) {
	s.mu.Lock()
	*field++
	s.mu.Unlock()
}

// Syncer pushes ledger entries into the store.
type Syncer struct {
	cfg      Config
	store    *store.Store
	embedder embed.Embedder
}

// New builds a Syncer. The store and embedder are required.
func New(cfg Config, st *store.Store, em embed.Embedder) *Syncer {
	cfg.defaults()
	return &Syncer{cfg: cfg, store: st, embedder: em}
}

// Populate walks the ledger and inserts every version not yet stored.
// Entries are processed concurrently; one failing policy never blocks the
// rest, and a failure mid-policy leaves no partial rows behind.
func (s *Syncer) Populate(ctx context.Context) (*Summary, error) {
	entries, err := version.ReadLedger(s.cfg.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("syncer: %w", err)
	}

	summary := &Summary{}
	pool, err := ants.NewPool(s.cfg.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("syncer: pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		entry := entry
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			s.syncOne(ctx, entry, summary)
		}); err != nil {
			wg.Done()
			return summary, fmt.Errorf("syncer: submit: %w", err)
		}
	}
	wg.Wait()

	s.cfg.Logger.Info("populate finished",
		"processed", summary.Processed, "skipped", summary.Skipped,
		"incomplete", summary.Incomplete, "failed", summary.Failed)
	return summary, ctx.Err()
}

func (s *Syncer) syncOne(ctx context.Context, entry version.Entry, summary *Summary) {
	log := s.cfg.Logger.With("title", entry.Title, "timestamp", entry.Timestamp)

	exists, err := s.store.Exists(ctx, entry.Title, entry.Timestamp)
	if err != nil {
		log.Error("existence check failed", "error", err)
		summary.add(&summary.Failed)
		return
	}
	if exists {
		summary.add(&summary.Skipped)
		return
	}

	dir := filepath.Join(s.rootFor(entry.SourceKind), entry.Dir)
	if !version.Complete(dir) {
		log.Warn("version directory incomplete, skipping", "dir", dir)
		summary.add(&summary.Incomplete)
		return
	}

	if err := s.insert(ctx, entry, dir); err != nil {
		if store.IsUniqueViolation(err) {
			// another worker of a concurrent run got there first
			summary.add(&summary.Skipped)
			return
		}
		log.Error("sync failed", "error", err)
		summary.add(&summary.Failed)
		return
	}
	summary.add(&summary.Processed)
}

func (s *Syncer) insert(ctx context.Context, entry version.Entry, dir string) error {
	text, err := version.ReadText(dir)
	if err != nil {
		return err
	}

	// An empty document still gets its policies row; it just has nothing
	// to embed, so it will never match a search.
	var chunks []store.Chunk
	if spans := chunk.Split(text, s.cfg.Chunk); len(spans) == 0 {
		s.cfg.Logger.Warn("no chunkable text, storing policy without chunks",
			"title", entry.Title, "timestamp", entry.Timestamp, "dir", dir)
	} else {
		texts := make([]string, len(spans))
		for i, sp := range spans {
			texts[i] = sp.Text
		}
		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed: %w", err)
		}
		if len(vectors) != len(spans) {
			return fmt.Errorf("embed: got %d vectors for %d chunks", len(vectors), len(spans))
		}
		chunks = make([]store.Chunk, len(spans))
		for i, sp := range spans {
			chunks[i] = store.Chunk{Ordinal: sp.Index, Text: sp.Text, Vector: vectors[i]}
		}
	}

	imgs, err := version.Images(dir)
	if err != nil {
		return err
	}
	images := make([]store.Image, 0, len(imgs))
	for _, img := range imgs {
		images = append(images, store.Image{Name: img.Name, Data: img.Data})
	}

	p := store.Policy{
		Title:      entry.Title,
		Timestamp:  entry.Timestamp,
		SourceKind: entry.SourceKind,
		SourceRef:  entry.SourceRef,
		Text:       text,
	}
	_, err = s.store.InsertPolicy(ctx, p, chunks, images)
	return err
}

func (s *Syncer) rootFor(kind string) string {
	if kind == version.SourceLocalPDF {
		return s.cfg.LocalDir
	}
	return s.cfg.ScrapedDir
}
