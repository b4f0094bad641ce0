package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/policorpus/chunk"
	"github.com/hazyhaar/policorpus/dbopen"
	"github.com/hazyhaar/policorpus/embed"
	"github.com/hazyhaar/policorpus/extract"
	"github.com/hazyhaar/policorpus/store"
	"github.com/hazyhaar/policorpus/version"

	_ "modernc.org/sqlite"
)

type fixture struct {
	cfg   Config
	store *store.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	db := dbopen.OpenMemory(t)
	st, err := store.NewWithDB(db, nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg := Config{
		ScrapedDir: filepath.Join(root, "scraped_policies"),
		LocalDir:   filepath.Join(root, "local_policies"),
		LedgerPath: filepath.Join(root, "processed_policies_log.csv"),
		Chunk:      chunk.Options{MaxTokens: 40, OverlapTokens: 5},
	}
	return &fixture{cfg: cfg, store: st}
}

func (f *fixture) buildVersion(t *testing.T, title, ts string, paragraphs int) {
	t.Helper()
	b := version.NewBuilder(f.cfg.ScrapedDir, f.cfg.LedgerPath, nil)
	var sb strings.Builder
	for i := 0; i < paragraphs; i++ {
		sb.WriteString("Employees must follow the documented procedure for every request and keep records of each approval granted during the review period.")
		sb.WriteString("\n\n")
	}
	content := &extract.Content{
		Title:    title,
		Text:     strings.TrimSpace(sb.String()),
		Markdown: "# " + title,
		Images:   []extract.Image{{Name: "figure.png", Data: []byte{1, 2, 3, 4}}},
	}
	meta := version.Meta{Title: title, Timestamp: ts, SourceKind: version.SourceURL, SourceRef: "https://hr.example.com/" + version.Slugify(title)}
	if _, err := b.Build(meta, content); err != nil {
		t.Fatalf("build version: %v", err)
	}
}

func TestPopulateEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.buildVersion(t, "Vacation Policy", "20260829T120000", 4)

	s := New(f.cfg, f.store, &embed.Stub{Dim: 8})
	summary, err := s.Populate(ctx)
	if err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if summary.Processed != 1 || summary.Skipped != 0 || summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}

	st, err := f.store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Policies != 1 || st.Chunks == 0 || st.Images != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestPopulateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.buildVersion(t, "Vacation Policy", "20260829T120000", 3)
	f.buildVersion(t, "Expense Policy", "20260829T130000", 3)

	s := New(f.cfg, f.store, &embed.Stub{Dim: 8})
	if _, err := s.Populate(ctx); err != nil {
		t.Fatal(err)
	}
	before, err := f.store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}

	summary, err := s.Populate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Processed != 0 || summary.Skipped != 2 {
		t.Fatalf("second run summary = %+v", summary)
	}
	after, err := f.store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if after.Policies != before.Policies || after.Chunks != before.Chunks {
		t.Fatalf("second run changed the store: before %+v after %+v", before, after)
	}
}

func TestEmbedFailureLeavesNoPartialRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.buildVersion(t, "Security Policy", "20260829T120000", 8)

	// fail after the first chunk embeds, mid-policy
	stub := &embed.Stub{Dim: 8, FailAfter: 1}
	s := New(f.cfg, f.store, stub)
	summary, err := s.Populate(ctx)
	if err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if summary.Failed != 1 || summary.Processed != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	st, err := f.store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Policies != 0 || st.Chunks != 0 || st.Images != 0 {
		t.Fatalf("partial rows after embed failure: %+v", st)
	}

	// a healthy rerun picks the policy up
	s = New(f.cfg, f.store, &embed.Stub{Dim: 8})
	summary, err = s.Populate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Processed != 1 {
		t.Fatalf("rerun summary = %+v", summary)
	}
}

// unreachableEmbedder fails every call, proving a code path never embeds.
type unreachableEmbedder struct{}

func (unreachableEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedder must not be called")
}

func (unreachableEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embedder must not be called")
}

func (unreachableEmbedder) Dimension() int { return 0 }
func (unreachableEmbedder) Model() string  { return "unreachable" }

func TestEmptyTextStoresPolicyWithoutChunks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b := version.NewBuilder(f.cfg.ScrapedDir, f.cfg.LedgerPath, nil)
	meta := version.Meta{Title: "Blank Policy", Timestamp: "20260829T120000", SourceKind: version.SourceURL, SourceRef: "https://hr.example.com/blank"}
	if _, err := b.Build(meta, &extract.Content{Title: "Blank Policy", Text: "   \n\n  ", Markdown: ""}); err != nil {
		t.Fatal(err)
	}

	s := New(f.cfg, f.store, unreachableEmbedder{})
	summary, err := s.Populate(ctx)
	if err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if summary.Processed != 1 || summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}

	list, err := f.store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("policies = %d, want 1", len(list))
	}
	n, err := f.store.ChunkCount(ctx, list[0].ID)
	if err != nil || n != 0 {
		t.Fatalf("ChunkCount = %d, %v; want 0", n, err)
	}

	// the stored row takes the version out of the rerun backlog
	summary, err = s.Populate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Skipped != 1 || summary.Processed != 0 || summary.Failed != 0 {
		t.Fatalf("rerun summary = %+v", summary)
	}
}

func TestIncompleteDirectorySkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// ledger row exists but the directory was never written
	entry := version.Entry{Title: "Ghost Policy", Timestamp: "20260829T120000", SourceKind: version.SourceURL, SourceRef: "https://hr.example.com/ghost", Dir: "ghost-policy_20260829T120000"}
	if err := version.AppendLedger(f.cfg.LedgerPath, entry); err != nil {
		t.Fatal(err)
	}

	s := New(f.cfg, f.store, &embed.Stub{Dim: 8})
	summary, err := s.Populate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Incomplete != 1 || summary.Processed != 0 || summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestPopulateEmptyLedger(t *testing.T) {
	f := newFixture(t)
	s := New(f.cfg, f.store, &embed.Stub{Dim: 8})
	summary, err := s.Populate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Processed != 0 || summary.Skipped != 0 || summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}
}
