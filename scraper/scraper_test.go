package scraper

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/policorpus/classify"
	"github.com/hazyhaar/policorpus/dbopen"
	"github.com/hazyhaar/policorpus/rawstore"
	"github.com/hazyhaar/policorpus/version"

	_ "modernc.org/sqlite"
)

const policyHTML = `<html><head><title>Vacation Policy</title></head><body>
<h1>Vacation Policy</h1>
<p>Employees accrue two vacation days per month of service.</p>
</body></html>`

const plainHTML = `<html><body><h1>Cafeteria Hours</h1><p>Open nine to five.</p></body></html>`

type fixture struct {
	raw     *rawstore.Store
	scraper *Scraper
	ledger  string
}

func newFixture(t *testing.T, all bool) *fixture {
	t.Helper()
	root := t.TempDir()
	raw, err := rawstore.NewWithDB(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	ledger := filepath.Join(root, "log.csv")
	builder := version.NewBuilder(filepath.Join(root, "scraped"), ledger, nil)
	s := New(Config{All: all}, raw, &classify.Stub{Keywords: []string{"accrue"}}, builder)
	return &fixture{raw: raw, scraper: s, ledger: ledger}
}

func TestRunBuildsVersionsFromRawPages(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.raw.Save(ctx, "https://hr.example.com/vacation", "html", "h1", []byte(policyHTML))
	f.raw.Save(ctx, "https://hr.example.com/cafeteria", "html", "h2", []byte(plainHTML))

	summary, err := f.scraper.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Pages != 2 || summary.Policies != 1 || summary.NonPolicies != 1 || summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}

	entries, err := version.ReadLedger(f.ledger)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Title != "Vacation Policy" {
		t.Fatalf("ledger = %+v", entries)
	}
}

func TestRunSkipsProcessedUnlessAll(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.raw.Save(ctx, "https://hr.example.com/vacation", "html", "h1", []byte(policyHTML))

	if _, err := f.scraper.Run(ctx); err != nil {
		t.Fatal(err)
	}
	summary, err := f.scraper.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Pages != 0 {
		t.Fatalf("second run revisited pages: %+v", summary)
	}

	// --all re-processes and yields a second version of the same title
	f.scraper.cfg.All = true
	summary, err = f.scraper.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Pages != 1 || summary.Policies != 1 {
		t.Fatalf("all run summary = %+v", summary)
	}
}

func TestClassifyFailureLeavesPageUnprocessed(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.raw.Save(ctx, "https://hr.example.com/vacation", "html", "h1", []byte(policyHTML))
	f.scraper.classifier = &classify.Stub{Err: classify.ErrUnavailable}

	summary, err := f.scraper.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Failed != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	p, err := f.raw.Get(ctx, "https://hr.example.com/vacation")
	if err != nil {
		t.Fatal(err)
	}
	if p.Processed {
		t.Fatal("failed page marked processed, next run would skip it")
	}
}
