package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/policorpus/classify"
	"github.com/hazyhaar/policorpus/crawlstate"
	"github.com/hazyhaar/policorpus/dbopen"
	"github.com/hazyhaar/policorpus/fetcher"
	"github.com/hazyhaar/policorpus/rawstore"
	"github.com/hazyhaar/policorpus/version"

	_ "modernc.org/sqlite"
)

const vacationPage = `<!DOCTYPE html>
<html><head><title>Vacation Policy</title></head><body>
<h1>Vacation Policy</h1>
<p>Employees accrue two vacation days per month of service.</p>
<p>Unused vacation carries over up to ten days.</p>
<img src="/img/chart.png" alt="accrual chart">
</body></html>`

func testSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`<html><body>
<h1>Company Documents</h1>
<p>Index of internal documents.</p>
<a href="/policies/vacation">Vacation</a>
<a href="/about">About</a>
<a href="/gone">Old page</a>
<a href="http://other.example/x">External</a>
<a href="mailto:hr@example.com">Mail</a>
<a href="#top">Top</a>
</body></html>`))
	})
	mux.HandleFunc("/policies/vacation", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(vacationPage))
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><h1>About</h1><p>Who we are.</p></body></html>`))
	})
	mux.HandleFunc("/img/chart.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 'P', 'N', 'G'})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newCrawler(t *testing.T, srv *httptest.Server, renderer Renderer, dedup Deduper) (*Crawler, *crawlstate.Store, string) {
	t.Helper()
	root := t.TempDir()
	state, err := crawlstate.NewWithDB(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	u, _ := url.Parse(srv.URL)
	f := fetcher.New(fetcher.Config{AllowedDomains: []string{u.Hostname()}, MaxAttempts: 1})
	builder := version.NewBuilder(filepath.Join(root, "scraped"), filepath.Join(root, "log.csv"), nil)
	cfg := Config{StartURL: srv.URL + "/", Concurrency: 2, MaxAttempts: 2}
	// "accrue" appears only in the vacation policy body, never in link text
	c := New(cfg, state, f, renderer, &classify.Stub{Keywords: []string{"accrue"}}, builder, dedup)
	return c, state, root
}

func TestRunCrawlsSiteAndVersionsPolicies(t *testing.T) {
	srv := testSite(t)
	c, state, root := newCrawler(t, srv, nil, nil)
	ctx := context.Background()

	summary, err := c.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Fetched != 3 {
		t.Errorf("fetched = %d, want 3", summary.Fetched)
	}
	if summary.Policies != 1 || summary.NonPolicies != 2 {
		t.Errorf("policies = %d, non-policies = %d", summary.Policies, summary.NonPolicies)
	}
	if summary.Failed != 1 { // /gone is a 404
		t.Errorf("failed = %d, want 1", summary.Failed)
	}

	entries, err := version.ReadLedger(filepath.Join(root, "log.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Title != "Vacation Policy" {
		t.Fatalf("ledger = %+v", entries)
	}
	dir := filepath.Join(root, "scraped", entries[0].Dir)
	if !version.Complete(dir) {
		t.Fatalf("version dir %s incomplete", dir)
	}
	imgs, err := version.Images(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(imgs) != 1 || imgs[0].Name != "chart.png" {
		t.Fatalf("images = %+v", imgs)
	}

	// external link never entered the frontier
	rec, err := state.Get(ctx, "http://other.example/x")
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Fatalf("external URL enqueued: %+v", rec)
	}

	// the 404 is parked past the retry ceiling, not eligible again
	rec, err = state.Get(ctx, srv.URL+"/gone")
	if err != nil || rec == nil {
		t.Fatalf("gone record: %+v, %v", rec, err)
	}
	if rec.Status != crawlstate.StatusFailed || rec.Attempts < 2 {
		t.Fatalf("gone record = %+v", rec)
	}
}

func TestRunResumeIsNoOp(t *testing.T) {
	srv := testSite(t)
	c, _, root := newCrawler(t, srv, nil, nil)
	ctx := context.Background()

	if _, err := c.Run(ctx); err != nil {
		t.Fatal(err)
	}
	summary, err := c.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Fetched != 0 || summary.Policies != 0 {
		t.Fatalf("second run refetched: %+v", summary)
	}

	entries, err := version.ReadLedger(filepath.Join(root, "log.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("second run produced new versions: %d entries", len(entries))
	}
}

type stubRenderer struct {
	calls int
	html  string
}

func (r *stubRenderer) Render(_ context.Context, rawURL string) (*fetcher.Result, error) {
	r.calls++
	return &fetcher.Result{Body: []byte(r.html), MediaKind: "html"}, nil
}

func TestRenderFallbackOnScriptOnlyPage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><script>render()</script></body></html>`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	renderer := &stubRenderer{html: vacationPage}
	c, _, root := newCrawler(t, srv, renderer, nil)

	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if renderer.calls != 1 {
		t.Fatalf("renderer calls = %d, want 1", renderer.calls)
	}
	if summary.Policies != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	entries, _ := version.ReadLedger(filepath.Join(root, "log.csv"))
	if len(entries) != 1 || entries[0].Title != "Vacation Policy" {
		t.Fatalf("ledger = %+v", entries)
	}
}

type stubDeduper struct{ seen bool }

func (d *stubDeduper) HasContentHash(context.Context, string) (bool, error) {
	return d.seen, nil
}

func TestDedupSkipsKnownContent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(vacationPage))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, _, root := newCrawler(t, srv, nil, &stubDeduper{seen: true})
	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Duplicates != 1 || summary.Policies != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if _, err := os.Stat(filepath.Join(root, "log.csv")); !os.IsNotExist(err) {
		t.Fatal("ledger written for duplicate content")
	}
}

func TestResolveLink(t *testing.T) {
	base, _ := url.Parse("https://hr.example.com/docs/index.html")
	cases := []struct {
		href string
		want string
		ok   bool
	}{
		{"/policies/a", "https://hr.example.com/policies/a", true},
		{"b.html", "https://hr.example.com/docs/b.html", true},
		{"https://other.example/x", "https://other.example/x", true},
		{"https://hr.example.com/a#section", "https://hr.example.com/a", true},
		{"mailto:hr@example.com", "", false},
		{"javascript:void(0)", "", false},
		{"#top", "", false},
		{"  ", "", false},
	}
	for _, c := range cases {
		got, ok := resolveLink(base, c.href)
		if ok != c.ok || got != c.want {
			t.Errorf("resolveLink(%q) = %q, %v; want %q, %v", c.href, got, ok, c.want, c.ok)
		}
	}
}

func TestMaxPagesBudget(t *testing.T) {
	srv := testSite(t)
	c, _, _ := newCrawler(t, srv, nil, nil)
	c.cfg.MaxPages = 1

	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Fetched != 1 {
		t.Fatalf("fetched = %d, want 1 under page budget", summary.Fetched)
	}
}

func TestCrawlArchivesRawPages(t *testing.T) {
	srv := testSite(t)
	c, _, _ := newCrawler(t, srv, nil, nil)
	raw, err := rawstore.NewWithDB(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	WithRawStore(raw)(c)

	if _, err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	total, unprocessed, err := raw.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 { // index, vacation, about; the 404 stored nothing
		t.Fatalf("archived pages = %d, want 3", total)
	}
	if unprocessed != 3 {
		t.Fatalf("unprocessed = %d, want 3 (crawl never marks)", unprocessed)
	}

	p, err := raw.Get(context.Background(), srv.URL+"/policies/vacation")
	if err != nil || p == nil {
		t.Fatalf("vacation page not archived: %v", err)
	}
	if p.MediaKind != "html" || len(p.Body) == 0 {
		t.Fatalf("archived page = %+v", p)
	}
}
