// Package crawler drives the web half of the pipeline: it walks the
// frontier, fetches allowed pages, extracts and classifies their content,
// and writes a version directory for every page judged to be a policy.
//
// The frontier lives in crawlstate, so killing a crawl and restarting it
// resumes where it stopped. Pages are processed in bounded-concurrency
// rounds; link discovery inside a round feeds the next one.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/hazyhaar/policorpus/classify"
	"github.com/hazyhaar/policorpus/crawlstate"
	"github.com/hazyhaar/policorpus/extract"
	"github.com/hazyhaar/policorpus/fetcher"
	"github.com/hazyhaar/policorpus/version"
)

// Renderer produces a DOM-rendered fallback for pages whose static HTML
// carries no text. *fetcher.Renderer satisfies it; tests stub it.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (*fetcher.Result, error)
}

// Deduper answers whether a content hash is already in the corpus, so an
// unchanged page is not re-classified and re-versioned. *store.Store
// satisfies it.
type Deduper interface {
	HasContentHash(ctx context.Context, hash string) (bool, error)
}

// RawSaver archives fetched bodies for the offline scrape stage.
// *rawstore.Store satisfies it.
type RawSaver interface {
	Save(ctx context.Context, url, mediaKind, hash string, body []byte) error
}

// Option adjusts a Crawler beyond the required collaborators.
type Option func(*Crawler)

// WithRawStore archives every successfully fetched page body, so the
// scrape command can re-process the crawl without refetching.
func WithRawStore(raw RawSaver) Option {
	return func(c *Crawler) { c.raw = raw }
}

// Config tunes one crawl run.
type Config struct {
	StartURL    string
	Concurrency int // parallel page workers, default 4
	MaxAttempts int // frontier retry ceiling, default 3
	MaxPages    int // hard page budget, 0 = unbounded
	Logger      *slog.Logger
}

func (c *Config) defaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Summary reports one crawl run.
type Summary struct {
	mu          sync.Mutex
	Fetched     int
	Policies    int
	NonPolicies int
	Duplicates  int
	Failed      int
}

func (s *Summary) add(field *int) {
	s.mu.Lock()
	*field++
	s.mu.Unlock()
}

// Crawler wires the frontier to the fetch/extract/classify/version chain.
type Crawler struct {
	cfg        Config
	state      *crawlstate.Store
	fetch      *fetcher.Fetcher
	renderer   Renderer // optional
	classifier classify.Classifier
	builder    *version.Builder
	dedup      Deduper  // optional
	raw        RawSaver // optional
}

// New assembles a Crawler. renderer and dedup may be nil.
func New(cfg Config, state *crawlstate.Store, fetch *fetcher.Fetcher,
	renderer Renderer, classifier classify.Classifier, builder *version.Builder, dedup Deduper, opts ...Option) *Crawler {
	cfg.defaults()
	c := &Crawler{
		cfg: cfg, state: state, fetch: fetch,
		renderer: renderer, classifier: classifier, builder: builder, dedup: dedup,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run crawls until the frontier is exhausted, the page budget is spent, or
// ctx is cancelled. The start URL is enqueued first; re-enqueueing a URL a
// previous run already visited is a no-op, so Run is safe to call on a
// resumed frontier.
func (c *Crawler) Run(ctx context.Context) (*Summary, error) {
	if c.cfg.StartURL != "" {
		if err := c.state.Enqueue(ctx, c.cfg.StartURL, ""); err != nil {
			return nil, fmt.Errorf("crawler: %w", err)
		}
	}

	summary := &Summary{}
	pool, err := ants.NewPool(c.cfg.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("crawler: pool: %w", err)
	}
	defer pool.Release()

	pages := 0
	for ctx.Err() == nil {
		batch, err := c.claimBatch(ctx, &pages)
		if err != nil {
			return summary, err
		}
		if len(batch) == 0 {
			break
		}

		var wg sync.WaitGroup
		for _, u := range batch {
			u := u
			wg.Add(1)
			if err := pool.Submit(func() {
				defer wg.Done()
				c.processPage(ctx, u, summary)
			}); err != nil {
				wg.Done()
				return summary, fmt.Errorf("crawler: submit: %w", err)
			}
		}
		wg.Wait()
	}

	c.cfg.Logger.Info("crawl finished",
		"fetched", summary.Fetched, "policies", summary.Policies,
		"non_policies", summary.NonPolicies, "duplicates", summary.Duplicates,
		"failed", summary.Failed)
	return summary, ctx.Err()
}

// claimBatch pulls up to Concurrency eligible URLs, honouring the page
// budget. An empty batch means the frontier is exhausted.
func (c *Crawler) claimBatch(ctx context.Context, pages *int) ([]string, error) {
	var batch []string
	for len(batch) < c.cfg.Concurrency {
		if c.cfg.MaxPages > 0 && *pages >= c.cfg.MaxPages {
			break
		}
		u, err := c.state.NextPending(ctx, c.cfg.MaxAttempts)
		if errors.Is(err, crawlstate.ErrExhausted) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("crawler: %w", err)
		}
		batch = append(batch, u)
		*pages++
	}
	return batch, nil
}

func (c *Crawler) processPage(ctx context.Context, pageURL string, summary *Summary) {
	log := c.cfg.Logger.With("url", pageURL)

	res, err := c.fetch.Fetch(ctx, pageURL)
	if err != nil {
		c.retirePage(ctx, pageURL, err, log, summary)
		return
	}
	summary.add(&summary.Fetched)

	if c.raw != nil {
		if err := c.raw.Save(ctx, pageURL, res.MediaKind, res.Hash, res.Body); err != nil {
			log.Warn("raw archive failed", "error", err)
		}
	}

	kind := extract.KindHTML
	if res.MediaKind == "pdf" {
		kind = extract.KindPDF
	}

	// Discover links before classification: navigation pages feed the
	// frontier even when they are not policies themselves.
	if kind == extract.KindHTML {
		c.discoverLinks(ctx, pageURL, res.Body, log)
	}

	if c.dedup != nil {
		seen, err := c.dedup.HasContentHash(ctx, res.Hash)
		if err != nil {
			log.Warn("dedup lookup failed", "error", err)
		} else if seen {
			summary.add(&summary.Duplicates)
			c.state.Mark(ctx, pageURL, crawlstate.StatusVisited)
			return
		}
	}

	content, err := extract.Extract(ctx, res.Body, kind, extract.Options{SourceURL: pageURL, Logger: log})
	if errors.Is(err, extract.ErrNoContent) && kind == extract.KindHTML && c.renderer != nil {
		content, err = c.renderAndExtract(ctx, pageURL, log)
	}
	if err != nil {
		if errors.Is(err, extract.ErrNoContent) {
			// fetchable but empty is not a crawl failure
			log.Info("no extractable content")
			c.state.Mark(ctx, pageURL, crawlstate.StatusVisited)
			return
		}
		log.Error("extract failed", "error", err)
		summary.add(&summary.Failed)
		c.state.Mark(ctx, pageURL, crawlstate.StatusFailed)
		return
	}

	decision, err := c.classifier.Classify(ctx, content.Text)
	if err != nil {
		log.Error("classify failed", "error", err)
		summary.add(&summary.Failed)
		c.state.Mark(ctx, pageURL, crawlstate.StatusFailed)
		return
	}
	if !decision.IsPolicy {
		summary.add(&summary.NonPolicies)
		c.state.Mark(ctx, pageURL, crawlstate.StatusVisited)
		return
	}

	c.fetchImages(ctx, pageURL, content, log)

	meta := version.Meta{
		Title:      decision.Title,
		Timestamp:  version.Now(),
		SourceKind: version.SourceURL,
		SourceRef:  pageURL,
	}
	if _, err := c.builder.Build(meta, content); err != nil {
		log.Error("version build failed", "error", err)
		summary.add(&summary.Failed)
		c.state.Mark(ctx, pageURL, crawlstate.StatusFailed)
		return
	}

	summary.add(&summary.Policies)
	c.state.Mark(ctx, pageURL, crawlstate.StatusVisited)
}

// retirePage records a fetch failure in the frontier: permanent errors are
// parked past the retry ceiling, transient ones stay eligible.
func (c *Crawler) retirePage(ctx context.Context, pageURL string, err error, log *slog.Logger, summary *Summary) {
	summary.add(&summary.Failed)
	var pe *fetcher.PermanentError
	if errors.As(err, &pe) {
		log.Warn("permanent fetch failure", "reason", pe.Reason)
		c.state.MarkPermanent(ctx, pageURL, c.cfg.MaxAttempts)
		return
	}
	log.Warn("fetch failed", "error", err)
	c.state.Mark(ctx, pageURL, crawlstate.StatusFailed)
}

func (c *Crawler) renderAndExtract(ctx context.Context, pageURL string, log *slog.Logger) (*extract.Content, error) {
	log.Info("static HTML empty, falling back to rendered DOM")
	res, err := c.renderer.Render(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("render fallback: %w", err)
	}
	return extract.Extract(ctx, res.Body, extract.KindHTML, extract.Options{SourceURL: pageURL, Logger: log})
}

// fetchImages downloads referenced images whose hosts pass the allow-list.
// References are resolved against the page URL first, since extraction
// keeps src attributes as written. Image failures are logged and dropped,
// never fatal to the page.
func (c *Crawler) fetchImages(ctx context.Context, pageURL string, content *extract.Content, log *slog.Logger) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return
	}
	for i, img := range content.Images {
		if img.Data != nil {
			continue
		}
		target, ok := resolveLink(base, img.Name)
		if !ok || !c.fetch.Allowed(target) {
			continue
		}
		res, err := c.fetch.Fetch(ctx, target)
		if err != nil {
			log.Warn("image fetch failed", "image", target, "error", err)
			continue
		}
		content.Images[i].Data = res.Body
		if u, err := url.Parse(target); err == nil && path.Base(u.Path) != "/" {
			content.Images[i].Name = path.Base(u.Path)
		}
	}
}
