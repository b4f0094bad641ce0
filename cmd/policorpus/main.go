// Command policorpus runs the policy corpus pipeline: crawl a website for
// policy documents, ingest locally collected PDFs, populate the vector
// corpus from processed versions, and inspect or prune what is stored.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/policorpus/chunk"
	"github.com/hazyhaar/policorpus/classify"
	"github.com/hazyhaar/policorpus/config"
	"github.com/hazyhaar/policorpus/crawler"
	"github.com/hazyhaar/policorpus/crawlstate"
	"github.com/hazyhaar/policorpus/embed"
	"github.com/hazyhaar/policorpus/fetcher"
	"github.com/hazyhaar/policorpus/pdfingest"
	"github.com/hazyhaar/policorpus/rawstore"
	"github.com/hazyhaar/policorpus/scraper"
	"github.com/hazyhaar/policorpus/store"
	"github.com/hazyhaar/policorpus/syncer"
	"github.com/hazyhaar/policorpus/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "policorpus",
		Usage: "collect, version, and vectorize policy documents",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "policorpus.yaml", Usage: "config file path"},
		},
		Commands: []*cli.Command{
			crawlCommand(),
			scrapeCommand(),
			ingestPDFCommand(),
			populateCommand(),
			removeCommand(),
			statsCommand(),
			searchCommand(),
		},
	}
}

// loadConfig reads the config file and installs the JSON logger.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return cfg, nil
}

// newClassifier picks the LLM classifier when an endpoint is configured,
// falling back to the keyword classifier for offline runs.
func newClassifier(cfg *config.Config) (classify.Classifier, error) {
	if cfg.Classify.Endpoint == "" {
		slog.Warn("no classify endpoint configured, using keyword matching")
		return &classify.Stub{Keywords: []string{"policy", "procedure", "guideline"}}, nil
	}
	return classify.New(classify.Config{
		Endpoint: cfg.Classify.Endpoint,
		Model:    cfg.Classify.Model,
		Timeout:  cfg.Classify.Timeout,
	})
}

func crawlCommand() *cli.Command {
	return &cli.Command{
		Name:  "crawl",
		Usage: "crawl the configured site for policy pages",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "reset", Usage: "clear crawl state and start from scratch"},
			&cli.IntFlag{Name: "max-pages", Usage: "stop after this many pages (0 = unbounded)"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			state, err := crawlstate.Open(cfg.CrawlStatePath())
			if err != nil {
				return err
			}
			defer state.Close()
			if c.Bool("reset") {
				if err := state.Reset(c.Context); err != nil {
					return err
				}
				slog.Info("crawl state reset")
			}

			fetch := fetcher.New(fetcher.Config{
				AllowedDomains: cfg.Crawl.AllowedDomains,
				Timeout:        cfg.Crawl.FetchTimeout,
				MaxAttempts:    cfg.Crawl.MaxAttempts,
				UserAgent:      cfg.Crawl.UserAgent,
			})

			var renderer crawler.Renderer
			if cfg.Crawl.RenderFallback {
				r, err := fetcher.NewRenderer(cfg.Crawl.FetchTimeout, slog.Default())
				if err != nil {
					return fmt.Errorf("render fallback unavailable: %w", err)
				}
				defer r.Close()
				renderer = r
			}

			classifier, err := newClassifier(cfg)
			if err != nil {
				return err
			}

			st, err := store.Open(cfg.CorpusDBPath(), slog.Default())
			if err != nil {
				return err
			}
			defer st.Close()

			raw, err := rawstore.Open(cfg.CrawlStatePath())
			if err != nil {
				return err
			}
			defer raw.Close()

			builder := version.NewBuilder(cfg.ScrapedDir(), cfg.LedgerPath(), slog.Default())
			cr := crawler.New(crawler.Config{
				StartURL:    cfg.Crawl.StartURL,
				Concurrency: cfg.Crawl.Concurrency,
				MaxAttempts: cfg.Crawl.MaxAttempts,
				MaxPages:    c.Int("max-pages"),
			}, state, fetch, renderer, classifier, builder, st,
				crawler.WithRawStore(raw))

			summary, err := cr.Run(c.Context)
			if summary != nil {
				fmt.Printf("fetched %d pages: %d policies, %d non-policies, %d duplicates, %d failed\n",
					summary.Fetched, summary.Policies, summary.NonPolicies, summary.Duplicates, summary.Failed)
			}
			return err
		},
	}
}

func scrapeCommand() *cli.Command {
	return &cli.Command{
		Name:  "scrape",
		Usage: "process archived raw pages into version directories",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "all", Usage: "re-process pages already scraped"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			raw, err := rawstore.Open(cfg.CrawlStatePath())
			if err != nil {
				return err
			}
			defer raw.Close()

			classifier, err := newClassifier(cfg)
			if err != nil {
				return err
			}
			builder := version.NewBuilder(cfg.ScrapedDir(), cfg.LedgerPath(), slog.Default())

			s := scraper.New(scraper.Config{All: c.Bool("all")}, raw, classifier, builder)
			summary, err := s.Run(c.Context)
			if summary != nil {
				fmt.Printf("scraped %d pages: %d policies, %d non-policies, %d failed\n",
					summary.Pages, summary.Policies, summary.NonPolicies, summary.Failed)
			}
			return err
		},
	}
}

func ingestPDFCommand() *cli.Command {
	return &cli.Command{
		Name:  "ingest-pdf",
		Usage: "ingest a batch of locally collected PDFs",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "batch", Usage: "batch folder name (default: latest policies_<date>)"},
			&cli.BoolFlag{Name: "all", Usage: "ingest every batch folder"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			classifier, err := newClassifier(cfg)
			if err != nil {
				return err
			}

			builder := version.NewBuilder(cfg.LocalDir(), cfg.LedgerPath(), slog.Default())
			ing := pdfingest.New(pdfingest.Config{SourceDir: cfg.SourceDir()}, classifier, builder)

			var summary *pdfingest.Summary
			if c.Bool("all") {
				summary, err = ing.RunAll(c.Context)
			} else {
				summary, err = ing.Run(c.Context, c.String("batch"))
			}
			if err != nil {
				return err
			}
			fmt.Printf("batch %s: %d policies, %d non-policies, %d failed\n",
				summary.Batch, summary.Processed, summary.NonPolicies, summary.Failed)
			return nil
		},
	}
}

func populateCommand() *cli.Command {
	return &cli.Command{
		Name:  "populate",
		Usage: "embed processed versions into the corpus database",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.CorpusDBPath(), slog.Default())
			if err != nil {
				return err
			}
			defer st.Close()

			embedder := embed.New(embed.Config{
				Endpoint:  cfg.Embed.Endpoint,
				Model:     cfg.Embed.Model,
				Dimension: cfg.Embed.Dimension,
				BatchSize: cfg.Embed.BatchSize,
				Timeout:   cfg.Embed.Timeout,
			})

			s := syncer.New(syncer.Config{
				ScrapedDir:  cfg.ScrapedDir(),
				LocalDir:    cfg.LocalDir(),
				LedgerPath:  cfg.LedgerPath(),
				Concurrency: cfg.Crawl.Concurrency,
				Chunk:       chunkOptions(cfg),
			}, st, embedder)

			summary, err := s.Populate(c.Context)
			if summary != nil {
				fmt.Printf("populate: %d processed, %d skipped, %d incomplete, %d failed\n",
					summary.Processed, summary.Skipped, summary.Incomplete, summary.Failed)
			}
			return err
		},
	}
}

func removeCommand() *cli.Command {
	return &cli.Command{
		Name:  "remove",
		Usage: "remove stored policies by id or title",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "policy version id"},
			&cli.StringFlag{Name: "title", Usage: "remove every version of this title"},
			&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "skip confirmation"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			id, title := c.String("id"), c.String("title")
			if (id == "") == (title == "") {
				return fmt.Errorf("exactly one of --id or --title is required")
			}

			st, err := store.Open(cfg.CorpusDBPath(), slog.Default())
			if err != nil {
				return err
			}
			defer st.Close()

			if !c.Bool("yes") && !confirm(id, title) {
				fmt.Println("aborted")
				return nil
			}

			if id != "" {
				deleted, err := st.RemoveByID(c.Context, id)
				if err != nil {
					return err
				}
				if !deleted {
					fmt.Println("no policy with that id")
					return nil
				}
				fmt.Println("removed 1 policy version")
				return nil
			}

			n, err := st.RemoveByTitle(c.Context, title)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d version(s) of %q\n", n, title)
			return nil
		},
	}
}

func confirm(id, title string) bool {
	if id != "" {
		fmt.Printf("remove policy version %s? [y/N] ", id)
	} else {
		fmt.Printf("remove ALL versions of %q? [y/N] ", title)
	}
	var answer string
	fmt.Scanln(&answer)
	return strings.EqualFold(strings.TrimSpace(answer), "y")
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "show corpus contents",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.CorpusDBPath(), slog.Default())
			if err != nil {
				return err
			}
			defer st.Close()

			stats, err := st.Stats(c.Context)
			if err != nil {
				return err
			}
			fmt.Printf("policies: %d (%d distinct titles)\nchunks: %d\nimages: %d\n",
				stats.Policies, stats.DistinctTitles, stats.Chunks, stats.Images)
			for kind, n := range stats.BySourceKind {
				fmt.Printf("  %s: %d\n", kind, n)
			}
			return nil
		},
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "similarity-search stored chunks",
		ArgsUsage: "<query text>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "top", Value: 5, Usage: "number of results"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if query == "" {
				return fmt.Errorf("query text required")
			}

			st, err := store.Open(cfg.CorpusDBPath(), slog.Default())
			if err != nil {
				return err
			}
			defer st.Close()

			embedder := embed.New(embed.Config{
				Endpoint:  cfg.Embed.Endpoint,
				Model:     cfg.Embed.Model,
				Dimension: cfg.Embed.Dimension,
				Timeout:   cfg.Embed.Timeout,
			})
			vec, err := embedder.Embed(c.Context, query)
			if err != nil {
				return err
			}

			matches, err := st.SearchSimilar(c.Context, vec, c.Int("top"))
			if err != nil {
				return err
			}
			for _, m := range matches {
				fmt.Printf("%.3f  %s (%s) #%d\n      %s\n",
					m.Score, m.PolicyTitle, m.Timestamp, m.Ordinal, firstWords(m.Text, 20))
			}
			if len(matches) == 0 {
				fmt.Println("no matches")
			}
			return nil
		},
	}
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ") + " ..."
}

func chunkOptions(cfg *config.Config) chunk.Options {
	return chunk.Options{
		MaxTokens:     cfg.Chunk.MaxTokens,
		OverlapTokens: cfg.Chunk.OverlapTokens,
	}
}
