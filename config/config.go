// Package config loads pipeline configuration from an optional YAML file
// with environment-variable overrides, and defines the on-disk layout the
// rest of the tooling depends on.
//
// Precedence: built-in defaults < YAML file < environment (POLICORPUS_*).
// A .env file in the working directory is loaded into the environment
// first when present.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const envPrefix = "POLICORPUS"

// Config holds everything a single pipeline run needs. It is constructed
// once in main and passed down; packages never read globals.
//
// The envconfig tags compose with the section name, so Crawl.MaxAttempts
// answers to POLICORPUS_CRAWL_MAX_ATTEMPTS.
type Config struct {
	// DataDir is the root under which all pipeline state lives.
	DataDir string `yaml:"data_dir" envconfig:"DATA_DIR"`

	// DBPath is the SQLite corpus database. Relative paths resolve under DataDir.
	DBPath string `yaml:"db_path" envconfig:"DB_PATH"`

	// CrawlDBPath is the SQLite crawl-state database.
	CrawlDBPath string `yaml:"crawl_db_path" envconfig:"CRAWL_DB_PATH"`

	Crawl    CrawlConfig    `yaml:"crawl" envconfig:"CRAWL"`
	Chunk    ChunkConfig    `yaml:"chunk" envconfig:"CHUNK"`
	Classify ClassifyConfig `yaml:"classify" envconfig:"CLASSIFY"`
	Embed    EmbedConfig    `yaml:"embed" envconfig:"EMBED"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" envconfig:"LOG_LEVEL"`
}

// CrawlConfig bounds the crawl phase.
type CrawlConfig struct {
	// AllowedDomains is the host allow-list. Fetches outside it are
	// rejected before any network call.
	AllowedDomains []string `yaml:"allowed_domains" envconfig:"ALLOWED_DOMAINS"`

	// StartURL is the default crawl entry point.
	StartURL string `yaml:"start_url" envconfig:"START_URL"`

	// Concurrency is the number of in-flight fetches. Default: 4.
	Concurrency int `yaml:"concurrency" envconfig:"CONCURRENCY"`

	// MaxAttempts is the retry ceiling for a failed URL across runs. Default: 3.
	MaxAttempts int `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`

	// FetchTimeout bounds one HTTP request. Default: 30s.
	FetchTimeout time.Duration `yaml:"fetch_timeout" envconfig:"FETCH_TIMEOUT"`

	// UserAgent sent with requests.
	UserAgent string `yaml:"user_agent" envconfig:"USER_AGENT"`

	// RenderFallback enables the headless-browser fetch retry for pages
	// whose static HTML carries no usable text. Requires a local Chrome.
	RenderFallback bool `yaml:"render_fallback" envconfig:"RENDER_FALLBACK"`
}

// ChunkConfig controls retrieval chunking.
type ChunkConfig struct {
	MaxTokens     int `yaml:"max_tokens" envconfig:"MAX_TOKENS"`
	OverlapTokens int `yaml:"overlap_tokens" envconfig:"OVERLAP_TOKENS"`
}

// ClassifyConfig points at the OpenAI-compatible chat endpoint used for the
// "is this a policy" decision.
type ClassifyConfig struct {
	Endpoint string        `yaml:"endpoint" envconfig:"ENDPOINT"`
	Model    string        `yaml:"model" envconfig:"MODEL"`
	Timeout  time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

// EmbedConfig points at the OpenAI-compatible embeddings endpoint.
type EmbedConfig struct {
	Endpoint  string        `yaml:"endpoint" envconfig:"ENDPOINT"`
	Model     string        `yaml:"model" envconfig:"MODEL"`
	Dimension int           `yaml:"dimension" envconfig:"DIMENSION"`
	BatchSize int           `yaml:"batch_size" envconfig:"BATCH_SIZE"`
	Timeout   time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

// defaults fills the zero-value fields so later layers only override what
// they mention.
func (c *Config) defaults() {
	c.DataDir = "data"
	c.DBPath = "corpus.db"
	c.CrawlDBPath = "crawl.db"
	c.LogLevel = "info"
	c.Crawl = CrawlConfig{
		Concurrency:  4,
		MaxAttempts:  3,
		FetchTimeout: 30 * time.Second,
		UserAgent:    "policorpus/1.0",
	}
	c.Chunk = ChunkConfig{MaxTokens: 512, OverlapTokens: 64}
	c.Classify = ClassifyConfig{Model: "qwen2.5:3b", Timeout: 60 * time.Second}
	c.Embed = EmbedConfig{
		Model:     "multilingual-e5-large",
		BatchSize: 32,
		Timeout:   30 * time.Second,
	}
}

// Load reads the YAML file at path (skipped when path is empty or missing)
// and applies environment overrides. Defaults are set once, before the YAML
// layer, so file values survive into the final config.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	var cfg Config
	cfg.defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// No file is fine; env and defaults carry the run.
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	// Environment wins over the file.
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}

	return &cfg, nil
}

// resolve anchors a possibly-relative path under DataDir.
func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// CorpusDBPath returns the absolute-ish corpus database path.
func (c *Config) CorpusDBPath() string { return c.resolve(c.DBPath) }

// CrawlStatePath returns the crawl-state database path.
func (c *Config) CrawlStatePath() string { return c.resolve(c.CrawlDBPath) }

// ProcessedDir is the root of all version directories and the ledger.
func (c *Config) ProcessedDir() string { return c.resolve("processed") }

// ScrapedDir holds URL-derived version directories.
func (c *Config) ScrapedDir() string {
	return filepath.Join(c.ProcessedDir(), "scraped_policies")
}

// LocalDir holds PDF-derived version directories.
func (c *Config) LocalDir() string {
	return filepath.Join(c.ProcessedDir(), "local_policies")
}

// LedgerPath is the append-only processed-versions log.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.ProcessedDir(), "processed_policies_log.csv")
}

// SourceDir is the raw local-PDF drop root, holding policies_<YYYYMMDD> folders.
func (c *Config) SourceDir() string { return c.resolve("source_policies") }
