// Package fetcher retrieves raw policy candidates over HTTP or from the
// local filesystem.
//
// Every URL passes the domain allow-list before any network I/O. Transient
// failures (timeouts, 5xx) are retried with exponential backoff up to a
// fixed ceiling; permanent ones (404, disallowed host) fail immediately.
// Local files bypass the network but produce the same Result shape, so the
// downstream extraction pipeline consumes one source abstraction.
package fetcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Result is the outcome of a fetch from either source kind.
type Result struct {
	Body       []byte
	StatusCode int    // 0 for local files
	Hash       string // SHA-256 of body
	MediaKind  string // "html" or "pdf"
}

// Config configures the fetcher.
type Config struct {
	// AllowedDomains is the host allow-list. Empty means nothing is fetchable.
	AllowedDomains []string

	// Timeout bounds one HTTP request. Default: 30s.
	Timeout time.Duration

	// MaxBytes caps the response body. Default: 20MB.
	MaxBytes int64

	// MaxAttempts is the per-fetch retry ceiling for transient errors. Default: 3.
	MaxAttempts int

	// UserAgent sent with requests.
	UserAgent string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 20 * 1024 * 1024
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.UserAgent == "" {
		c.UserAgent = "policorpus/1.0"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Fetcher performs gated, retried HTTP fetches.
type Fetcher struct {
	client  *http.Client
	config  Config
	allowed map[string]bool
}

// New creates a Fetcher. Redirects outside the allow-list are blocked too.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	allowed := make(map[string]bool, len(cfg.AllowedDomains))
	for _, d := range cfg.AllowedDomains {
		allowed[strings.ToLower(d)] = true
	}
	f := &Fetcher{config: cfg, allowed: allowed}
	f.client = &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects (%d)", len(via))
			}
			if !f.hostAllowed(req.URL.Host) {
				return fmt.Errorf("redirect to disallowed host %q", req.URL.Host)
			}
			return nil
		},
	}
	return f
}

// Allowed reports whether rawURL passes the domain gate.
func (f *Fetcher) Allowed(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return f.hostAllowed(u.Host)
}

func (f *Fetcher) hostAllowed(host string) bool {
	host = strings.ToLower(host)
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return f.allowed[host]
}

// Fetch retrieves a URL. The allow-list is checked before any network call;
// a disallowed or malformed URL yields a PermanentError with zero requests
// issued. Transient failures are retried with 1s/2s/4s... backoff up to the
// configured ceiling, honouring ctx cancellation between attempts.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &PermanentError{URL: rawURL, Reason: "malformed URL"}
	}
	if !f.hostAllowed(u.Host) {
		return nil, &PermanentError{URL: rawURL, Reason: fmt.Sprintf("host %q not in allow-list", u.Host)}
	}

	var lastErr error
	for attempt := 0; attempt < f.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<(attempt-1)) * time.Second
			f.config.Logger.Debug("fetch retry", "url", rawURL, "attempt", attempt+1, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		res, err := f.doOnce(ctx, rawURL)
		if err == nil {
			return res, nil
		}
		var te *TransientError
		if !errors.As(err, &te) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("fetch %s: attempts exhausted: %w", rawURL, lastErr)
}

func (f *Fetcher) doOnce(ctx context.Context, rawURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &PermanentError{URL: rawURL, Reason: err.Error()}
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		return nil, &TransientError{URL: rawURL, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &TransientError{URL: rawURL, StatusCode: resp.StatusCode}
	case resp.StatusCode >= 400:
		return nil, &PermanentError{URL: rawURL, Reason: fmt.Sprintf("http %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBytes))
	if err != nil {
		return nil, &TransientError{URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
	}

	return &Result{
		Body:       body,
		StatusCode: resp.StatusCode,
		Hash:       hashBody(body),
		MediaKind:  mediaKind(resp.Header.Get("Content-Type"), rawURL, body),
	}, nil
}

// ReadLocal reads a file from disk into the same Result shape the HTTP path
// produces, so local-PDF ingestion shares the downstream pipeline.
func ReadLocal(path string) (*Result, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &Result{
		Body:      body,
		Hash:      hashBody(body),
		MediaKind: mediaKind("", path, body),
	}, nil
}

func hashBody(body []byte) string {
	h := sha256.Sum256(body)
	return fmt.Sprintf("%x", h)
}

// mediaKind decides html vs pdf from content type, extension, then magic bytes.
func mediaKind(contentType, ref string, body []byte) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "pdf"):
		return "pdf"
	case strings.Contains(ct, "html"):
		return "html"
	}
	if strings.HasSuffix(strings.ToLower(ref), ".pdf") {
		return "pdf"
	}
	if len(body) >= 5 && string(body[:5]) == "%PDF-" {
		return "pdf"
	}
	return "html"
}
