package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// Renderer fetches a page through headless Chrome for sites whose static
// HTML carries no usable content. It is the escalation step above the plain
// HTTP path; the crawl only reaches for it when extraction of the static
// body yields empty text.
type Renderer struct {
	browser *rod.Browser
	timeout time.Duration
	logger  *slog.Logger
}

// NewRenderer launches a local headless Chrome. Callers must Close it.
func NewRenderer(timeout time.Duration, logger *slog.Logger) (*Renderer, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	u, err := launcher.New().Headless(true).Launch()
	if err != nil {
		return nil, fmt.Errorf("render: launch chrome: %w", err)
	}
	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("render: connect: %w", err)
	}
	return &Renderer{browser: browser, timeout: timeout, logger: logger}, nil
}

// Render navigates to rawURL with stealth, waits for load, and returns the
// rendered DOM as HTML bytes. The caller remains responsible for the domain
// gate; Render assumes the URL was already allowed.
func (r *Renderer) Render(ctx context.Context, rawURL string) (*Result, error) {
	page, err := stealth.Page(r.browser)
	if err != nil {
		return nil, fmt.Errorf("render: new page: %w", err)
	}
	defer page.Close()

	page = page.Context(ctx).Timeout(r.timeout)

	if err := page.Navigate(rawURL); err != nil {
		return nil, &TransientError{URL: rawURL, Err: fmt.Errorf("navigate: %w", err)}
	}
	if err := page.WaitLoad(); err != nil {
		return nil, &TransientError{URL: rawURL, Err: fmt.Errorf("wait load: %w", err)}
	}

	html, err := page.HTML()
	if err != nil {
		return nil, &TransientError{URL: rawURL, Err: fmt.Errorf("read dom: %w", err)}
	}

	body := []byte(html)
	r.logger.Debug("render: fetched", "url", rawURL, "size", len(body))
	return &Result{
		Body:       body,
		StatusCode: 200,
		Hash:       hashBody(body),
		MediaKind:  "html",
	}, nil
}

// Close shuts the browser down.
func (r *Renderer) Close() error {
	if r.browser == nil {
		return nil
	}
	return r.browser.Close()
}
