package crawler

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// discoverLinks parses anchors out of an HTML page and enqueues every
// same-allow-list target the frontier has not seen.
func (c *Crawler) discoverLinks(ctx context.Context, pageURL string, body []byte, log *slog.Logger) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		log.Warn("link discovery parse failed", "error", err)
		return
	}

	seen := map[string]bool{}
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		target, ok := resolveLink(base, href)
		if !ok || seen[target] || target == pageURL {
			return
		}
		seen[target] = true
		if !c.fetch.Allowed(target) {
			return
		}
		if err := c.state.Enqueue(ctx, target, pageURL); err != nil {
			log.Warn("enqueue failed", "target", target, "error", err)
		}
	})
	if len(seen) > 0 {
		log.Debug("links discovered", "count", len(seen))
	}
}

// resolveLink turns an href into an absolute, fragment-free URL. Mail,
// javascript, and other non-HTTP schemes are rejected.
func resolveLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	abs.Fragment = ""
	return abs.String(), true
}

// Counts reports the frontier after a run, for the CLI status line.
func (c *Crawler) Counts(ctx context.Context) (pending, visited, failed, exhausted int, err error) {
	return c.state.Counts(ctx, c.cfg.MaxAttempts)
}
