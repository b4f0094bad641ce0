package extract

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var hiddenStylePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)display\s*:\s*none`),
	regexp.MustCompile(`(?i)visibility\s*:\s*hidden`),
	regexp.MustCompile(`(?i)font-size\s*:\s*0[^1-9]`),
}

// extractHTML sanitizes, walks the DOM for title/text/images, and converts
// the sanitized document to markdown.
func extractHTML(raw []byte, opts Options) (*Content, error) {
	sanitized := bluemonday.UGCPolicy().SanitizeBytes(raw)

	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, ErrNoContent
	}

	c := &Content{
		Title:    findTitle(doc),
		Strategy: "html",
	}

	var sb strings.Builder
	collectText(doc, &sb)
	c.Text = sb.String()

	c.Images = collectImages(doc, opts.MaxImages)

	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
	md, err := conv.ConvertString(string(sanitized), converter.WithDomain(opts.SourceURL))
	if err == nil {
		c.Markdown = strings.TrimSpace(md)
	}

	return c, nil
}

// findTitle returns the first <title>, falling back to the first <h1>.
func findTitle(doc *html.Node) string {
	if t := firstText(doc, atom.Title); t != "" {
		return t
	}
	return firstText(doc, atom.H1)
}

func firstText(n *html.Node, a atom.Atom) string {
	if n.Type == html.ElementNode && n.DataAtom == a {
		var sb strings.Builder
		collectText(n, &sb)
		return strings.TrimSpace(sb.String())
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := firstText(c, a); t != "" {
			return t
		}
	}
	return ""
}

// collectText walks the tree gathering visible text, skipping script, style,
// nav chrome, and nodes hidden via inline style.
func collectText(n *html.Node, sb *strings.Builder) {
	switch n.Type {
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Head, atom.Nav, atom.Footer:
			return
		}
		if hasHiddenStyle(n) {
			return
		}
	case html.TextNode:
		text := strings.TrimSpace(n.Data)
		if text != "" {
			sb.WriteString(text)
			sb.WriteByte('\n')
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
	// Paragraph-level elements get a blank line so the chunker sees boundaries.
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.P, atom.Div, atom.Section, atom.Article, atom.Li,
			atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Table:
			sb.WriteByte('\n')
		}
	}
}

func hasHiddenStyle(n *html.Node) bool {
	for _, a := range n.Attr {
		if a.Key != "style" {
			continue
		}
		for _, pat := range hiddenStylePatterns {
			if pat.MatchString(a.Val) {
				return true
			}
		}
	}
	return false
}

// collectImages gathers <img src> references, deduplicated, up to max.
// Data bytes stay nil; the crawler decides which references to download.
func collectImages(n *html.Node, max int) []Image {
	var imgs []Image
	seen := map[string]bool{}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(imgs) >= max {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Img {
			for _, a := range n.Attr {
				if a.Key == "src" {
					src := strings.TrimSpace(a.Val)
					if src != "" && !strings.HasPrefix(src, "data:") && !seen[src] {
						seen[src] = true
						imgs = append(imgs, Image{Name: src})
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return imgs
}
