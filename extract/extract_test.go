package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const samplePage = `<html>
<head><title>Vacation Policy</title><style>p { color: red }</style></head>
<body>
<nav><a href="/">Home</a></nav>
<h1>Vacation Policy</h1>
<p>All employees accrue vacation time at a rate of 1.5 days per month.</p>
<p style="display:none">hidden tracking text</p>
<p>Unused days carry over for one calendar year.</p>
<img src="/img/seal.png">
<img src="/img/seal.png">
<script>trackVisit()</script>
<footer>Copyright</footer>
</body>
</html>`

func TestExtractHTML(t *testing.T) {
	c, err := Extract(context.Background(), []byte(samplePage), KindHTML, Options{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if c.Title != "Vacation Policy" {
		t.Errorf("title: got %q", c.Title)
	}
	if !strings.Contains(c.Text, "1.5 days per month") {
		t.Errorf("text missing body content:\n%s", c.Text)
	}
	if strings.Contains(c.Text, "hidden tracking text") {
		t.Error("hidden text leaked into extraction")
	}
	if strings.Contains(c.Text, "trackVisit") {
		t.Error("script text leaked into extraction")
	}
	if len(c.Images) != 1 {
		t.Errorf("images: got %d, want 1 (deduplicated)", len(c.Images))
	}
	if c.Markdown == "" {
		t.Error("markdown empty")
	}
}

func TestExtractHTMLNoContent(t *testing.T) {
	_, err := Extract(context.Background(), []byte("<html><body></body></html>"), KindHTML, Options{})
	if !errors.Is(err, ErrNoContent) {
		t.Fatalf("want ErrNoContent, got %v", err)
	}
}

func TestExtractPDFFallbackStrategy(t *testing.T) {
	// Not a structurally valid PDF — the structured strategy must fail and
	// the raw scan must still recover the text literals.
	raw := []byte(`%PDF-1.4
BT
(Remote Work Policy) Tj
T*
(Employees may work remotely up to three days per week with manager approval.) Tj
(Requests are submitted through the HR portal at least one week in advance.) Tj
ET`)

	c, err := Extract(context.Background(), raw, KindPDF, Options{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if c.Strategy != "pdf-rawscan" {
		t.Errorf("strategy: got %q, want pdf-rawscan", c.Strategy)
	}
	if !strings.Contains(c.Text, "Remote Work Policy") {
		t.Errorf("text: %q", c.Text)
	}
	if !strings.Contains(c.Text, "manager approval") {
		t.Errorf("text missing body: %q", c.Text)
	}
}

func TestExtractPDFTerminalFailure(t *testing.T) {
	_, err := Extract(context.Background(), []byte("%PDF-1.4 garbage"), KindPDF, Options{})
	if !errors.Is(err, ErrNoContent) {
		t.Fatalf("want ErrNoContent, got %v", err)
	}
}

func TestExtractCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Extract(ctx, []byte(samplePage), KindHTML, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestNormalizeWhitespace(t *testing.T) {
	in := "  a  \n\n\n\nb\r\n\r\n\r\nc  \n\n"
	want := "a\n\nb\n\nc"
	if got := normalizeWhitespace(in); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestDecodePDFString(t *testing.T) {
	cases := []struct{ in, want string }{
		{`plain`, "plain"},
		{`with \(parens\)`, "with (parens)"},
		{`octal\040space`, "octal space"},
		{`tab\there`, "tab\there"},
	}
	for _, tc := range cases {
		if got := decodePDFString([]byte(tc.in)); got != tc.want {
			t.Errorf("decodePDFString(%q): got %q, want %q", tc.in, got, tc.want)
		}
	}
}
