package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// pdfStrategy is one extraction attempt. Returning an error or empty text
// moves the caller to the next strategy.
type pdfStrategy struct {
	name string
	run  func(ctx context.Context, raw []byte) (title, text string, err error)
}

var pdfStrategies = []pdfStrategy{
	{name: "pdf-structured", run: pdfStructured},
	{name: "pdf-rawscan", run: pdfRawScan},
}

// extractPDF tries each strategy in order, short-circuiting on the first
// that yields text. Strategy failures are invisible to the caller: only a
// terminal all-strategies-failed condition surfaces, as ErrNoContent.
func extractPDF(ctx context.Context, raw []byte, opts Options) (*Content, error) {
	var lastErr error
	for _, s := range pdfStrategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		title, text, err := s.run(ctx, raw)
		if err != nil {
			opts.Logger.Debug("pdf strategy failed", "strategy", s.name, "error", err)
			lastErr = err
			continue
		}
		if strings.TrimSpace(text) == "" {
			opts.Logger.Debug("pdf strategy yielded no text", "strategy", s.name)
			continue
		}

		c := &Content{
			Title:    title,
			Text:     text,
			Strategy: s.name,
		}
		c.Images = pdfImages(raw, opts)
		return c, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoContent, lastErr)
	}
	return nil, ErrNoContent
}

// pdfStructured parses the cross-reference table and walks page content
// streams for text operators.
func pdfStructured(ctx context.Context, raw []byte) (string, string, error) {
	conf := model.NewDefaultConfiguration()
	pctx, err := api.ReadValidateAndOptimize(bytes.NewReader(raw), conf)
	if err != nil {
		return "", "", fmt.Errorf("pdfcpu read: %w", err)
	}

	var all strings.Builder
	var title string
	for pageNr := 1; pageNr <= pctx.PageCount; pageNr++ {
		if err := ctx.Err(); err != nil {
			return "", "", err
		}
		pageText := pageContentText(pctx, pageNr)
		if pageText == "" {
			continue
		}
		if title == "" {
			title = firstLine(pageText)
		}
		if all.Len() > 0 {
			all.WriteString("\n\n")
		}
		all.WriteString(pageText)
	}
	return title, all.String(), nil
}

// pageContentText extracts text from one page's content stream.
func pageContentText(pctx *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(pctx, pageNr)
	if err != nil || r == nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return ""
	}
	return streamText(data)
}

// pdfRawScan is the fallback: scan the whole file for uncompressed string
// literals near text-showing operators. Crude, but recovers something from
// PDFs whose xref structure pdfcpu rejects.
func pdfRawScan(_ context.Context, raw []byte) (string, string, error) {
	text := streamText(raw)
	if len(text) < 40 {
		// A handful of stray literals is noise, not a policy document.
		return "", "", nil
	}
	return firstLine(text), text, nil
}

// pdfStringRe matches PDF string literals in parentheses: (text here)
var pdfStringRe = regexp.MustCompile(`\(([^)]*)\)`)

// streamText parses PDF content-stream operators for shown text.
func streamText(data []byte) string {
	var sb strings.Builder

	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		// Tj / TJ / ' operators show text from (…) literals.
		showsText := bytes.HasSuffix(line, []byte("Tj")) ||
			bytes.HasSuffix(line, []byte("TJ")) ||
			(bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")))
		if showsText {
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				if t := decodePDFString(m[1]); t != "" {
					sb.WriteString(t)
					sb.WriteByte(' ')
				}
			}
		}

		// T* and Td/TD reposition the cursor; treat as line breaks.
		if bytes.Equal(line, []byte("T*")) ||
			bytes.HasSuffix(line, []byte("Td")) || bytes.HasSuffix(line, []byte("TD")) {
			sb.WriteByte('\n')
		}
	}

	return cleanPDFText(sb.String())
}

// decodePDFString handles basic PDF escape sequences including octal.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			sb.WriteByte(raw[i])
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '\\', '(', ')':
			sb.WriteByte(raw[i])
		default:
			if raw[i] >= '0' && raw[i] <= '7' {
				val := int(raw[i] - '0')
				for j := 0; j < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; j++ {
					i++
					val = val*8 + int(raw[i]-'0')
				}
				sb.WriteByte(byte(val))
			} else {
				sb.WriteByte(raw[i])
			}
		}
	}
	return sb.String()
}

// cleanPDFText keeps printable runes and collapses whitespace runs, but
// preserves line breaks so paragraphs survive into chunking.
func cleanPDFText(text string) string {
	var sb strings.Builder
	prevSpace := false
	for _, r := range text {
		switch {
		case r == '\n':
			sb.WriteByte('\n')
			prevSpace = true
		case unicode.IsSpace(r):
			if !prevSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsPrint(r):
			sb.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(sb.String())
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			if len(line) > 200 {
				line = line[:200]
			}
			return line
		}
	}
	return ""
}

// pdfImages pulls embedded raster images out of the document. Extraction
// failures are tolerated — images are enrichment, not a gating step.
func pdfImages(raw []byte, opts Options) []Image {
	var imgs []Image
	conf := model.NewDefaultConfiguration()

	digest := func(img model.Image, singleImgPerPage bool, maxPageDigits int) error {
		if len(imgs) >= opts.MaxImages {
			return nil
		}
		data, err := io.ReadAll(img)
		if err != nil || len(data) == 0 {
			return nil
		}
		name := img.Name
		if name == "" {
			name = fmt.Sprintf("page%d_img%d", img.PageNr, len(imgs))
		}
		if img.FileType != "" && !strings.HasSuffix(name, "."+img.FileType) {
			name = name + "." + img.FileType
		}
		imgs = append(imgs, Image{Name: name, Data: data})
		return nil
	}

	if err := api.ExtractImages(bytes.NewReader(raw), nil, digest, conf); err != nil {
		opts.Logger.Debug("pdf image extraction failed", "error", err)
		return nil
	}
	return imgs
}
