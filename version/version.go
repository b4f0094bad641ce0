// Package version writes the canonical on-disk form of one processed
// policy: a `<slug>_<timestamp>/` directory holding normalized text,
// markdown, and images, plus an append-only CSV ledger row.
//
// A version is immutable once written — re-processing the same source
// yields a new timestamp, never an in-place mutation. The ledger row is
// appended only after every file is durably on disk, so a half-written
// directory is never mistaken for a complete version by the synchronizer.
package version

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hazyhaar/policorpus/extract"
)

// Source kinds recorded in the ledger.
const (
	SourceURL      = "url"
	SourceLocalPDF = "local-pdf"
)

// TimestampLayout is the filesystem-safe timestamp format in directory
// names and ledger rows.
const TimestampLayout = "20060102T150405"

const (
	fileText     = "content.txt"
	fileMarkdown = "content.md"
	dirImages    = "images"
)

// Meta identifies one processed version.
type Meta struct {
	Title      string
	Timestamp  string // TimestampLayout, UTC
	SourceKind string // SourceURL or SourceLocalPDF
	SourceRef  string // originating URL or file path
}

// DirName is `<slug>_<timestamp>`.
func (m Meta) DirName() string {
	return Slugify(m.Title) + "_" + m.Timestamp
}

// Builder writes version directories under a fixed root and appends to the
// shared ledger.
type Builder struct {
	Root       string // scraped_policies or local_policies directory
	LedgerPath string
	Logger     *slog.Logger
}

// NewBuilder creates a Builder. A nil logger falls back to slog.Default().
func NewBuilder(root, ledgerPath string, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{Root: root, LedgerPath: ledgerPath, Logger: logger}
}

// Now returns the current UTC timestamp in ledger format.
func Now() string { return time.Now().UTC().Format(TimestampLayout) }

// Build writes the version directory and then the ledger row. On any file
// error the partial directory is removed and no ledger row exists — the
// directory write as a whole behaves atomically from the synchronizer's
// point of view.
func (b *Builder) Build(meta Meta, content *extract.Content) (string, error) {
	if meta.Title == "" {
		return "", fmt.Errorf("version: empty title")
	}
	if meta.Timestamp == "" {
		meta.Timestamp = Now()
	}

	dir := filepath.Join(b.Root, meta.DirName())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("version: mkdir %s: %w", dir, err)
	}

	if err := b.writeFiles(dir, content); err != nil {
		os.RemoveAll(dir)
		return "", err
	}

	entry := Entry{
		Title:      meta.Title,
		Timestamp:  meta.Timestamp,
		SourceKind: meta.SourceKind,
		SourceRef:  meta.SourceRef,
		Dir:        meta.DirName(),
	}
	if err := AppendLedger(b.LedgerPath, entry); err != nil {
		// Leave the directory: a complete directory without a ledger row is
		// recoverable by the reconcile sweep, the reverse is not.
		return "", err
	}

	b.Logger.Info("version written",
		"title", meta.Title, "timestamp", meta.Timestamp,
		"source_kind", meta.SourceKind, "images", len(content.Images))
	return dir, nil
}

func (b *Builder) writeFiles(dir string, content *extract.Content) error {
	if err := writeSynced(filepath.Join(dir, fileText), []byte(content.Text)); err != nil {
		return err
	}
	if err := writeSynced(filepath.Join(dir, fileMarkdown), []byte(content.Markdown)); err != nil {
		return err
	}

	stored := 0
	for _, img := range content.Images {
		if len(img.Data) == 0 {
			continue // unreferenced remote image, nothing to persist
		}
		if stored == 0 {
			if err := os.MkdirAll(filepath.Join(dir, dirImages), 0o755); err != nil {
				return fmt.Errorf("version: mkdir images: %w", err)
			}
		}
		name := filepath.Base(img.Name)
		if name == "" || name == "." || name == "/" {
			name = fmt.Sprintf("image_%d", stored)
		}
		if err := writeSynced(filepath.Join(dir, dirImages, name), img.Data); err != nil {
			return err
		}
		stored++
	}
	return nil
}

// writeSynced writes data and fsyncs before close, so the ledger append
// that follows never points at buffered-only content.
func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("version: create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("version: write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("version: sync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("version: close %s: %w", path, err)
	}
	return nil
}

// Complete verifies a version directory holds the files the synchronizer
// expects. Used when reconciling directories against the ledger.
func Complete(dir string) bool {
	for _, name := range []string{fileText, fileMarkdown} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || info.IsDir() {
			return false
		}
	}
	return true
}

// ReadText loads the normalized text of a version directory.
func ReadText(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, fileText))
	if err != nil {
		return "", fmt.Errorf("version: read text: %w", err)
	}
	return string(data), nil
}

// Images lists stored image files of a version directory, name plus bytes.
func Images(dir string) ([]extract.Image, error) {
	entries, err := os.ReadDir(filepath.Join(dir, dirImages))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("version: read images: %w", err)
	}

	var imgs []extract.Image
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, dirImages, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("version: read image %s: %w", e.Name(), err)
		}
		imgs = append(imgs, extract.Image{Name: e.Name(), Data: data})
	}
	return imgs, nil
}
