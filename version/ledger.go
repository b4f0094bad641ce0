package version

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
)

// Entry is one row of the processed-policies ledger.
type Entry struct {
	Title      string
	Timestamp  string
	SourceKind string
	SourceRef  string
	Dir        string // directory name relative to the source-kind root
}

var ledgerHeader = []string{"title", "timestamp", "source_kind", "source_ref", "dir"}

// AppendLedger appends one row, writing the header first on a fresh file.
// Rows are flushed before close so a crash after return cannot lose them.
func AppendLedger(path string, e Entry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ledger: mkdir: %w", err)
	}

	info, err := os.Stat(path)
	fresh := os.IsNotExist(err) || (err == nil && info.Size() == 0)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("ledger: open: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(ledgerHeader); err != nil {
			return fmt.Errorf("ledger: write header: %w", err)
		}
	}
	if err := w.Write([]string{e.Title, e.Timestamp, e.SourceKind, e.SourceRef, e.Dir}); err != nil {
		return fmt.Errorf("ledger: write row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("ledger: flush: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("ledger: sync: %w", err)
	}
	return nil
}

// ReadLedger returns every row of the ledger in append order. A missing
// file is an empty ledger, not an error.
func ReadLedger(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // tolerate rows from older layouts
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("ledger: parse: %w", err)
	}

	var entries []Entry
	for i, rec := range records {
		if i == 0 && len(rec) > 0 && rec[0] == ledgerHeader[0] {
			continue
		}
		if len(rec) < 4 {
			return nil, fmt.Errorf("ledger: row %d: want at least 4 fields, got %d", i+1, len(rec))
		}
		e := Entry{Title: rec[0], Timestamp: rec[1], SourceKind: rec[2], SourceRef: rec[3]}
		if len(rec) >= 5 {
			e.Dir = rec[4]
		} else {
			e.Dir = Slugify(e.Title) + "_" + e.Timestamp
		}
		entries = append(entries, e)
	}
	return entries, nil
}
