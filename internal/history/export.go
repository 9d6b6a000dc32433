package history

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/staketrack/staketrack/internal/storage"
	"github.com/staketrack/staketrack/pkg/types"
)

// ErrExport indicates an export I/O or serialization failure.
// Exports never leave a partially-written output file behind.
var ErrExport = errors.New("export failed")

// ExportOptions controls Export.
type ExportOptions struct {
	// Format selects the output encoding. Only "json" is supported.
	Format string

	// Compress gzips the output and appends ".gz" to the requested path.
	Compress bool

	// Filter selects the records to export.
	Filter storage.QueryFilter
}

// exportDocument is the on-disk export envelope.
type exportDocument struct {
	ExportedAt  time.Time                `json:"exported_at"`
	RecordCount int                      `json:"record_count"`
	Version     string                   `json:"version"`
	Records     []*types.OperationRecord `json:"records"`
}

// Export serializes the filtered history to path and returns the final
// output path ("<path>.gz" when compressed). Any I/O or serialization
// failure surfaces as ErrExport; the partially-written temp file is
// removed before returning.
func (m *Manager) Export(ctx context.Context, path string, opts ExportOptions) (string, error) {
	if opts.Format == "" {
		opts.Format = "json"
	}
	if opts.Format != "json" {
		return "", fmt.Errorf("%w: unsupported format %q", ErrExport, opts.Format)
	}

	records, err := m.store.Query(ctx, opts.Filter)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExport, err)
	}
	if records == nil {
		records = []*types.OperationRecord{}
	}

	doc := exportDocument{
		ExportedAt:  time.Now().UTC(),
		RecordCount: len(records),
		Version:     version,
		Records:     records,
	}

	content, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: failed to serialize records: %v", ErrExport, err)
	}

	finalPath := path
	if opts.Compress {
		finalPath = path + ".gz"
	}

	if err := writeAtomic(finalPath, content, opts.Compress); err != nil {
		return "", fmt.Errorf("%w: %v", ErrExport, err)
	}

	if _, err := m.LogOperation(ctx, Entry{
		Kind:      types.OpDataExport,
		Component: "history_manager",
		Details: map[string]any{
			"file_path":     finalPath,
			"format":        opts.Format,
			"compressed":    opts.Compress,
			"records_count": len(records),
		},
		Success: true,
	}); err != nil {
		return finalPath, fmt.Errorf("export written but failed to log: %w", err)
	}

	log.Printf("history: exported %d records to %s", len(records), finalPath)
	return finalPath, nil
}

// writeAtomic writes content to path via a temp file in the same
// directory and an atomic rename, so a reader never sees a partial file.
func writeAtomic(path string, content []byte, compress bool) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	writeErr := func() error {
		defer tmp.Close()
		if compress {
			gz := gzip.NewWriter(tmp)
			if _, err := gz.Write(content); err != nil {
				return err
			}
			if err := gz.Close(); err != nil {
				return err
			}
		} else {
			if _, err := tmp.Write(content); err != nil {
				return err
			}
		}
		return tmp.Sync()
	}()
	if writeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write export: %w", writeErr)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize export: %w", err)
	}
	return nil
}
