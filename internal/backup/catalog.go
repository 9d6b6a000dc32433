package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/staketrack/staketrack/pkg/types"
)

// catalogFileName is the catalog's location inside the backup directory.
const catalogFileName = "backup_index.json"

// Catalog is the durable registry of backup entries. Cardinality is low
// (tens to low thousands), so the whole catalog is held in memory and
// rewritten on every mutation; the rewrite goes through a temp file and
// an atomic rename so a reader never observes a partial catalog.
type Catalog struct {
	path string

	mu      sync.Mutex
	entries []types.BackupEntry
}

// OpenCatalog loads the catalog from dir, creating an empty one if none
// exists yet.
func OpenCatalog(dir string) (*Catalog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	c := &Catalog{path: filepath.Join(dir, catalogFileName)}

	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return c, c.save()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup catalog: %w", err)
	}

	if err := json.Unmarshal(data, &c.entries); err != nil {
		return nil, fmt.Errorf("malformed backup catalog %s: %w", c.path, err)
	}
	return c, nil
}

// Entries returns a copy of the catalog in creation order.
func (c *Catalog) Entries() []types.BackupEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.BackupEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Get returns the entry with the given ID.
func (c *Catalog) Get(id string) (types.BackupEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.ID == id {
			return e, true
		}
	}
	return types.BackupEntry{}, false
}

// Append adds an entry and persists the catalog.
func (c *Catalog) Append(entry types.BackupEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
	if err := c.save(); err != nil {
		// Keep the in-memory entry; the next successful save persists it.
		return err
	}
	return nil
}

// Remove deletes the entry with the given ID and persists the catalog.
// It reports whether an entry was removed.
func (c *Catalog) Remove(id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.entries[:0]
	removed := false
	for _, e := range c.entries {
		if e.ID == id {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	c.entries = kept

	if !removed {
		return false, nil
	}
	return true, c.save()
}

// LastSuccessful returns the most recent successful entry, optionally
// restricted to one backup kind (empty kind matches any).
func (c *Catalog) LastSuccessful(kind types.BackupKind) (types.BackupEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.entries) - 1; i >= 0; i-- {
		e := c.entries[i]
		if e.Success && (kind == "" || e.Kind == kind) {
			return e, true
		}
	}
	return types.BackupEntry{}, false
}

// save rewrites the catalog file. Caller must hold c.mu.
func (c *Catalog) save() error {
	entries := c.entries
	if entries == nil {
		entries = []types.BackupEntry{}
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize backup catalog: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), catalogFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create catalog temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write backup catalog: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync backup catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close backup catalog: %w", err)
	}

	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace backup catalog: %w", err)
	}
	return nil
}
