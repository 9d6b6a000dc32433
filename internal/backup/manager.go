package backup

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/staketrack/staketrack/internal/history"
	"github.com/staketrack/staketrack/pkg/types"
)

// Recorder receives an operation record for every finished backup
// attempt. *history.Manager satisfies it.
type Recorder interface {
	LogOperation(ctx context.Context, e history.Entry) (string, error)
}

// Manager orchestrates snapshot creation, verification, restore, and
// retention over a Catalog and the tracked artifact set.
type Manager struct {
	dir           string
	artifacts     []Artifact
	maxSuccessful int
	interval      time.Duration
	quiesce       func() (func(), error)

	catalog  *Catalog
	recorder Recorder
	remote   *Replicator

	// mu serializes backup attempts: the whole create → append → save
	// sequence is one critical section, so two concurrent attempts can
	// never interleave their catalog writes.
	mu sync.Mutex

	schedMu sync.Mutex
	running bool
	stopCh  chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecorder wires a history recorder; every finished attempt is
// logged as a database_backup operation.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithReplicator enables best-effort upload of successful archives to
// remote object storage.
func WithReplicator(r *Replicator) Option {
	return func(m *Manager) { m.remote = r }
}

// NewManager creates a backup manager and loads (or creates) its catalog.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if cfg.BackupDir == "" {
		return nil, fmt.Errorf("backup directory is required")
	}
	if cfg.MaxSuccessful <= 0 {
		cfg.MaxSuccessful = 30
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}

	catalog, err := OpenCatalog(cfg.BackupDir)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		dir:           cfg.BackupDir,
		artifacts:     cfg.Artifacts,
		maxSuccessful: cfg.MaxSuccessful,
		interval:      cfg.Interval,
		quiesce:       cfg.Quiesce,
		catalog:       catalog,
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	log.Printf("backup: manager initialised (dir=%s, artifacts=%d)", m.dir, len(m.artifacts))
	return m, nil
}

// CreateFullBackup snapshots every tracked artifact into one archive.
// The attempt always produces a catalog entry: on failure the entry is
// marked unsuccessful and carries the error message. The returned error
// is non-nil only when the catalog itself could not record the attempt.
func (m *Manager) CreateFullBackup(ctx context.Context, description string) (*types.BackupEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runAttempt(ctx, types.BackupFull, "", description, m.artifacts)
}

// CreateIncrementalBackup snapshots only the artifacts modified since
// the baseline backup. The baseline is sinceID or, when empty, the most
// recent successful entry; with no prior successful entry it falls back
// to a full backup. It returns (nil, nil) when nothing changed.
//
// Change detection compares each artifact's newest modification time to
// the baseline entry's timestamp. This is coarse: clock skew, filesystem
// mtime granularity, and same-instant writes can hide a change. The
// alternative, hashing every artifact on every run, was rejected for its
// cost; verify() still catches corrupted archives after the fact.
func (m *Manager) CreateIncrementalBackup(ctx context.Context, sinceID, description string) (*types.BackupEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var baseline types.BackupEntry
	if sinceID != "" {
		entry, ok := m.catalog.Get(sinceID)
		if !ok {
			return nil, fmt.Errorf("%w: baseline %s", ErrNotFound, sinceID)
		}
		if !entry.Success {
			return nil, fmt.Errorf("%w: baseline %s was not successful", ErrNotFound, sinceID)
		}
		baseline = entry
	} else {
		entry, ok := m.catalog.LastSuccessful("")
		if !ok {
			log.Printf("backup: no successful baseline, falling back to full backup")
			return m.runAttempt(ctx, types.BackupFull, "", "incremental fallback: "+description, m.artifacts)
		}
		baseline = entry
	}

	changed := m.changedSince(baseline.Timestamp)
	if len(changed) == 0 {
		log.Printf("backup: no artifacts changed since %s, skipping incremental", baseline.ID)
		return nil, nil
	}

	return m.runAttempt(ctx, types.BackupIncremental, baseline.ID, description, changed)
}

// changedSince returns the artifacts whose newest modification time is
// strictly after the given instant. Missing artifacts are skipped; an
// artifact whose mtime cannot be read counts as changed, so an
// unreadable artifact is never silently left out of a delta.
func (m *Manager) changedSince(since time.Time) []Artifact {
	var changed []Artifact
	for _, a := range m.artifacts {
		mtime, err := latestMTime(a.Path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			log.Printf("backup: cannot stat artifact %s (%s), treating as changed: %v", a.Role, a.Path, err)
			changed = append(changed, a)
			continue
		}
		if mtime.After(since) {
			changed = append(changed, a)
		}
	}
	return changed
}

// runAttempt drives one backup attempt through its states:
// started → collecting → archiving → succeeded or failed.
// Caller must hold m.mu.
func (m *Manager) runAttempt(ctx context.Context, kind types.BackupKind, baselineID, description string, artifacts []Artifact) (*types.BackupEntry, error) {
	entry := types.BackupEntry{
		ID:          newBackupID(),
		Timestamp:   time.Now().UTC(),
		Kind:        kind,
		BaselineID:  baselineID,
		Description: description,
	}

	archivePath, size, checksum, err := m.collectAndArchive(entry, artifacts)
	if err != nil {
		entry.Success = false
		entry.ErrorMessage = err.Error()
		log.Printf("backup: attempt %s failed: %v", entry.ID, err)
	} else {
		entry.Success = true
		entry.Path = archivePath
		entry.Size = size
		entry.Checksum = checksum
		log.Printf("backup: %s backup %s created (%d bytes)", kind, entry.ID, size)
	}

	if err := m.catalog.Append(entry); err != nil {
		return &entry, fmt.Errorf("backup attempt %s finished but catalog write failed: %w", entry.ID, err)
	}

	m.recordAttempt(ctx, entry)

	if entry.Success && m.remote != nil {
		if err := m.remote.Replicate(ctx, entry.Path); err != nil {
			// Replication is best effort; the local backup stands.
			log.Printf("backup: remote replication of %s failed: %v", entry.ID, err)
		}
	}

	return &entry, nil
}

// collectAndArchive stages the artifacts, writes the manifest, and
// packages everything into <backup_id>.tar.gz. It returns the archive
// path, size, and checksum.
func (m *Manager) collectAndArchive(entry types.BackupEntry, artifacts []Artifact) (string, int64, string, error) {
	staging := filepath.Join(m.dir, "temp_"+entry.ID)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return "", 0, "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	if m.quiesce != nil {
		release, err := m.quiesce()
		if err != nil {
			return "", 0, "", fmt.Errorf("quiesce hook failed: %w", err)
		}
		defer release()
	}

	man := manifest{
		BackupID:    entry.ID,
		Timestamp:   entry.Timestamp,
		Kind:        string(entry.Kind),
		BaselineID:  entry.BaselineID,
		Description: entry.Description,
		Files:       make(map[string]manifestFile),
	}

	for _, a := range artifacts {
		info, err := os.Stat(a.Path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return "", 0, "", fmt.Errorf("failed to stat artifact %s: %w", a.Role, err)
		}

		if info.IsDir() {
			dest := filepath.Join(staging, a.Role)
			if err := copyTree(a.Path, dest); err != nil {
				return "", 0, "", fmt.Errorf("failed to copy artifact directory %s: %w", a.Role, err)
			}
			man.Files[a.Role] = manifestFile{
				Source:    a.Path,
				Name:      a.Role,
				Directory: true,
			}
			continue
		}

		name := a.Role + "_" + filepath.Base(a.Path)
		dest := filepath.Join(staging, name)
		if err := copyFile(a.Path, dest); err != nil {
			return "", 0, "", fmt.Errorf("failed to copy artifact %s: %w", a.Role, err)
		}
		sum, size, err := fileChecksum(dest)
		if err != nil {
			return "", 0, "", fmt.Errorf("failed to checksum artifact %s: %w", a.Role, err)
		}
		man.Files[a.Role] = manifestFile{
			Source:   a.Path,
			Name:     name,
			Size:     size,
			Checksum: sum,
		}
	}

	if err := writeManifest(filepath.Join(staging, manifestName), man); err != nil {
		return "", 0, "", err
	}

	archivePath := filepath.Join(m.dir, entry.ID+".tar.gz")
	if err := createTarGz(staging, archivePath); err != nil {
		return "", 0, "", err
	}

	checksum, size, err := fileChecksum(archivePath)
	if err != nil {
		os.Remove(archivePath)
		return "", 0, "", fmt.Errorf("failed to checksum archive: %w", err)
	}

	return archivePath, size, checksum, nil
}

// Verify checks a backup's integrity: the catalog entry must exist, the
// archive must exist on disk, and its size and checksum must match the
// recorded values. A mismatch is reported, never repaired.
func (m *Manager) Verify(id string) error {
	entry, ok := m.catalog.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return m.verifyEntry(entry)
}

func (m *Manager) verifyEntry(entry types.BackupEntry) error {
	if !entry.Success {
		return fmt.Errorf("%w: %s was not a successful backup", ErrIntegrity, entry.ID)
	}

	info, err := os.Stat(entry.Path)
	if err != nil {
		return fmt.Errorf("%w: archive missing for %s: %v", ErrIntegrity, entry.ID, err)
	}
	if info.Size() != entry.Size {
		return fmt.Errorf("%w: %s size mismatch (recorded %d, found %d)", ErrIntegrity, entry.ID, entry.Size, info.Size())
	}

	checksum, _, err := fileChecksum(entry.Path)
	if err != nil {
		return fmt.Errorf("%w: cannot checksum archive for %s: %v", ErrIntegrity, entry.ID, err)
	}
	if checksum != entry.Checksum {
		return fmt.Errorf("%w: %s checksum mismatch", ErrIntegrity, entry.ID)
	}

	return nil
}

// Restore unpacks a verified backup into destDir. The entry must be
// successful and pass the same integrity checks as Verify; after
// extraction the embedded manifest must be present, otherwise the
// restore is a failure even though the unpack itself succeeded.
func (m *Manager) Restore(id, destDir string) error {
	entry, ok := m.catalog.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err := m.verifyEntry(entry); err != nil {
		return fmt.Errorf("refusing to restore: %w", err)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create restore directory: %w", err)
	}

	if err := extractTarGz(entry.Path, destDir); err != nil {
		return fmt.Errorf("failed to unpack backup %s: %w", id, err)
	}

	if _, err := os.Stat(filepath.Join(destDir, manifestName)); err != nil {
		return fmt.Errorf("backup %s unpacked but manifest is missing: %w", id, err)
	}

	log.Printf("backup: restored %s into %s", id, destDir)
	return nil
}

// CleanupRetention deletes the oldest successful backups beyond the
// retention ceiling, artifact and catalog entry both. Failed entries are
// kept for diagnostics regardless of age. Returns the number deleted.
func (m *Manager) CleanupRetention() (int, error) {
	successful := m.ListBackups("", true)
	if len(successful) <= m.maxSuccessful {
		return 0, nil
	}

	deleted := 0
	for _, entry := range successful[m.maxSuccessful:] {
		if err := m.DeleteBackup(entry.ID); err != nil {
			return deleted, fmt.Errorf("retention cleanup stopped at %s: %w", entry.ID, err)
		}
		log.Printf("backup: retention evicted %s", entry.ID)
		deleted++
	}
	return deleted, nil
}

// DeleteBackup removes a backup's artifact and its catalog entry.
func (m *Manager) DeleteBackup(id string) error {
	entry, ok := m.catalog.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if entry.Path != "" {
		if err := os.Remove(entry.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete archive for %s: %w", id, err)
		}
	}

	if _, err := m.catalog.Remove(id); err != nil {
		return err
	}
	return nil
}

// ListBackups returns catalog entries newest first, optionally filtered
// by kind (empty matches any) and success.
func (m *Manager) ListBackups(kind types.BackupKind, successfulOnly bool) []types.BackupEntry {
	var out []types.BackupEntry
	for _, e := range m.catalog.Entries() {
		if kind != "" && e.Kind != kind {
			continue
		}
		if successfulOnly && !e.Success {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// LastSuccessful returns the most recent successful entry, optionally
// restricted to one kind.
func (m *Manager) LastSuccessful(kind types.BackupKind) (types.BackupEntry, bool) {
	return m.catalog.LastSuccessful(kind)
}

// Statistics summarizes the catalog.
func (m *Manager) Statistics() Statistics {
	stats := Statistics{BackupDirectory: m.dir}

	for _, e := range m.catalog.Entries() {
		stats.TotalBackups++
		if !e.Success {
			stats.FailedBackups++
			continue
		}
		stats.SuccessfulBackups++
		stats.TotalSizeBytes += e.Size
		switch e.Kind {
		case types.BackupFull:
			stats.FullBackups++
		case types.BackupIncremental:
			stats.IncrementalBackups++
		}
	}

	if stats.TotalBackups > 0 {
		stats.SuccessRate = float64(stats.SuccessfulBackups) / float64(stats.TotalBackups) * 100
	}
	if last, ok := m.catalog.LastSuccessful(""); ok {
		ts := last.Timestamp
		stats.LastBackupTime = &ts
	}

	return stats
}

// recordAttempt logs the finished attempt to the operation history,
// when a recorder is wired.
func (m *Manager) recordAttempt(ctx context.Context, entry types.BackupEntry) {
	if m.recorder == nil {
		return
	}
	_, err := m.recorder.LogOperation(ctx, history.Entry{
		Kind:      types.OpDatabaseBackup,
		Component: "backup_manager",
		Details: map[string]any{
			"backup_id":   entry.ID,
			"backup_type": string(entry.Kind),
			"baseline_id": entry.BaselineID,
			"file_size":   entry.Size,
			"checksum":    entry.Checksum,
		},
		Success:      entry.Success,
		ErrorMessage: entry.ErrorMessage,
	})
	if err != nil {
		log.Printf("backup: failed to record attempt %s in history: %v", entry.ID, err)
	}
}

// newBackupID derives a lexically sortable, human-decodable backup ID
// from the creation timestamp. Microsecond precision keeps IDs unique
// under rapid successive attempts.
func newBackupID() string {
	return "backup_" + time.Now().UTC().Format("20060102_150405.000000")
}

func writeManifest(path string, man manifest) error {
	data, err := marshalManifest(man)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
