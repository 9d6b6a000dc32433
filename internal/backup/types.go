// Package backup provides full and incremental snapshotting of the
// tracked artifact set with integrity verification, restore, retention
// cleanup, and a background schedule.
package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates that no catalog entry exists for the given ID.
	ErrNotFound = errors.New("backup not found")

	// ErrIntegrity indicates a checksum or size mismatch between a catalog
	// entry and the artifact on disk. Never auto-corrected; restore is
	// refused when it is detected.
	ErrIntegrity = errors.New("backup integrity check failed")
)

// Artifact is one tracked source to snapshot: a file or a directory tree,
// treated as opaque bytes. Role names the artifact inside the archive
// (main_database, history_database, config, logs).
type Artifact struct {
	Role string
	Path string
}

// Config holds backup manager configuration.
type Config struct {
	// BackupDir is the directory where archives and the catalog live.
	BackupDir string

	// Artifacts is the tracked artifact set. Artifacts missing on disk
	// at backup time are skipped, not errors.
	Artifacts []Artifact

	// MaxSuccessful is the retention ceiling: cleanup evicts the oldest
	// successful entries beyond this count (default: 30). Failed entries
	// are never auto-deleted.
	MaxSuccessful int

	// Interval is the schedule period for automatic full backups
	// (default: 24h).
	Interval time.Duration

	// Quiesce, when set, is invoked before artifact copying begins and
	// its release function after copying ends. Collaborators can use it
	// to briefly freeze writers; without it a backup is consistent only
	// as of copy time.
	Quiesce func() (release func(), err error)
}

// Statistics summarizes the catalog.
type Statistics struct {
	TotalBackups       int        `json:"total_backups"`
	SuccessfulBackups  int        `json:"successful_backups"`
	FailedBackups      int        `json:"failed_backups"`
	SuccessRate        float64    `json:"success_rate"`
	TotalSizeBytes     int64      `json:"total_size_bytes"`
	FullBackups        int        `json:"full_backups"`
	IncrementalBackups int        `json:"incremental_backups"`
	LastBackupTime     *time.Time `json:"last_backup_time,omitempty"`
	BackupDirectory    string     `json:"backup_directory"`
}

// manifestFile is the per-artifact metadata stored in the archive manifest.
type manifestFile struct {
	Source    string `json:"source"`
	Name      string `json:"name"`
	Size      int64  `json:"size,omitempty"`
	Checksum  string `json:"checksum,omitempty"`
	Directory bool   `json:"directory,omitempty"`
}

// manifest describes the contents of one backup archive.
type manifest struct {
	BackupID    string                  `json:"backup_id"`
	Timestamp   time.Time               `json:"timestamp"`
	Kind        string                  `json:"backup_type"`
	BaselineID  string                  `json:"baseline_id,omitempty"`
	Description string                  `json:"description"`
	Files       map[string]manifestFile `json:"files"`
}

// manifestName is the manifest's file name inside every archive.
// Restore requires its presence to declare success.
const manifestName = "backup_manifest.json"

func marshalManifest(man manifest) ([]byte, error) {
	data, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize manifest: %w", err)
	}
	return data, nil
}
