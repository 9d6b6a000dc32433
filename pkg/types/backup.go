package types

import (
	"time"
)

// BackupKind distinguishes full snapshots from incremental ones.
type BackupKind string

const (
	// BackupFull captures every tracked artifact.
	BackupFull BackupKind = "full"

	// BackupIncremental captures only artifacts modified since the baseline backup.
	BackupIncremental BackupKind = "incremental"
)

// BackupEntry records one backup attempt, successful or not.
// Failed attempts carry no valid artifact; they exist for the audit trail.
type BackupEntry struct {
	// ID is derived from the creation timestamp, so entries sort
	// lexically in creation order and the ID stays human-decodable.
	ID string `json:"backup_id"`

	// Timestamp is when the attempt started (UTC).
	Timestamp time.Time `json:"timestamp"`

	// Kind is full or incremental.
	Kind BackupKind `json:"backup_type"`

	// BaselineID names the successful backup an incremental entry was
	// diffed against. Empty for full backups.
	BaselineID string `json:"baseline_id,omitempty"`

	// Path is the archive location on disk. Empty for failed attempts.
	Path string `json:"file_path"`

	// Size is the archive size in bytes.
	Size int64 `json:"file_size"`

	// Checksum is the lowercase-hex SHA-256 of the archive.
	Checksum string `json:"checksum"`

	// Description is free text supplied by the caller.
	Description string `json:"description"`

	// Success reports whether the attempt produced a usable archive.
	Success bool `json:"success"`

	// ErrorMessage carries the failure reason when Success is false.
	ErrorMessage string `json:"error_message,omitempty"`
}
