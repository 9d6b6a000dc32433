// Package types defines the shared domain types for the staketrack
// operation-history and backup subsystems.
package types

import (
	"time"
)

// OperationKind identifies the category of a logged operation.
// The set is closed: LogOperation rejects kinds that are not declared here.
type OperationKind string

// Well-known operation kinds.
const (
	OpAnalysisStart          OperationKind = "analysis_start"
	OpAnalysisComplete       OperationKind = "analysis_complete"
	OpParticipantCategorized OperationKind = "participant_categorized"
	OpRewardCalculated       OperationKind = "reward_calculated"
	OpPaymentRegistered      OperationKind = "payment_registered"
	OpPaymentConfirmed       OperationKind = "payment_confirmed"
	OpPaymentFailed          OperationKind = "payment_failed"
	OpBlockchainQuery        OperationKind = "blockchain_query"
	OpCacheHit               OperationKind = "cache_hit"
	OpCacheMiss              OperationKind = "cache_miss"
	OpErrorOccurred          OperationKind = "error_occurred"
	OpSystemStart            OperationKind = "system_start"
	OpSystemStop             OperationKind = "system_stop"
	OpConfigChanged          OperationKind = "config_changed"
	OpDatabaseBackup         OperationKind = "database_backup"
	OpDataExport             OperationKind = "data_export"
	OpHistoryArchived        OperationKind = "history_archived"
)

var knownKinds = map[OperationKind]bool{
	OpAnalysisStart:          true,
	OpAnalysisComplete:       true,
	OpParticipantCategorized: true,
	OpRewardCalculated:       true,
	OpPaymentRegistered:      true,
	OpPaymentConfirmed:       true,
	OpPaymentFailed:          true,
	OpBlockchainQuery:        true,
	OpCacheHit:               true,
	OpCacheMiss:              true,
	OpErrorOccurred:          true,
	OpSystemStart:            true,
	OpSystemStop:             true,
	OpConfigChanged:          true,
	OpDatabaseBackup:         true,
	OpDataExport:             true,
	OpHistoryArchived:        true,
}

// Valid reports whether k is one of the declared operation kinds.
func (k OperationKind) Valid() bool {
	return knownKinds[k]
}

// AllOperationKinds returns the declared operation kinds in no particular order.
func AllOperationKinds() []OperationKind {
	kinds := make([]OperationKind, 0, len(knownKinds))
	for k := range knownKinds {
		kinds = append(kinds, k)
	}
	return kinds
}

// OperationRecord is one immutable entry in the operation history.
// Once appended it is never mutated; corrections are new records.
type OperationRecord struct {
	// ID is the globally unique record identifier, assigned at write time.
	ID string `json:"id"`

	// Timestamp is the record creation time (UTC).
	Timestamp time.Time `json:"timestamp"`

	// Kind is the operation category.
	Kind OperationKind `json:"operation_type"`

	// UserID optionally identifies the user the operation was performed for.
	UserID string `json:"user_id,omitempty"`

	// SessionID groups records emitted by one process run.
	SessionID string `json:"session_id"`

	// Component names the subsystem that emitted the record
	// (blockchain, analyzer, reward_manager, cache, system, ...).
	Component string `json:"component"`

	// Details is the structured payload describing the operation.
	// Decimal amounts are stored as exact-precision strings.
	Details map[string]any `json:"details"`

	// Success reports whether the operation completed successfully.
	Success bool `json:"success"`

	// DurationMS is the optional execution time in milliseconds.
	DurationMS *float64 `json:"execution_time_ms,omitempty"`

	// ErrorMessage carries the failure reason when Success is false.
	ErrorMessage string `json:"error_message,omitempty"`

	// Metadata is an optional secondary payload, same conventions as Details.
	Metadata map[string]any `json:"metadata,omitempty"`
}
