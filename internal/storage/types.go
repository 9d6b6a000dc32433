package storage

import (
	"errors"
	"time"

	"github.com/staketrack/staketrack/pkg/types"
)

var (
	// ErrNotFound indicates that the requested record was not found.
	ErrNotFound = errors.New("record not found")

	// ErrValidation indicates malformed input to an append or query call.
	// No partial write occurs when it is returned.
	ErrValidation = errors.New("invalid input")

	// ErrPersistence indicates an underlying store I/O failure.
	// The store does not retry; that decision belongs to the caller.
	ErrPersistence = errors.New("persistence failure")
)

// DefaultQueryLimit bounds query results when the caller does not set one.
const DefaultQueryLimit = 1000

// QueryFilter selects operation records. Zero values mean "no filter"
// for every field; time bounds are inclusive.
type QueryFilter struct {
	// Start is the inclusive lower bound on record timestamps.
	Start time.Time

	// End is the inclusive upper bound on record timestamps.
	End time.Time

	// Kinds restricts results to the given operation kinds (set membership).
	Kinds []types.OperationKind

	// Component restricts results to records emitted by one component.
	Component string

	// SessionID restricts results to one session.
	SessionID string

	// UserID restricts results to one user.
	UserID string

	// Success, when non-nil, restricts results by outcome.
	Success *bool

	// Limit bounds the result size. Defaults to DefaultQueryLimit.
	Limit int
}

// GroupStats summarizes one operation-kind or component group.
type GroupStats struct {
	Count         int     `json:"count"`
	Successful    int     `json:"successful"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

// Statistics aggregates the records matched by a filter.
type Statistics struct {
	TotalOperations int     `json:"total_operations"`
	Successful      int     `json:"successful_operations"`
	Failed          int     `json:"failed_operations"`
	SuccessRate     float64 `json:"success_rate"`
	AvgDurationMS   float64 `json:"avg_execution_time_ms"`
	MaxDurationMS   float64 `json:"max_execution_time_ms"`
	UniqueSessions  int     `json:"unique_sessions"`
	UniqueUsers     int     `json:"unique_users"`

	// ByKind breaks the totals down per operation kind.
	ByKind map[string]GroupStats `json:"operation_statistics"`

	// ByComponent breaks the totals down per emitting component.
	ByComponent map[string]GroupStats `json:"component_statistics"`
}
