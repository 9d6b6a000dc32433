// Package storage defines the persistence contract for operation records.
//
// The record store is append-only: records are never updated in place,
// only appended, queried, aggregated, and eventually moved in bulk to an
// archive table once they age past the retention threshold.
package storage

import (
	"context"
	"time"

	"github.com/staketrack/staketrack/pkg/types"
)

// RecordStore provides durable, indexed persistence for OperationRecord.
type RecordStore interface {
	// Append writes one record and returns its ID. Safe for concurrent
	// callers: each write is atomic and no partial record is ever
	// visible to a concurrent reader. Returns ErrValidation for
	// malformed records and ErrPersistence on I/O failure.
	Append(ctx context.Context, record *types.OperationRecord) (string, error)

	// Get retrieves a single record by ID from the primary table.
	// Returns ErrNotFound if no such record exists.
	Get(ctx context.Context, id string) (*types.OperationRecord, error)

	// Query returns records matching the filter, ordered by timestamp
	// descending, at most filter.Limit results. An empty result is not
	// an error.
	Query(ctx context.Context, filter QueryFilter) ([]*types.OperationRecord, error)

	// QueryArchive is Query against the archive table.
	QueryArchive(ctx context.Context, filter QueryFilter) ([]*types.OperationRecord, error)

	// Aggregate computes summary statistics over the records matching
	// the filter, including per-kind and per-component breakdowns.
	Aggregate(ctx context.Context, filter QueryFilter) (*Statistics, error)

	// ArchiveBefore moves every record with timestamp strictly before
	// cutoff into the archive table, atomically: no record is ever
	// counted in both tables or in neither. Returns the number moved.
	ArchiveBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Close releases the store's resources.
	Close() error
}
