// Package history provides the typed façade over the operation record
// store: logging, querying, statistics, export, and archival.
//
// A Manager owns the session identity for the current process run and
// appends a system-start record on construction. It never swallows a
// storage failure: a failed append surfaces as storage.ErrPersistence.
package history

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/staketrack/staketrack/internal/storage"
	"github.com/staketrack/staketrack/pkg/types"
)

// version is recorded in the system-start details payload.
const version = "1.0.0"

// Manager logs operations against a RecordStore on behalf of the
// current process session.
type Manager struct {
	store     storage.RecordStore
	sessionID string
}

// Option configures a Manager.
type Option func(*Manager)

// WithSessionID overrides the generated session identifier. Useful when
// the host process already carries a correlation ID.
func WithSessionID(id string) Option {
	return func(m *Manager) { m.sessionID = id }
}

// NewManager creates a Manager bound to store and immediately appends a
// system-start record. The store's lifetime is independent of the
// manager: Shutdown does not close it.
func NewManager(ctx context.Context, store storage.RecordStore, opts ...Option) (*Manager, error) {
	m := &Manager{
		store:     store,
		sessionID: fmt.Sprintf("session_%d", time.Now().Unix()),
	}
	for _, opt := range opts {
		opt(m)
	}

	_, err := m.LogOperation(ctx, Entry{
		Kind:      types.OpSystemStart,
		Component: "system",
		Details: map[string]any{
			"version":    version,
			"session_id": m.sessionID,
			"start_time": time.Now().UTC().Format(time.RFC3339),
		},
		Success: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to log system start: %w", err)
	}

	log.Printf("history: manager initialised (session=%s)", m.sessionID)
	return m, nil
}

// SessionID returns the session identifier records are correlated under.
func (m *Manager) SessionID() string {
	return m.sessionID
}

// Entry describes one operation to log.
type Entry struct {
	// Kind must be one of the declared operation kinds.
	Kind types.OperationKind

	// Component names the emitting subsystem.
	Component string

	// Details is the structured payload. Decimal values are converted to
	// exact-precision strings before persistence.
	Details map[string]any

	// Success reports the operation outcome.
	Success bool

	// UserID optionally attributes the operation to a user.
	UserID string

	// DurationMS optionally records execution time in milliseconds.
	DurationMS *float64

	// ErrorMessage carries the failure reason when Success is false.
	ErrorMessage string

	// Metadata is an optional secondary payload.
	Metadata map[string]any
}

// LogOperation validates and appends one record, returning its ID.
// Unknown kinds are rejected with storage.ErrValidation before any
// write occurs; store failures surface as storage.ErrPersistence.
func (m *Manager) LogOperation(ctx context.Context, e Entry) (string, error) {
	if !e.Kind.Valid() {
		return "", fmt.Errorf("%w: unknown operation kind %q", storage.ErrValidation, e.Kind)
	}
	if e.Component == "" {
		return "", fmt.Errorf("%w: component is required", storage.ErrValidation)
	}

	details := types.NormalizeDetails(e.Details)
	if details == nil {
		details = map[string]any{}
	}

	record := &types.OperationRecord{
		ID:           newRecordID(),
		Timestamp:    time.Now().UTC(),
		Kind:         e.Kind,
		UserID:       e.UserID,
		SessionID:    m.sessionID,
		Component:    e.Component,
		Details:      details,
		Success:      e.Success,
		DurationMS:   e.DurationMS,
		ErrorMessage: e.ErrorMessage,
		Metadata:     types.NormalizeDetails(e.Metadata),
	}

	id, err := m.store.Append(ctx, record)
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetRecord retrieves a single record by ID.
func (m *Manager) GetRecord(ctx context.Context, id string) (*types.OperationRecord, error) {
	return m.store.Get(ctx, id)
}

// GetHistory returns records matching the filter, newest first.
// An empty result is not an error.
func (m *Manager) GetHistory(ctx context.Context, filter storage.QueryFilter) ([]*types.OperationRecord, error) {
	return m.store.Query(ctx, filter)
}

// GetArchivedHistory returns archived records matching the filter.
func (m *Manager) GetArchivedHistory(ctx context.Context, filter storage.QueryFilter) ([]*types.OperationRecord, error) {
	return m.store.QueryArchive(ctx, filter)
}

// GetStatistics aggregates the records matching the filter.
func (m *Manager) GetStatistics(ctx context.Context, filter storage.QueryFilter) (*storage.Statistics, error) {
	return m.store.Aggregate(ctx, filter)
}

// Archive moves records older than the given number of days into the
// archive table and logs a completion record. Returns the number moved.
func (m *Manager) Archive(ctx context.Context, olderThanDays int) (int, error) {
	if olderThanDays < 0 {
		return 0, fmt.Errorf("%w: olderThanDays must be non-negative", storage.ErrValidation)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	count, err := m.store.ArchiveBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if _, err := m.LogOperation(ctx, Entry{
		Kind:      types.OpHistoryArchived,
		Component: "history_manager",
		Details: map[string]any{
			"older_than_days": olderThanDays,
			"cutoff":          cutoff.Format(time.RFC3339),
			"archived_count":  count,
		},
		Success: true,
	}); err != nil {
		return count, fmt.Errorf("archived %d records but failed to log completion: %w", count, err)
	}

	log.Printf("history: archived %d records older than %d days", count, olderThanDays)
	return count, nil
}

// Shutdown appends a system-stop record. It does not close the store;
// the store's handle belongs to whoever constructed it.
func (m *Manager) Shutdown(ctx context.Context) error {
	_, err := m.LogOperation(ctx, Entry{
		Kind:      types.OpSystemStop,
		Component: "system",
		Details: map[string]any{
			"session_id": m.sessionID,
			"stop_time":  time.Now().UTC().Format(time.RFC3339),
		},
		Success: true,
	})
	return err
}

// newRecordID generates a collision-free record identifier.
func newRecordID() string {
	return "hist_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
}
