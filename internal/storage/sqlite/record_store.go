// Package sqlite implements storage.RecordStore on an embedded SQLite
// database using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/staketrack/staketrack/internal/storage"
	"github.com/staketrack/staketrack/pkg/types"
)

// tsFormat is the fixed-width UTC timestamp layout used in both history
// tables. Fixed width keeps lexical ordering identical to time ordering,
// which lets the timestamp index serve range queries directly.
const tsFormat = "2006-01-02T15:04:05.000000000Z"

// RecordStore implements storage.RecordStore using SQLite.
type RecordStore struct {
	db *sql.DB
}

// NewRecordStore opens (or creates) the history database at dsn,
// configures WAL mode, and creates the schema.
func NewRecordStore(dsn string) (*RecordStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open history database: %v", storage.ErrPersistence, err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY errors under concurrent load.
	// WAL mode allows concurrent readers to proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %s: %v", storage.ErrPersistence, pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to create schema: %v", storage.ErrPersistence, err)
	}

	return &RecordStore{db: db}, nil
}

// Append writes one record to the primary history table.
func (s *RecordStore) Append(ctx context.Context, record *types.OperationRecord) (string, error) {
	if record == nil {
		return "", fmt.Errorf("%w: record is required", storage.ErrValidation)
	}
	if record.ID == "" {
		return "", fmt.Errorf("%w: record ID is required", storage.ErrValidation)
	}
	if !record.Kind.Valid() {
		return "", fmt.Errorf("%w: unknown operation kind %q", storage.ErrValidation, record.Kind)
	}
	if record.Component == "" {
		return "", fmt.Errorf("%w: component is required", storage.ErrValidation)
	}
	if record.SessionID == "" {
		return "", fmt.Errorf("%w: session ID is required", storage.ErrValidation)
	}
	if record.Timestamp.IsZero() {
		return "", fmt.Errorf("%w: timestamp is required", storage.ErrValidation)
	}

	detailsJSON, err := json.Marshal(record.Details)
	if err != nil {
		return "", fmt.Errorf("%w: failed to marshal details: %v", storage.ErrValidation, err)
	}

	var metadataJSON []byte
	if record.Metadata != nil {
		metadataJSON, err = json.Marshal(record.Metadata)
		if err != nil {
			return "", fmt.Errorf("%w: failed to marshal metadata: %v", storage.ErrValidation, err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO operation_history
			(id, timestamp, operation_type, user_id, session_id,
			 component, details, success, execution_time_ms,
			 error_message, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		record.Timestamp.UTC().Format(tsFormat),
		string(record.Kind),
		nullableString(record.UserID),
		record.SessionID,
		record.Component,
		string(detailsJSON),
		boolToInt(record.Success),
		nullableFloat(record.DurationMS),
		nullableString(record.ErrorMessage),
		nullableBytes(metadataJSON),
	)
	if err != nil {
		return "", fmt.Errorf("%w: failed to append record: %v", storage.ErrPersistence, err)
	}

	return record.ID, nil
}

// Get retrieves a single record by ID from the primary table.
func (s *RecordStore) Get(ctx context.Context, id string) (*types.OperationRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: record ID is required", storage.ErrValidation)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, timestamp, operation_type, user_id, session_id,
		       component, details, success, execution_time_ms,
		       error_message, metadata
		FROM operation_history
		WHERE id = ?
	`, id)

	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get record: %v", storage.ErrPersistence, err)
	}
	return record, nil
}

// Query returns records matching the filter, newest first.
func (s *RecordStore) Query(ctx context.Context, filter storage.QueryFilter) ([]*types.OperationRecord, error) {
	return s.queryTable(ctx, "operation_history", filter)
}

// QueryArchive returns archived records matching the filter, newest first.
func (s *RecordStore) QueryArchive(ctx context.Context, filter storage.QueryFilter) ([]*types.OperationRecord, error) {
	return s.queryTable(ctx, "operation_history_archive", filter)
}

func (s *RecordStore) queryTable(ctx context.Context, table string, filter storage.QueryFilter) ([]*types.OperationRecord, error) {
	where, params := buildWhere(filter)

	limit := filter.Limit
	if limit <= 0 {
		limit = storage.DefaultQueryLimit
	}
	params = append(params, limit)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, timestamp, operation_type, user_id, session_id,
		       component, details, success, execution_time_ms,
		       error_message, metadata
		FROM %s
		WHERE %s
		ORDER BY timestamp DESC
		LIMIT ?
	`, table, where), params...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query %s: %v", storage.ErrPersistence, table, err)
	}
	defer rows.Close()

	var records []*types.OperationRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan record: %v", storage.ErrPersistence, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: row iteration failed: %v", storage.ErrPersistence, err)
	}

	return records, nil
}

// Aggregate computes summary statistics over the records matching the filter.
func (s *RecordStore) Aggregate(ctx context.Context, filter storage.QueryFilter) (*storage.Statistics, error) {
	where, params := buildWhere(filter)

	stats := &storage.Statistics{
		ByKind:      make(map[string]storage.GroupStats),
		ByComponent: make(map[string]storage.GroupStats),
	}

	var avgDur, maxDur sql.NullFloat64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*),
		       COUNT(CASE WHEN success = 1 THEN 1 END),
		       COUNT(CASE WHEN success = 0 THEN 1 END),
		       AVG(execution_time_ms),
		       MAX(execution_time_ms),
		       COUNT(DISTINCT session_id),
		       COUNT(DISTINCT user_id)
		FROM operation_history
		WHERE %s
	`, where), params...).Scan(
		&stats.TotalOperations,
		&stats.Successful,
		&stats.Failed,
		&avgDur,
		&maxDur,
		&stats.UniqueSessions,
		&stats.UniqueUsers,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to aggregate: %v", storage.ErrPersistence, err)
	}

	stats.AvgDurationMS = avgDur.Float64
	stats.MaxDurationMS = maxDur.Float64
	if stats.TotalOperations > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.TotalOperations) * 100
	}

	if err := s.aggregateGroup(ctx, "operation_type", where, params, stats.ByKind); err != nil {
		return nil, err
	}
	if err := s.aggregateGroup(ctx, "component", where, params, stats.ByComponent); err != nil {
		return nil, err
	}

	return stats, nil
}

func (s *RecordStore) aggregateGroup(ctx context.Context, column, where string, params []any, out map[string]storage.GroupStats) error {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %[1]s,
		       COUNT(*),
		       COUNT(CASE WHEN success = 1 THEN 1 END),
		       AVG(execution_time_ms)
		FROM operation_history
		WHERE %[2]s
		GROUP BY %[1]s
		ORDER BY COUNT(*) DESC
	`, column, where), params...)
	if err != nil {
		return fmt.Errorf("%w: failed to aggregate by %s: %v", storage.ErrPersistence, column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var group storage.GroupStats
		var avgDur sql.NullFloat64
		if err := rows.Scan(&key, &group.Count, &group.Successful, &avgDur); err != nil {
			return fmt.Errorf("%w: failed to scan %s group: %v", storage.ErrPersistence, column, err)
		}
		group.AvgDurationMS = avgDur.Float64
		if group.Count > 0 {
			group.SuccessRate = float64(group.Successful) / float64(group.Count) * 100
		}
		out[key] = group
	}
	return rows.Err()
}

// ArchiveBefore moves records older than cutoff into the archive table.
// Copy and delete run inside one transaction, so a record is never left
// counted in both tables or in neither.
func (s *RecordStore) ArchiveBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to begin archive transaction: %v", storage.ErrPersistence, err)
	}
	defer tx.Rollback()

	cutoffStr := cutoff.UTC().Format(tsFormat)
	archivedAt := time.Now().UTC().Format(tsFormat)

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO operation_history_archive
			(id, timestamp, operation_type, user_id, session_id,
			 component, details, success, execution_time_ms,
			 error_message, metadata, archived_at)
		SELECT id, timestamp, operation_type, user_id, session_id,
		       component, details, success, execution_time_ms,
		       error_message, metadata, ?
		FROM operation_history
		WHERE timestamp < ?
	`, archivedAt, cutoffStr); err != nil {
		return 0, fmt.Errorf("%w: failed to copy records to archive: %v", storage.ErrPersistence, err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM operation_history WHERE timestamp < ?`, cutoffStr)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to delete archived records: %v", storage.ErrPersistence, err)
	}

	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to count archived records: %v", storage.ErrPersistence, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: failed to commit archive transaction: %v", storage.ErrPersistence, err)
	}

	return int(count), nil
}

// Close releases the underlying database handle.
func (s *RecordStore) Close() error {
	return s.db.Close()
}

// buildWhere translates a QueryFilter into a WHERE clause and its parameters.
func buildWhere(filter storage.QueryFilter) (string, []any) {
	var conditions []string
	var params []any

	if !filter.Start.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		params = append(params, filter.Start.UTC().Format(tsFormat))
	}
	if !filter.End.IsZero() {
		conditions = append(conditions, "timestamp <= ?")
		params = append(params, filter.End.UTC().Format(tsFormat))
	}
	if len(filter.Kinds) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.Kinds)), ",")
		conditions = append(conditions, fmt.Sprintf("operation_type IN (%s)", placeholders))
		for _, k := range filter.Kinds {
			params = append(params, string(k))
		}
	}
	if filter.Component != "" {
		conditions = append(conditions, "component = ?")
		params = append(params, filter.Component)
	}
	if filter.SessionID != "" {
		conditions = append(conditions, "session_id = ?")
		params = append(params, filter.SessionID)
	}
	if filter.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		params = append(params, filter.UserID)
	}
	if filter.Success != nil {
		conditions = append(conditions, "success = ?")
		params = append(params, boolToInt(*filter.Success))
	}

	if len(conditions) == 0 {
		return "1=1", nil
	}
	return strings.Join(conditions, " AND "), params
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*types.OperationRecord, error) {
	var record types.OperationRecord
	var ts, detailsJSON string
	var userID, errorMessage, metadataJSON sql.NullString
	var success int
	var durationMS sql.NullFloat64

	err := row.Scan(
		&record.ID,
		&ts,
		(*string)(&record.Kind),
		&userID,
		&record.SessionID,
		&record.Component,
		&detailsJSON,
		&success,
		&durationMS,
		&errorMessage,
		&metadataJSON,
	)
	if err != nil {
		return nil, err
	}

	record.Timestamp, err = time.Parse(tsFormat, ts)
	if err != nil {
		return nil, fmt.Errorf("malformed timestamp %q: %w", ts, err)
	}

	record.UserID = userID.String
	record.Success = success != 0
	record.ErrorMessage = errorMessage.String
	if durationMS.Valid {
		record.DurationMS = &durationMS.Float64
	}

	if detailsJSON != "" {
		if err := json.Unmarshal([]byte(detailsJSON), &record.Details); err != nil {
			return nil, fmt.Errorf("malformed details payload: %w", err)
		}
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &record.Metadata); err != nil {
			return nil, fmt.Errorf("malformed metadata payload: %w", err)
		}
	}

	return &record, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
