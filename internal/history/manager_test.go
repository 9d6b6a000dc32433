package history

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/staketrack/staketrack/internal/storage"
	"github.com/staketrack/staketrack/internal/storage/sqlite"
	"github.com/staketrack/staketrack/pkg/types"
)

// newTestManager creates a manager over an in-memory store.
func newTestManager(t *testing.T, opts ...Option) (*Manager, storage.RecordStore) {
	t.Helper()
	store, err := sqlite.NewRecordStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	m, err := NewManager(context.Background(), store, opts...)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	return m, store
}

// TestNewManagerLogsSystemStart verifies that construction leaves exactly
// one system_start record in the store.
func TestNewManagerLogsSystemStart(t *testing.T) {
	m, store := newTestManager(t, WithSessionID("session_boot"))
	ctx := context.Background()

	records, err := store.Query(ctx, storage.QueryFilter{
		Kinds: []types.OperationKind{types.OpSystemStart},
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected exactly 1 system_start record, got %d", len(records))
	}

	r := records[0]
	if r.SessionID != "session_boot" {
		t.Errorf("expected session_boot, got %s", r.SessionID)
	}
	if r.Component != "system" {
		t.Errorf("expected component system, got %s", r.Component)
	}
	if !r.Success {
		t.Error("system_start must be recorded as successful")
	}
	if r.Details["version"] != version {
		t.Errorf("expected version %s in details, got %v", version, r.Details["version"])
	}
	if m.SessionID() != "session_boot" {
		t.Errorf("expected manager session session_boot, got %s", m.SessionID())
	}
}

func TestNewManagerDefaultSessionID(t *testing.T) {
	m, _ := newTestManager(t)
	if !strings.HasPrefix(m.SessionID(), "session_") {
		t.Errorf("expected generated session ID, got %s", m.SessionID())
	}
}

// TestLogOperationRoundTrip verifies that a logged operation is
// retrievable by its returned ID with its payload intact.
func TestLogOperationRoundTrip(t *testing.T) {
	m, _ := newTestManager(t, WithSessionID("session_rt"))
	ctx := context.Background()

	duration := 42.0
	id, err := m.LogOperation(ctx, Entry{
		Kind:      types.OpRewardCalculated,
		Component: "reward_manager",
		Details: map[string]any{
			"participant_address": "0xabc",
			"reward_amount":       decimal.RequireFromString("100.000000000000000001"),
		},
		Success:    true,
		UserID:     "alice",
		DurationMS: &duration,
	})
	if err != nil {
		t.Fatalf("log failed: %v", err)
	}
	if !strings.HasPrefix(id, "hist_") {
		t.Errorf("unexpected record ID format: %s", id)
	}

	record, err := m.GetRecord(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if record.Kind != types.OpRewardCalculated {
		t.Errorf("expected reward_calculated, got %s", record.Kind)
	}
	if record.SessionID != "session_rt" {
		t.Errorf("expected session_rt, got %s", record.SessionID)
	}
	if record.UserID != "alice" {
		t.Errorf("expected alice, got %s", record.UserID)
	}
	// Decimal detail values persist as exact strings.
	if record.Details["reward_amount"] != "100.000000000000000001" {
		t.Errorf("reward amount not exact: %v", record.Details["reward_amount"])
	}
}

func TestLogOperationRejectsUnknownKind(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	_, err := m.LogOperation(ctx, Entry{
		Kind:      "not_a_kind",
		Component: "anything",
		Success:   true,
	})
	if !errors.Is(err, storage.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	_, err = m.LogOperation(ctx, Entry{
		Kind:    types.OpCacheHit,
		Success: true,
	})
	if !errors.Is(err, storage.ErrValidation) {
		t.Fatalf("expected ErrValidation for missing component, got %v", err)
	}

	// Rejected entries leave no trace besides the system_start record.
	records, err := store.Query(ctx, storage.QueryFilter{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("expected only the system_start record, got %d records", len(records))
	}
}

func TestConvenienceLoggers(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	cases := []struct {
		name string
		log  func() (string, error)
		kind types.OperationKind
	}{
		{
			"analysis start",
			func() (string, error) {
				return m.LogAnalysisStart(ctx, "category", map[string]any{"window": "30d"}, "alice")
			},
			types.OpAnalysisStart,
		},
		{
			"reward calculated",
			func() (string, error) {
				return m.LogRewardCalculated(ctx, "0xabc", decimal.RequireFromString("5.5"), "gold", map[string]float64{"loyalty": 1.2}, "alice")
			},
			types.OpRewardCalculated,
		},
		{
			"payment registered",
			func() (string, error) {
				return m.LogPaymentRegistered(ctx, "pay_1", "0xabc", decimal.New(10, 0), "alice")
			},
			types.OpPaymentRegistered,
		},
		{
			"cache hit",
			func() (string, error) {
				return m.LogCacheOperation(ctx, "balances", "0xabc", true, "")
			},
			types.OpCacheHit,
		},
		{
			"cache miss",
			func() (string, error) {
				return m.LogCacheOperation(ctx, "balances", "0xdef", false, "")
			},
			types.OpCacheMiss,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := tc.log()
			if err != nil {
				t.Fatalf("logger failed: %v", err)
			}
			record, err := m.GetRecord(ctx, id)
			if err != nil {
				t.Fatalf("get failed: %v", err)
			}
			if record.Kind != tc.kind {
				t.Errorf("expected kind %s, got %s", tc.kind, record.Kind)
			}
		})
	}
}

func TestLogErrorRecordsFailure(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	id, err := m.LogError(ctx, "blockchain", "rpc_timeout", "context deadline exceeded", map[string]any{"attempt": 3}, "")
	if err != nil {
		t.Fatalf("log error failed: %v", err)
	}

	record, err := m.GetRecord(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if record.Success {
		t.Error("error records must be unsuccessful")
	}
	if record.ErrorMessage != "context deadline exceeded" {
		t.Errorf("unexpected error message: %s", record.ErrorMessage)
	}
	if record.Kind != types.OpErrorOccurred {
		t.Errorf("expected error_occurred, got %s", record.Kind)
	}
}

func TestGetStatistics(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.LogCacheOperation(ctx, "balances", "k1", true, ""); err != nil {
		t.Fatalf("log failed: %v", err)
	}
	if _, err := m.LogError(ctx, "blockchain", "rpc", "boom", nil, ""); err != nil {
		t.Fatalf("log failed: %v", err)
	}

	stats, err := m.GetStatistics(ctx, storage.QueryFilter{})
	if err != nil {
		t.Fatalf("statistics failed: %v", err)
	}
	// system_start + cache_hit + error_occurred
	if stats.TotalOperations != 3 {
		t.Errorf("expected 3 operations, got %d", stats.TotalOperations)
	}
	if stats.Failed != 1 {
		t.Errorf("expected 1 failed, got %d", stats.Failed)
	}
}

func TestArchiveLogsCompletion(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	// Nothing is old enough to move, but the completion record must
	// still be written.
	count, err := m.Archive(ctx, 90)
	if err != nil {
		t.Fatalf("archive failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 archived, got %d", count)
	}

	records, err := store.Query(ctx, storage.QueryFilter{
		Kinds: []types.OperationKind{types.OpHistoryArchived},
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 history_archived record, got %d", len(records))
	}
	if records[0].Details["older_than_days"] != float64(90) {
		t.Errorf("unexpected details: %v", records[0].Details)
	}
}

func TestArchiveRejectsNegativeDays(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Archive(context.Background(), -1)
	if !errors.Is(err, storage.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestArchiveMovesRecordsToArchive(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	// Plant an old record directly in the store; the manager always
	// stamps "now", so the age has to be forged below it.
	old := &types.OperationRecord{
		ID:        "hist_old_record1",
		Timestamp: time.Now().UTC().AddDate(0, 0, -120),
		Kind:      types.OpCacheHit,
		SessionID: m.SessionID(),
		Component: "cache",
		Details:   map[string]any{},
		Success:   true,
	}
	if _, err := store.Append(ctx, old); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	count, err := m.Archive(ctx, 90)
	if err != nil {
		t.Fatalf("archive failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 archived, got %d", count)
	}

	archived, err := m.GetArchivedHistory(ctx, storage.QueryFilter{})
	if err != nil {
		t.Fatalf("archived query failed: %v", err)
	}
	if len(archived) != 1 || archived[0].ID != "hist_old_record1" {
		t.Errorf("unexpected archive contents: %+v", archived)
	}
}

func TestShutdownLogsSystemStop(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	records, err := store.Query(ctx, storage.QueryFilter{
		Kinds: []types.OperationKind{types.OpSystemStop},
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 system_stop record, got %d", len(records))
	}

	// Shutdown does not close the store; it must still be usable.
	if _, err := store.Query(ctx, storage.QueryFilter{}); err != nil {
		t.Errorf("store must remain open after shutdown: %v", err)
	}
}

func TestExportJSON(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.LogCacheOperation(ctx, "balances", "k1", true, ""); err != nil {
		t.Fatalf("log failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "export.json")
	finalPath, err := m.Export(ctx, path, ExportOptions{})
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if finalPath != path {
		t.Errorf("expected final path %s, got %s", path, finalPath)
	}

	data, err := os.ReadFile(finalPath)
	if err != nil {
		t.Fatalf("cannot read export: %v", err)
	}

	var doc struct {
		RecordCount int                      `json:"record_count"`
		Version     string                   `json:"version"`
		Records     []*types.OperationRecord `json:"records"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("malformed export: %v", err)
	}
	// system_start + cache_hit
	if doc.RecordCount != 2 || len(doc.Records) != 2 {
		t.Errorf("expected 2 records, got count=%d len=%d", doc.RecordCount, len(doc.Records))
	}
	if doc.Version != version {
		t.Errorf("expected version %s, got %s", version, doc.Version)
	}

	// The export itself must have been logged.
	exports, err := m.GetHistory(ctx, storage.QueryFilter{
		Kinds: []types.OperationKind{types.OpDataExport},
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(exports) != 1 {
		t.Errorf("expected 1 data_export record, got %d", len(exports))
	}
}

func TestExportCompressed(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "export.json")
	finalPath, err := m.Export(ctx, path, ExportOptions{Compress: true})
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if finalPath != path+".gz" {
		t.Errorf("expected .gz suffix, got %s", finalPath)
	}

	f, err := os.Open(finalPath)
	if err != nil {
		t.Fatalf("cannot open export: %v", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("export is not valid gzip: %v", err)
	}
	defer gz.Close()

	data, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("cannot decompress export: %v", err)
	}
	if !json.Valid(data) {
		t.Error("decompressed export is not valid JSON")
	}
}

func TestExportFilterApplied(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.LogCacheOperation(ctx, "balances", "k1", true, ""); err != nil {
		t.Fatalf("log failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "cache.json")
	finalPath, err := m.Export(ctx, path, ExportOptions{
		Filter: storage.QueryFilter{Kinds: []types.OperationKind{types.OpCacheHit}},
	})
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	data, err := os.ReadFile(finalPath)
	if err != nil {
		t.Fatalf("cannot read export: %v", err)
	}
	var doc struct {
		RecordCount int `json:"record_count"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("malformed export: %v", err)
	}
	if doc.RecordCount != 1 {
		t.Errorf("expected 1 filtered record, got %d", doc.RecordCount)
	}
}

func TestExportUnsupportedFormat(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Export(context.Background(), filepath.Join(t.TempDir(), "out.csv"), ExportOptions{Format: "csv"})
	if !errors.Is(err, ErrExport) {
		t.Fatalf("expected ErrExport, got %v", err)
	}
}

func TestExportBadPathLeavesNoFile(t *testing.T) {
	m, _ := newTestManager(t)

	dir := t.TempDir()
	// A directory standing where the file should go makes the rename fail.
	target := filepath.Join(dir, "export.json")
	if err := os.Mkdir(target, 0o755); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	_, err := m.Export(context.Background(), target, ExportOptions{})
	if !errors.Is(err, ErrExport) {
		t.Fatalf("expected ErrExport, got %v", err)
	}

	// No partial output may remain next to the target.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir failed: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}
