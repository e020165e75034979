package queue

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/voxsync/voxsync/internal/types"
)

func newTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "queue.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, dbPath
}

func sampleRecord(id string, createdAt time.Time) types.OperationRecord {
	return types.OperationRecord{
		ID:      id,
		Type:    types.OpUpdateRecording,
		Status:  types.StatusPending,
		Payload: json.RawMessage(`{"recording_id":"rec-1","version":1,"title":"t"}`),
		Metadata: types.OperationMetadata{
			CreatedAt: createdAt,
		},
		OptimisticUpdate: true,
	}
}

func TestSQLiteStore_EmptyLoad(t *testing.T) {
	store, _ := newTestStore(t)

	records, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("fresh store holds %d records, want 0", len(records))
	}
}

func TestSQLiteStore_SaveLoadRoundtrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	retryAt := time.Date(2025, 6, 1, 12, 0, 5, 123456000, time.UTC)
	rec := types.OperationRecord{
		ID:      "01HZX0001",
		Type:    types.OpCompleteTask,
		Status:  types.StatusFailed,
		Payload: json.RawMessage(`{"task_id":"t1","completed_at":"2025-06-01T10:00:00Z"}`),
		Metadata: types.OperationMetadata{
			CreatedAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			RetryCount:   2,
			LastRetryAt:  &retryAt,
			ConflictData: json.RawMessage(`{"completed":true}`),
			OriginalData: json.RawMessage(`{"completed":false}`),
		},
		OptimisticUpdate: true,
	}

	if err := store.Save(ctx, []types.OperationRecord{rec}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	records, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("loaded %d records, want 1", len(records))
	}

	got := records[0]
	if got.ID != rec.ID || got.Type != rec.Type || got.Status != rec.Status {
		t.Errorf("identity fields = %s/%s/%s, want %s/%s/%s",
			got.ID, got.Type, got.Status, rec.ID, rec.Type, rec.Status)
	}
	if string(got.Payload) != string(rec.Payload) {
		t.Errorf("payload = %s, want %s", got.Payload, rec.Payload)
	}
	if !got.Metadata.CreatedAt.Equal(rec.Metadata.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.Metadata.CreatedAt, rec.Metadata.CreatedAt)
	}
	if got.Metadata.RetryCount != 2 {
		t.Errorf("retry_count = %d, want 2", got.Metadata.RetryCount)
	}
	if got.Metadata.LastRetryAt == nil || !got.Metadata.LastRetryAt.Equal(retryAt) {
		t.Errorf("last_retry_at = %v, want %v", got.Metadata.LastRetryAt, retryAt)
	}
	if string(got.Metadata.ConflictData) != `{"completed":true}` {
		t.Errorf("conflict_data = %s", got.Metadata.ConflictData)
	}
	if string(got.Metadata.OriginalData) != `{"completed":false}` {
		t.Errorf("original_data = %s", got.Metadata.OriginalData)
	}
	if !got.OptimisticUpdate {
		t.Error("optimistic flag lost in roundtrip")
	}
}

func TestSQLiteStore_NullableFieldsStayNil(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecord("01HZX0002", time.Now().UTC())
	rec.OptimisticUpdate = false
	if err := store.Save(ctx, []types.OperationRecord{rec}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	records, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got := records[0]
	if got.Metadata.LastRetryAt != nil {
		t.Errorf("last_retry_at = %v, want nil", got.Metadata.LastRetryAt)
	}
	if got.Metadata.ConflictData != nil || got.Metadata.OriginalData != nil {
		t.Errorf("snapshots = %s/%s, want nil/nil",
			got.Metadata.ConflictData, got.Metadata.OriginalData)
	}
	if got.OptimisticUpdate {
		t.Error("optimistic flag should stay false")
	}
}

func TestSQLiteStore_SaveReplacesQueue(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	first := []types.OperationRecord{
		sampleRecord("01HZX0001", base),
		sampleRecord("01HZX0002", base.Add(time.Second)),
		sampleRecord("01HZX0003", base.Add(2*time.Second)),
	}
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("first Save() error = %v", err)
	}

	second := []types.OperationRecord{sampleRecord("01HZX0004", base.Add(3*time.Second))}
	if err := store.Save(ctx, second); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	records, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(records) != 1 || records[0].ID != "01HZX0004" {
		t.Errorf("records = %v, want only the replacement", records)
	}
}

func TestSQLiteStore_LoadOrdersByCreation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Saved out of order on purpose.
	records := []types.OperationRecord{
		sampleRecord("01HZX0003", base.Add(2*time.Second)),
		sampleRecord("01HZX0001", base),
		sampleRecord("01HZX0002", base.Add(time.Second)),
	}
	if err := store.Save(ctx, records); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := []string{"01HZX0001", "01HZX0002", "01HZX0003"}
	for i, id := range want {
		if loaded[i].ID != id {
			t.Errorf("loaded[%d].ID = %s, want %s", i, loaded[i].ID, id)
		}
	}
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "queue.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	rec := sampleRecord("01HZX0001", time.Now().UTC())
	if err := store.Save(ctx, []types.OperationRecord{rec}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	records, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("Load() after reopen error = %v", err)
	}
	if len(records) != 1 || records[0].ID != rec.ID {
		t.Errorf("records after restart = %v, want the saved operation", records)
	}
}

func TestSQLiteStore_ReopenRearmsStaleProcessing(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "queue.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}

	// Simulate a crash mid-dispatch: a claimed record persisted as
	// PROCESSING with no pass left alive to finish it.
	stale := sampleRecord("01HZX0001", time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	stale.Status = types.StatusProcessing
	done := sampleRecord("01HZX0002", time.Date(2025, 6, 1, 12, 0, 1, 0, time.UTC))
	done.Status = types.StatusSuccess
	if err := store.Save(ctx, []types.OperationRecord{stale, done}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	records, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("loaded %d records, want 2", len(records))
	}
	if records[0].Status != types.StatusPending {
		t.Errorf("stale record status = %s, want PENDING after reopen", records[0].Status)
	}
	if records[1].Status != types.StatusSuccess {
		t.Errorf("completed record status = %s, want SUCCESS untouched", records[1].Status)
	}
}

func TestSQLiteStore_CreatesParentDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "queue.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore() with nested path error = %v", err)
	}
	store.Close()
}
