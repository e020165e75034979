// Package engine implements the offline storage manager: the durable
// operation queue, its state machine, sequential replay against the remote
// API, retry accounting, conflict capture, and explicit conflict resolution.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/voxsync/voxsync/internal/types"
)

// DefaultMaxRetries is the retry ceiling applied when none is configured.
const DefaultMaxRetries = 3

// Store is the durable queue persistence boundary. Load returns the full
// queue; Save replaces it atomically.
type Store interface {
	Load(ctx context.Context) ([]types.OperationRecord, error)
	Save(ctx context.Context, records []types.OperationRecord) error
}

// RemoteClient dispatches one operation type per method. A returned
// *types.ConflictError marks a version mismatch; any other error is an
// ordinary failure subject to retry.
type RemoteClient interface {
	CreateRecording(ctx context.Context, draft types.RecordingDraft) error
	UpdateRecording(ctx context.Context, patch types.RecordingPatch) error
	DeleteRecording(ctx context.Context, del types.RecordingDelete) error
	UpdateProfile(ctx context.Context, patch types.ProfilePatch) error
	CompleteTask(ctx context.Context, completion types.TaskCompletion) error
}

// LocalStateApplier is the presentation/state layer's hook for speculative
// local mutations. ApplyOptimistic returns the prior local snapshot, which
// the engine records for auditability; RollbackOptimistic reverts the
// speculative change; ApplyServerState overwrites local state with the
// server's version during SERVER_WINS resolution.
type LocalStateApplier interface {
	ApplyOptimistic(ctx context.Context, t types.OperationType, payload json.RawMessage) (prior json.RawMessage, err error)
	RollbackOptimistic(ctx context.Context, t types.OperationType, payload, prior json.RawMessage) error
	ApplyServerState(ctx context.Context, t types.OperationType, data json.RawMessage) error
}

// Manager owns the offline operation queue. It is constructed once at
// process start and injected wherever queue access is needed; all queue
// read-modify-write sections are serialized through its mutex, while remote
// dispatch happens outside the lock.
type Manager struct {
	store      Store
	client     RemoteClient
	applier    LocalStateApplier
	maxRetries int
	now        func() time.Time

	// mu serializes every load/mutate/save section against the store so
	// AddOperation and ResolveConflict cannot corrupt the persisted list
	// while a pass is mid-flight. A pass iterates over a snapshot taken at
	// start, so records appended during the pass are simply picked up by
	// the next one.
	mu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxRetries overrides the retry ceiling.
func WithMaxRetries(n int) Option {
	return func(m *Manager) { m.maxRetries = n }
}

// WithClock overrides the time source. Used by tests to control ordering.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates the offline storage manager.
func NewManager(store Store, client RemoteClient, applier LocalStateApplier, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		client:     client,
		applier:    applier,
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddOperation validates and enqueues a new operation in PENDING status. If
// optimistic is true, the speculative local change is applied through the
// applier before the record is persisted; the prior local snapshot is kept
// in the record's metadata. AddOperation never contacts the network.
func (m *Manager) AddOperation(ctx context.Context, t types.OperationType, payload json.RawMessage, optimistic bool) (string, error) {
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown operation type %q", types.ErrMalformedPayload, t)
	}
	if err := types.ValidatePayload(t, payload); err != nil {
		return "", err
	}

	var original json.RawMessage
	if optimistic {
		prior, err := m.applier.ApplyOptimistic(ctx, t, payload)
		if err != nil {
			return "", fmt.Errorf("apply optimistic update: %w", err)
		}
		original = prior
	}

	rec := types.OperationRecord{
		ID:      ulid.Make().String(),
		Type:    t,
		Status:  types.StatusPending,
		Payload: payload,
		Metadata: types.OperationMetadata{
			CreatedAt:    m.now().UTC(),
			OriginalData: original,
		},
		OptimisticUpdate: optimistic,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.store.Load(ctx)
	if err != nil {
		m.revertOptimistic(ctx, rec)
		return "", fmt.Errorf("load queue: %w", err)
	}
	records = append(records, rec)
	if err := m.store.Save(ctx, records); err != nil {
		m.revertOptimistic(ctx, rec)
		return "", fmt.Errorf("persist operation: %w", err)
	}

	slog.Info("operation enqueued",
		"component", "engine",
		"operation_id", rec.ID,
		"type", string(t),
		"optimistic", optimistic,
	)

	return rec.ID, nil
}

// revertOptimistic undoes the speculative local change of a record that never
// made it into the queue. Without this, a failed enqueue would leave local
// state diverged with no queue record left to ever roll it back.
func (m *Manager) revertOptimistic(ctx context.Context, rec types.OperationRecord) {
	if !rec.OptimisticUpdate {
		return
	}
	if err := m.applier.RollbackOptimistic(ctx, rec.Type, rec.Payload, rec.Metadata.OriginalData); err != nil {
		slog.Error("optimistic rollback failed",
			"component", "engine",
			"operation_id", rec.ID,
			"error", err,
		)
	}
}

// runnable reports whether rec would be picked up by a processing pass.
func (m *Manager) runnable(rec types.OperationRecord) bool {
	switch rec.Status {
	case types.StatusPending:
		return true
	case types.StatusFailed:
		return rec.Metadata.RetryCount < m.maxRetries
	}
	return false
}

// ProcessQueue drains the runnable set (PENDING plus retryable FAILED) in
// ascending creation order, dispatching each operation sequentially to the
// remote client. Per-operation failures are isolated; store I/O failures
// abort the pass and propagate. The returned result aggregates outcomes for
// the pass.
func (m *Manager) ProcessQueue(ctx context.Context) (types.SyncResult, error) {
	result := types.SyncResult{Details: []types.OperationResult{}}

	m.mu.Lock()
	records, err := m.store.Load(ctx)
	m.mu.Unlock()
	if err != nil {
		return result, fmt.Errorf("load queue: %w", err)
	}

	var batch []types.OperationRecord
	for _, rec := range records {
		if m.runnable(rec) {
			batch = append(batch, rec)
		}
	}
	sort.SliceStable(batch, func(i, j int) bool {
		a, b := batch[i].Metadata.CreatedAt, batch[j].Metadata.CreatedAt
		if a.Equal(b) {
			return batch[i].ID < batch[j].ID
		}
		return a.Before(b)
	})

	result.TotalOperations = len(batch)
	if len(batch) == 0 {
		return result, nil
	}

	slog.Info("processing queue",
		"component", "engine",
		"runnable", len(batch),
	)

	for _, snapshot := range batch {
		detail, err := m.processOne(ctx, snapshot)
		if err != nil {
			// Store-level failure: the queue can no longer be trusted.
			return result, err
		}
		if detail == nil {
			// Record vanished or changed state since the snapshot
			// (e.g. resolved concurrently); skip it.
			result.TotalOperations--
			continue
		}

		result.Details = append(result.Details, *detail)
		switch detail.Outcome {
		case types.OutcomeSuccess:
			result.SuccessCount++
		case types.OutcomeConflict:
			result.ConflictCount++
		case types.OutcomeFailed:
			result.FailedCount++
		}
	}

	return result, nil
}

// processOne runs the full lifecycle of a single operation: mark PROCESSING,
// dispatch, classify the outcome, persist the transition. Returns nil detail
// if the record was no longer runnable when the pass reached it.
func (m *Manager) processOne(ctx context.Context, snapshot types.OperationRecord) (*types.OperationResult, error) {
	claimed := false
	err := m.updateRecord(ctx, snapshot.ID, func(rec *types.OperationRecord) {
		if !m.runnable(*rec) {
			return
		}
		rec.Status = types.StatusProcessing
		claimed = true
	})
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, nil
	}

	dispatchErr := m.dispatch(ctx, snapshot)

	detail := types.OperationResult{ID: snapshot.ID, Type: snapshot.Type}

	var conflict *types.ConflictError
	switch {
	case dispatchErr == nil:
		detail.Outcome = types.OutcomeSuccess
		err = m.updateRecord(ctx, snapshot.ID, func(rec *types.OperationRecord) {
			rec.Status = types.StatusSuccess
		})
		slog.Info("operation synced",
			"component", "engine",
			"operation_id", snapshot.ID,
			"type", string(snapshot.Type),
		)

	case errors.As(dispatchErr, &conflict):
		detail.Outcome = types.OutcomeConflict
		detail.ConflictData = conflict.Snapshot
		err = m.updateRecord(ctx, snapshot.ID, func(rec *types.OperationRecord) {
			rec.Status = types.StatusConflict
			rec.Metadata.ConflictData = conflict.Snapshot
		})
		slog.Warn("operation conflicted",
			"component", "engine",
			"operation_id", snapshot.ID,
			"type", string(snapshot.Type),
		)

	default:
		detail.Outcome = types.OutcomeFailed
		detail.Error = dispatchErr.Error()
		var terminal bool
		var rollback types.OperationRecord
		err = m.updateRecord(ctx, snapshot.ID, func(rec *types.OperationRecord) {
			now := m.now().UTC()
			rec.Status = types.StatusFailed
			rec.Metadata.RetryCount++
			rec.Metadata.LastRetryAt = &now
			if rec.Metadata.RetryCount >= m.maxRetries {
				terminal = true
				rollback = *rec
			}
		})
		if err == nil && terminal && snapshot.OptimisticUpdate {
			if rbErr := m.applier.RollbackOptimistic(ctx, rollback.Type, rollback.Payload, rollback.Metadata.OriginalData); rbErr != nil {
				slog.Error("optimistic rollback failed",
					"component", "engine",
					"operation_id", snapshot.ID,
					"error", rbErr,
				)
			}
		}
		level := slog.LevelWarn
		if terminal {
			level = slog.LevelError
		}
		slog.Log(ctx, level, "operation failed",
			"component", "engine",
			"operation_id", snapshot.ID,
			"type", string(snapshot.Type),
			"terminal", terminal,
			"error", dispatchErr,
		)
	}

	if err != nil {
		return nil, err
	}
	return &detail, nil
}

// dispatch decodes the payload and invokes the per-type remote call. The
// switch is exhaustive over the closed OperationType set.
func (m *Manager) dispatch(ctx context.Context, rec types.OperationRecord) error {
	switch rec.Type {
	case types.OpCreateRecording:
		var p types.RecordingDraft
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return fmt.Errorf("decode create_recording payload: %w", err)
		}
		return m.client.CreateRecording(ctx, p)
	case types.OpUpdateRecording:
		var p types.RecordingPatch
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return fmt.Errorf("decode update_recording payload: %w", err)
		}
		return m.client.UpdateRecording(ctx, p)
	case types.OpDeleteRecording:
		var p types.RecordingDelete
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return fmt.Errorf("decode delete_recording payload: %w", err)
		}
		return m.client.DeleteRecording(ctx, p)
	case types.OpUpdateProfile:
		var p types.ProfilePatch
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return fmt.Errorf("decode update_profile payload: %w", err)
		}
		return m.client.UpdateProfile(ctx, p)
	case types.OpCompleteTask:
		var p types.TaskCompletion
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return fmt.Errorf("decode complete_task payload: %w", err)
		}
		return m.client.CompleteTask(ctx, p)
	default:
		return fmt.Errorf("no dispatch case for operation type %q", rec.Type)
	}
}

// ResolveConflict settles a CONFLICT operation with an explicit strategy.
// CLIENT_WINS re-arms the original payload as PENDING; SERVER_WINS applies
// the captured server snapshot locally and marks the operation SUCCESS;
// MERGE replaces the payload with mergedPayload and re-arms as PENDING.
func (m *Manager) ResolveConflict(ctx context.Context, id string, strategy types.ResolutionStrategy, mergedPayload json.RawMessage) error {
	if strategy == types.ResolveMerge {
		if len(mergedPayload) == 0 {
			return ErrMergePayloadRequired
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}

	idx := -1
	for i := range records {
		if records[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	rec := &records[idx]
	if rec.Status != types.StatusConflict {
		return fmt.Errorf("%w: %s is %s", ErrInvalidState, id, rec.Status)
	}

	switch strategy {
	case types.ResolveClientWins:
		// Retry count is never reset; a PENDING record is runnable
		// regardless of how many attempts it consumed before conflicting.
		rec.Status = types.StatusPending
		rec.Metadata.ConflictData = nil

	case types.ResolveServerWins:
		// ApplyServerState is an idempotent overwrite. If the save below
		// fails the record stays CONFLICT and re-resolving repeats the
		// apply without harm.
		if err := m.applier.ApplyServerState(ctx, rec.Type, rec.Metadata.ConflictData); err != nil {
			return fmt.Errorf("apply server state: %w", err)
		}
		rec.Status = types.StatusSuccess

	case types.ResolveMerge:
		if err := types.ValidatePayload(rec.Type, mergedPayload); err != nil {
			return err
		}
		rec.Payload = mergedPayload
		rec.Status = types.StatusPending
		rec.Metadata.ConflictData = nil

	default:
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}

	if err := m.store.Save(ctx, records); err != nil {
		return fmt.Errorf("persist resolution: %w", err)
	}

	slog.Info("conflict resolved",
		"component", "engine",
		"operation_id", id,
		"strategy", string(strategy),
	)

	return nil
}

// CleanupCompleted removes all and only SUCCESS records from the persisted
// queue. Idempotent; safe to call at any time.
func (m *Manager) CleanupCompleted(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load queue: %w", err)
	}

	kept := records[:0]
	removed := 0
	for _, rec := range records {
		if rec.Status == types.StatusSuccess {
			removed++
			continue
		}
		kept = append(kept, rec)
	}

	if removed == 0 {
		return 0, nil
	}

	if err := m.store.Save(ctx, kept); err != nil {
		return 0, fmt.Errorf("persist cleanup: %w", err)
	}

	slog.Info("cleaned up completed operations",
		"component", "engine",
		"removed", removed,
	)

	return removed, nil
}

// Stats returns queue counts by status.
func (m *Manager) Stats(ctx context.Context) (types.OperationStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.store.Load(ctx)
	if err != nil {
		return types.OperationStats{}, fmt.Errorf("load queue: %w", err)
	}

	var stats types.OperationStats
	for _, rec := range records {
		switch rec.Status {
		case types.StatusPending:
			stats.Pending++
		case types.StatusProcessing:
			stats.Processing++
		case types.StatusSuccess:
			stats.Success++
		case types.StatusFailed:
			stats.Failed++
		case types.StatusConflict:
			stats.Conflict++
		}
		if m.runnable(rec) {
			stats.Runnable++
		}
	}
	stats.Total = len(records)

	return stats, nil
}

// GetOperation returns the record for id.
func (m *Manager) GetOperation(ctx context.Context, id string) (types.OperationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.store.Load(ctx)
	if err != nil {
		return types.OperationRecord{}, fmt.Errorf("load queue: %w", err)
	}
	for _, rec := range records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return types.OperationRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// ListOperations returns queue records, optionally filtered by status,
// ordered by creation time.
func (m *Manager) ListOperations(ctx context.Context, status types.OperationStatus) ([]types.OperationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}

	out := make([]types.OperationRecord, 0, len(records))
	for _, rec := range records {
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Metadata.CreatedAt, out[j].Metadata.CreatedAt
		if a.Equal(b) {
			return out[i].ID < out[j].ID
		}
		return a.Before(b)
	})

	return out, nil
}

// updateRecord applies fn to the record with the given id inside one
// load/save critical section.
func (m *Manager) updateRecord(ctx context.Context, id string, fn func(*types.OperationRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}

	for i := range records {
		if records[i].ID == id {
			fn(&records[i])
			if err := m.store.Save(ctx, records); err != nil {
				return fmt.Errorf("persist operation %s: %w", id, err)
			}
			return nil
		}
	}

	return fmt.Errorf("%w: %s", ErrNotFound, id)
}
