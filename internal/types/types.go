package types

import (
	"encoding/json"
	"time"
)

// OperationType identifies the kind of mutation an operation replays remotely.
// The set is closed: adding a variant requires a matching dispatch case in the
// engine, checked at compile time by the exhaustive switch.
type OperationType string

const (
	OpCreateRecording OperationType = "create_recording"
	OpUpdateRecording OperationType = "update_recording"
	OpDeleteRecording OperationType = "delete_recording"
	OpUpdateProfile   OperationType = "update_profile"
	OpCompleteTask    OperationType = "complete_task"
)

// Valid reports whether t is a known operation type.
func (t OperationType) Valid() bool {
	switch t {
	case OpCreateRecording, OpUpdateRecording, OpDeleteRecording, OpUpdateProfile, OpCompleteTask:
		return true
	}
	return false
}

// OperationStatus is the operation's position in its lifecycle state machine.
type OperationStatus string

const (
	StatusPending    OperationStatus = "PENDING"
	StatusProcessing OperationStatus = "PROCESSING"
	StatusSuccess    OperationStatus = "SUCCESS"
	StatusFailed     OperationStatus = "FAILED"
	StatusConflict   OperationStatus = "CONFLICT"
)

// OperationMetadata carries the bookkeeping the engine maintains per record.
// CreatedAt is immutable and is the queue's sort key. RetryCount only grows.
// ConflictData is populated exactly when the status becomes CONFLICT.
// OriginalData captures the pre-mutation local snapshot for optimistic
// rollback and is set once at creation.
type OperationMetadata struct {
	CreatedAt    time.Time       `json:"created_at"`
	RetryCount   int             `json:"retry_count"`
	LastRetryAt  *time.Time      `json:"last_retry_at,omitempty"`
	ConflictData json.RawMessage `json:"conflict_data,omitempty"`
	OriginalData json.RawMessage `json:"original_data,omitempty"`
}

// OperationRecord is the durable unit of work in the offline queue.
type OperationRecord struct {
	ID               string            `json:"id"`
	Type             OperationType     `json:"type"`
	Status           OperationStatus   `json:"status"`
	Payload          json.RawMessage   `json:"payload"`
	Metadata         OperationMetadata `json:"metadata"`
	OptimisticUpdate bool              `json:"optimistic_update"`
}

// ResolutionStrategy selects how a CONFLICT operation is settled. Resolution
// is always an explicit caller decision; the engine never picks one itself.
type ResolutionStrategy string

const (
	ResolveClientWins ResolutionStrategy = "CLIENT_WINS"
	ResolveServerWins ResolutionStrategy = "SERVER_WINS"
	ResolveMerge      ResolutionStrategy = "MERGE"
)

// OperationOutcome classifies the result of dispatching one operation.
type OperationOutcome string

const (
	OutcomeSuccess  OperationOutcome = "success"
	OutcomeFailed   OperationOutcome = "failed"
	OutcomeConflict OperationOutcome = "conflict"
)

// OperationResult is the per-operation entry in a SyncResult detail list.
type OperationResult struct {
	ID           string           `json:"id"`
	Type         OperationType    `json:"type"`
	Outcome      OperationOutcome `json:"outcome"`
	Error        string           `json:"error,omitempty"`
	ConflictData json.RawMessage  `json:"conflict_data,omitempty"`
}

// SyncResult is the snapshot report of one queue-processing pass. It is never
// persisted beyond last-sync caching in the monitor.
type SyncResult struct {
	SuccessCount    int               `json:"success_count"`
	FailedCount     int               `json:"failed_count"`
	ConflictCount   int               `json:"conflict_count"`
	TotalOperations int               `json:"total_operations"`
	Details         []OperationResult `json:"details"`
}

// MarshalJSON ensures a nil detail list marshals as [] not null.
func (r SyncResult) MarshalJSON() ([]byte, error) {
	if r.Details == nil {
		r.Details = []OperationResult{}
	}
	type Alias SyncResult
	return json.Marshal(Alias(r))
}

// OperationStats holds queue counts by status. Runnable is the number of
// records a processing pass would pick up (PENDING plus retryable FAILED).
type OperationStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Success    int `json:"success"`
	Failed     int `json:"failed"`
	Conflict   int `json:"conflict"`
	Runnable   int `json:"runnable"`
	Total      int `json:"total"`
}

// ConnectionQuality is the coarse classification of the current link.
type ConnectionQuality string

const (
	QualityExcellent ConnectionQuality = "excellent"
	QualityGood      ConnectionQuality = "good"
	QualityPoor      ConnectionQuality = "poor"
	QualityOffline   ConnectionQuality = "offline"
)

// NetworkState is the monitor's view of connectivity, derived purely from
// the raw connectivity signal.
type NetworkState struct {
	IsOnline        bool              `json:"is_online"`
	Quality         ConnectionQuality `json:"quality"`
	LastOnlineAt    *time.Time        `json:"last_online_at,omitempty"`
	OfflineDuration time.Duration     `json:"offline_duration"`
}

// SyncStatus is the observational snapshot published for the presentation
// layer after each pass (or attempted pass).
type SyncStatus struct {
	IsSyncing      bool        `json:"is_syncing"`
	LastSyncAt     *time.Time  `json:"last_sync_at,omitempty"`
	LastSyncResult *SyncResult `json:"last_sync_result,omitempty"`
	LastSyncError  string      `json:"last_sync_error,omitempty"`
	SkippedCount   int64       `json:"skipped_count"`
}
