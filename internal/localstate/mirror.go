// Package localstate keeps the daemon's in-memory mirror of the visible
// client state: recordings, the user profile, and task completion. The
// engine mutates it speculatively on enqueue, rolls it back on terminal
// failure, and overwrites it with server data during SERVER_WINS resolution.
package localstate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/voxsync/voxsync/internal/types"
)

// Mirror is an in-memory implementation of the engine's LocalStateApplier.
type Mirror struct {
	mu         sync.RWMutex
	recordings map[string]map[string]any
	profile    map[string]any
	tasksDone  map[string]bool
}

// NewMirror creates an empty local state mirror.
func NewMirror() *Mirror {
	return &Mirror{
		recordings: make(map[string]map[string]any),
		profile:    make(map[string]any),
		tasksDone:  make(map[string]bool),
	}
}

// ApplyOptimistic applies the mutation speculatively and returns the prior
// snapshot of the touched record (null when it did not exist).
func (m *Mirror) ApplyOptimistic(ctx context.Context, t types.OperationType, payload json.RawMessage) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch t {
	case types.OpCreateRecording:
		var draft types.RecordingDraft
		if err := json.Unmarshal(payload, &draft); err != nil {
			return nil, fmt.Errorf("decode draft: %w", err)
		}
		prior := snapshotMap(m.recordings[draft.LocalID])
		entry := map[string]any{
			"title":            draft.Title,
			"duration_seconds": draft.DurationSeconds,
			"recorded_at":      draft.RecordedAt,
		}
		if draft.Transcription != "" {
			entry["transcription"] = draft.Transcription
		}
		m.recordings[draft.LocalID] = entry
		return prior, nil

	case types.OpUpdateRecording:
		var patch types.RecordingPatch
		if err := json.Unmarshal(payload, &patch); err != nil {
			return nil, fmt.Errorf("decode patch: %w", err)
		}
		prior := snapshotMap(m.recordings[patch.RecordingID])
		entry := m.recordings[patch.RecordingID]
		if entry == nil {
			entry = make(map[string]any)
			m.recordings[patch.RecordingID] = entry
		}
		applyOptional(entry, "title", patch.Title)
		applyOptional(entry, "transcription", patch.Transcription)
		applyOptional(entry, "notes", patch.Notes)
		return prior, nil

	case types.OpDeleteRecording:
		var del types.RecordingDelete
		if err := json.Unmarshal(payload, &del); err != nil {
			return nil, fmt.Errorf("decode delete: %w", err)
		}
		prior := snapshotMap(m.recordings[del.RecordingID])
		delete(m.recordings, del.RecordingID)
		return prior, nil

	case types.OpUpdateProfile:
		var patch types.ProfilePatch
		if err := json.Unmarshal(payload, &patch); err != nil {
			return nil, fmt.Errorf("decode profile patch: %w", err)
		}
		prior := snapshotMap(m.profile)
		applyOptional(m.profile, "display_name", patch.DisplayName)
		applyOptional(m.profile, "locale", patch.Locale)
		applyOptional(m.profile, "avatar_key", patch.AvatarKey)
		return prior, nil

	case types.OpCompleteTask:
		var completion types.TaskCompletion
		if err := json.Unmarshal(payload, &completion); err != nil {
			return nil, fmt.Errorf("decode task completion: %w", err)
		}
		prior, _ := json.Marshal(map[string]bool{"completed": m.tasksDone[completion.TaskID]})
		m.tasksDone[completion.TaskID] = true
		return prior, nil
	}

	return nil, fmt.Errorf("no optimistic apply for operation type %q", t)
}

// RollbackOptimistic reverts a speculative mutation using the prior snapshot
// captured when it was applied.
func (m *Mirror) RollbackOptimistic(ctx context.Context, t types.OperationType, payload, prior json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch t {
	case types.OpCreateRecording:
		var draft types.RecordingDraft
		if err := json.Unmarshal(payload, &draft); err != nil {
			return fmt.Errorf("decode draft: %w", err)
		}
		return m.restoreRecording(draft.LocalID, prior)

	case types.OpUpdateRecording:
		var patch types.RecordingPatch
		if err := json.Unmarshal(payload, &patch); err != nil {
			return fmt.Errorf("decode patch: %w", err)
		}
		return m.restoreRecording(patch.RecordingID, prior)

	case types.OpDeleteRecording:
		var del types.RecordingDelete
		if err := json.Unmarshal(payload, &del); err != nil {
			return fmt.Errorf("decode delete: %w", err)
		}
		return m.restoreRecording(del.RecordingID, prior)

	case types.OpUpdateProfile:
		restored, err := decodeMap(prior)
		if err != nil {
			return err
		}
		if restored == nil {
			restored = make(map[string]any)
		}
		m.profile = restored
		return nil

	case types.OpCompleteTask:
		var completion types.TaskCompletion
		if err := json.Unmarshal(payload, &completion); err != nil {
			return fmt.Errorf("decode task completion: %w", err)
		}
		var prev struct {
			Completed bool `json:"completed"`
		}
		if len(prior) > 0 {
			if err := json.Unmarshal(prior, &prev); err != nil {
				return fmt.Errorf("decode prior task state: %w", err)
			}
		}
		m.tasksDone[completion.TaskID] = prev.Completed
		return nil
	}

	return fmt.Errorf("no rollback for operation type %q", t)
}

// ApplyServerState overwrites local state with the server's version of the
// record, keyed the same way the optimistic apply was.
func (m *Mirror) ApplyServerState(ctx context.Context, t types.OperationType, data json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch t {
	case types.OpCreateRecording, types.OpUpdateRecording, types.OpDeleteRecording:
		server, err := decodeMap(data)
		if err != nil {
			return err
		}
		id, _ := server["id"].(string)
		if id == "" {
			id, _ = server["local_id"].(string)
		}
		if id == "" {
			return fmt.Errorf("server state missing recording id")
		}
		if deleted, ok := server["deleted"].(bool); ok && deleted {
			delete(m.recordings, id)
			return nil
		}
		m.recordings[id] = server
		return nil

	case types.OpUpdateProfile:
		server, err := decodeMap(data)
		if err != nil {
			return err
		}
		if server == nil {
			server = make(map[string]any)
		}
		m.profile = server
		return nil

	case types.OpCompleteTask:
		var server struct {
			TaskID    string `json:"task_id"`
			Completed bool   `json:"completed"`
		}
		if err := json.Unmarshal(data, &server); err != nil {
			return fmt.Errorf("decode server task state: %w", err)
		}
		if server.TaskID == "" {
			return fmt.Errorf("server state missing task id")
		}
		m.tasksDone[server.TaskID] = server.Completed
		return nil
	}

	return fmt.Errorf("no server-state apply for operation type %q", t)
}

// Recording returns a copy of the mirrored recording, if present.
func (m *Mirror) Recording(id string) (map[string]any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.recordings[id]
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(entry))
	for k, v := range entry {
		out[k] = v
	}
	return out, true
}

// Profile returns a copy of the mirrored profile.
func (m *Mirror) Profile() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]any, len(m.profile))
	for k, v := range m.profile {
		out[k] = v
	}
	return out
}

// TaskCompleted reports the mirrored completion flag for a task.
func (m *Mirror) TaskCompleted(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tasksDone[id]
}

func (m *Mirror) restoreRecording(id string, prior json.RawMessage) error {
	restored, err := decodeMap(prior)
	if err != nil {
		return err
	}
	if restored == nil {
		delete(m.recordings, id)
		return nil
	}
	m.recordings[id] = restored
	return nil
}

// snapshotMap serializes the current value of a record; nil maps serialize
// as JSON null so rollback can distinguish "did not exist".
func snapshotMap(entry map[string]any) json.RawMessage {
	data, _ := json.Marshal(entry)
	return data
}

func decodeMap(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return out, nil
}

func applyOptional(entry map[string]any, key string, value *string) {
	if value != nil {
		entry[key] = *value
	}
}
