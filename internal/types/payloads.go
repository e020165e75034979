package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Typed payload shapes for each operation type. The engine carries payloads
// opaquely as json.RawMessage; these types are used at the enqueue boundary
// for validation and by the remote client for dispatch.

// RecordingDraft is the payload of a create_recording operation. LocalID is
// the client-generated identifier the server adopts, so replaying the create
// after a transient failure cannot duplicate the recording.
type RecordingDraft struct {
	LocalID         string    `json:"local_id"`
	Title           string    `json:"title"`
	DurationSeconds float64   `json:"duration_seconds"`
	MimeType        string    `json:"mime_type,omitempty"`
	AudioKey        string    `json:"audio_key,omitempty"`
	Transcription   string    `json:"transcription,omitempty"`
	RecordedAt      time.Time `json:"recorded_at"`
}

// RecordingPatch is the payload of an update_recording operation. Version is
// the last version the client saw; the server rejects the write with a
// conflict when it no longer matches.
type RecordingPatch struct {
	RecordingID   string  `json:"recording_id"`
	Version       int64   `json:"version"`
	Title         *string `json:"title,omitempty"`
	Transcription *string `json:"transcription,omitempty"`
	Notes         *string `json:"notes,omitempty"`
}

// RecordingDelete is the payload of a delete_recording operation.
type RecordingDelete struct {
	RecordingID string `json:"recording_id"`
	Version     int64  `json:"version"`
}

// ProfilePatch is the payload of an update_profile operation.
type ProfilePatch struct {
	Version     int64   `json:"version"`
	DisplayName *string `json:"display_name,omitempty"`
	Locale      *string `json:"locale,omitempty"`
	AvatarKey   *string `json:"avatar_key,omitempty"`
}

// TaskCompletion is the payload of a complete_task operation.
type TaskCompletion struct {
	TaskID      string    `json:"task_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// ErrMalformedPayload indicates a payload that does not decode to the shape
// required by its operation type. Enqueuing such a payload is a programmer
// error and fails loudly.
var ErrMalformedPayload = errors.New("malformed operation payload")

// ValidatePayload checks that raw decodes to the payload shape for t and
// carries the fields replay requires.
func ValidatePayload(t OperationType, raw json.RawMessage) error {
	switch t {
	case OpCreateRecording:
		var p RecordingDraft
		if err := strictDecode(raw, &p); err != nil {
			return err
		}
		if p.LocalID == "" {
			return fmt.Errorf("%w: create_recording requires local_id", ErrMalformedPayload)
		}
	case OpUpdateRecording:
		var p RecordingPatch
		if err := strictDecode(raw, &p); err != nil {
			return err
		}
		if p.RecordingID == "" {
			return fmt.Errorf("%w: update_recording requires recording_id", ErrMalformedPayload)
		}
	case OpDeleteRecording:
		var p RecordingDelete
		if err := strictDecode(raw, &p); err != nil {
			return err
		}
		if p.RecordingID == "" {
			return fmt.Errorf("%w: delete_recording requires recording_id", ErrMalformedPayload)
		}
	case OpUpdateProfile:
		var p ProfilePatch
		if err := strictDecode(raw, &p); err != nil {
			return err
		}
	case OpCompleteTask:
		var p TaskCompletion
		if err := strictDecode(raw, &p); err != nil {
			return err
		}
		if p.TaskID == "" {
			return fmt.Errorf("%w: complete_task requires task_id", ErrMalformedPayload)
		}
	default:
		return fmt.Errorf("%w: unknown operation type %q", ErrMalformedPayload, t)
	}
	return nil
}

func strictDecode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}
