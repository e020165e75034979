package types

import "encoding/json"

// ConflictError signals that the remote rejected a mutation because of a
// version/precondition mismatch, as opposed to an ordinary failure. Snapshot
// carries the server's current view of the record so the caller can decide a
// resolution.
type ConflictError struct {
	Snapshot json.RawMessage
}

func (e *ConflictError) Error() string {
	return "remote version conflict"
}
