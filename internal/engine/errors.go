package engine

import "errors"

var (
	// ErrNotFound indicates the operation id is not present in the queue.
	ErrNotFound = errors.New("operation not found")

	// ErrInvalidState indicates a resolution was attempted on an operation
	// that is not currently in CONFLICT.
	ErrInvalidState = errors.New("operation is not in conflict state")

	// ErrMergePayloadRequired indicates a MERGE resolution without a merged
	// payload.
	ErrMergePayloadRequired = errors.New("merge resolution requires a merged payload")

	// ErrUnknownStrategy indicates an unrecognized resolution strategy.
	ErrUnknownStrategy = errors.New("unknown resolution strategy")
)
