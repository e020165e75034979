package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/voxsync/voxsync/internal/engine"
	"github.com/voxsync/voxsync/internal/netmon"
	"github.com/voxsync/voxsync/internal/types"
)

// QueueEngine is the slice of the storage manager the API depends on.
type QueueEngine interface {
	AddOperation(ctx context.Context, t types.OperationType, payload json.RawMessage, optimistic bool) (string, error)
	ResolveConflict(ctx context.Context, id string, strategy types.ResolutionStrategy, mergedPayload json.RawMessage) error
	CleanupCompleted(ctx context.Context) (int, error)
	Stats(ctx context.Context) (types.OperationStats, error)
	ListOperations(ctx context.Context, status types.OperationStatus) ([]types.OperationRecord, error)
	GetOperation(ctx context.Context, id string) (types.OperationRecord, error)
}

// SyncController is the slice of the network monitor the API depends on.
type SyncController interface {
	SyncNow(ctx context.Context) (types.SyncResult, error)
	Status() types.SyncStatus
	NetworkState() types.NetworkState
	NotifyMutation()
}

// Handler implements the local status API handlers.
type Handler struct {
	engine  QueueEngine
	monitor SyncController
	version string
}

// NewHandler creates a new Handler.
func NewHandler(e QueueEngine, m SyncController, version string) *Handler {
	return &Handler{engine: e, monitor: m, version: version}
}

// healthResponse is the liveness payload.
type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Version: h.version})
}

// statusResponse joins the sync snapshot and network view.
type statusResponse struct {
	Sync    types.SyncStatus   `json:"sync"`
	Network types.NetworkState `json:"network"`
}

// Status handles GET /api/v1/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Sync:    h.monitor.Status(),
		Network: h.monitor.NetworkState(),
	})
}

// QueueStats handles GET /api/v1/queue/stats
func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		slog.Error("failed to read queue stats", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Failed to read queue stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ListOperations handles GET /api/v1/queue/operations?status=
func (h *Handler) ListOperations(w http.ResponseWriter, r *http.Request) {
	status := types.OperationStatus(r.URL.Query().Get("status"))
	switch status {
	case "", types.StatusPending, types.StatusProcessing, types.StatusSuccess, types.StatusFailed, types.StatusConflict:
	default:
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Unknown status %q", status))
		return
	}

	records, err := h.engine.ListOperations(r.Context(), status)
	if err != nil {
		slog.Error("failed to list operations", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Failed to list operations")
		return
	}
	if records == nil {
		records = []types.OperationRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// GetOperation handles GET /api/v1/queue/operations/{id}
func (h *Handler) GetOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.engine.GetOperation(r.Context(), id)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			WriteProblem(w, r, http.StatusNotFound, "Operation not found")
			return
		}
		slog.Error("failed to get operation", "component", "api", "operation_id", id, "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Failed to read operation")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// enqueueRequest is the body of POST /api/v1/queue/operations.
type enqueueRequest struct {
	Type       types.OperationType `json:"type"`
	Payload    json.RawMessage     `json:"payload"`
	Optimistic bool                `json:"optimistic"`
}

// enqueueResponse returns the new operation id.
type enqueueResponse struct {
	ID string `json:"id"`
}

// Enqueue handles POST /api/v1/queue/operations. The mutation is applied
// optimistically and queued; the post-mutation trigger is armed without
// blocking the response.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return
	}

	id, err := h.engine.AddOperation(r.Context(), req.Type, req.Payload, req.Optimistic)
	if err != nil {
		if errors.Is(err, types.ErrMalformedPayload) {
			WriteProblem(w, r, http.StatusUnprocessableEntity, err.Error())
			return
		}
		slog.Error("failed to enqueue operation", "component", "api", "type", string(req.Type), "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Failed to enqueue operation")
		return
	}

	h.monitor.NotifyMutation()
	writeJSON(w, http.StatusCreated, enqueueResponse{ID: id})
}

// SyncNow handles POST /api/v1/sync, the manual trigger. This is the only
// trigger that reports orchestration failures to its caller.
func (h *Handler) SyncNow(w http.ResponseWriter, r *http.Request) {
	result, err := h.monitor.SyncNow(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, netmon.ErrOffline):
			WriteProblem(w, r, http.StatusServiceUnavailable, "Cannot sync: not connected")
		case errors.Is(err, netmon.ErrSyncInProgress):
			WriteProblem(w, r, http.StatusConflict, "A sync pass is already in progress")
		case errors.Is(err, netmon.ErrCooldown):
			WriteProblem(w, r, http.StatusTooManyRequests, "Sync was attempted too recently")
		default:
			slog.Error("manual sync failed", "component", "api", "error", err)
			WriteProblem(w, r, http.StatusInternalServerError, "Sync failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// resolveRequest is the body of POST /api/v1/queue/operations/{id}/resolve.
type resolveRequest struct {
	Strategy      types.ResolutionStrategy `json:"strategy"`
	MergedPayload json.RawMessage          `json:"merged_payload,omitempty"`
}

// Resolve handles conflict resolution for a single operation.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return
	}

	err := h.engine.ResolveConflict(r.Context(), id, req.Strategy, req.MergedPayload)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrNotFound):
			WriteProblem(w, r, http.StatusNotFound, "Operation not found")
		case errors.Is(err, engine.ErrInvalidState):
			WriteProblem(w, r, http.StatusConflict, err.Error())
		case errors.Is(err, engine.ErrMergePayloadRequired),
			errors.Is(err, engine.ErrUnknownStrategy),
			errors.Is(err, types.ErrMalformedPayload):
			WriteProblem(w, r, http.StatusUnprocessableEntity, err.Error())
		default:
			slog.Error("failed to resolve conflict", "component", "api", "operation_id", id, "error", err)
			WriteProblem(w, r, http.StatusInternalServerError, "Failed to resolve conflict")
		}
		return
	}

	rec, err := h.engine.GetOperation(r.Context(), id)
	if err != nil {
		slog.Error("failed to reload resolved operation", "component", "api", "operation_id", id, "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Failed to read operation")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// cleanupResponse reports how many completed records were removed.
type cleanupResponse struct {
	Removed int `json:"removed"`
}

// Cleanup handles POST /api/v1/queue/cleanup
func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := h.engine.CleanupCompleted(r.Context())
	if err != nil {
		slog.Error("cleanup failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Cleanup failed")
		return
	}
	writeJSON(w, http.StatusOK, cleanupResponse{Removed: removed})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
