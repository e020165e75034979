package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/voxsync/voxsync/internal/types"
)

func strPtr(s string) *string { return &s }

func TestClient_CreateRecording(t *testing.T) {
	var gotMethod, gotPath, gotAuth, gotContentType string
	var gotBody types.RecordingDraft

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", 0)
	draft := types.RecordingDraft{
		LocalID:         "rec-local-1",
		Title:           "standup notes",
		DurationSeconds: 42.5,
		RecordedAt:      time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := client.CreateRecording(context.Background(), draft); err != nil {
		t.Fatalf("CreateRecording() error = %v", err)
	}

	if gotMethod != http.MethodPost || gotPath != "/api/v1/recordings" {
		t.Errorf("request = %s %s, want POST /api/v1/recordings", gotMethod, gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("authorization = %q, want bearer token", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Errorf("content type = %q", gotContentType)
	}
	if gotBody.LocalID != draft.LocalID || gotBody.Title != draft.Title {
		t.Errorf("body = %+v, want the draft", gotBody)
	}
}

func TestClient_UpdateRecordingConflict(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{
			name:   "409 with wrapped snapshot",
			status: http.StatusConflict,
			body:   `{"current":{"id":"rec-1","version":7,"transcription":"server text"}}`,
			want:   `{"id":"rec-1","version":7,"transcription":"server text"}`,
		},
		{
			name:   "412 precondition failed",
			status: http.StatusPreconditionFailed,
			body:   `{"current":{"id":"rec-1","version":3}}`,
			want:   `{"id":"rec-1","version":3}`,
		},
		{
			name:   "bare body fallback",
			status: http.StatusConflict,
			body:   `{"id":"rec-1","version":2}`,
			want:   `{"id":"rec-1","version":2}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewClient(srv.URL, "k", 0)
			err := client.UpdateRecording(context.Background(), types.RecordingPatch{
				RecordingID: "rec-1",
				Version:     1,
				Title:       strPtr("local title"),
			})

			var conflict *types.ConflictError
			if !errors.As(err, &conflict) {
				t.Fatalf("error = %v, want *types.ConflictError", err)
			}
			if string(conflict.Snapshot) != tt.want {
				t.Errorf("snapshot = %s, want %s", conflict.Snapshot, tt.want)
			}
		})
	}
}

func TestClient_ServerErrorIsNotConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k", 0)
	err := client.DeleteRecording(context.Background(), types.RecordingDelete{
		RecordingID: "rec-1",
		Version:     1,
	})
	if err == nil {
		t.Fatal("DeleteRecording() should fail on 500")
	}

	var conflict *types.ConflictError
	if errors.As(err, &conflict) {
		t.Error("500 must classify as ordinary failure, not conflict")
	}
	if !strings.Contains(err.Error(), "status 500") {
		t.Errorf("error = %v, want status code in message", err)
	}
}

func TestClient_DeleteRecordingCarriesVersion(t *testing.T) {
	var gotMethod, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k", 0)
	err := client.DeleteRecording(context.Background(), types.RecordingDelete{
		RecordingID: "rec-9",
		Version:     4,
	})
	if err != nil {
		t.Fatalf("DeleteRecording() error = %v", err)
	}
	if gotMethod != http.MethodDelete {
		t.Errorf("method = %s, want DELETE", gotMethod)
	}
	if gotQuery != "version=4" {
		t.Errorf("query = %q, want version=4", gotQuery)
	}
}

func TestClient_CompleteTaskPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k", 0)
	err := client.CompleteTask(context.Background(), types.TaskCompletion{
		TaskID:      "task-7",
		CompletedAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("CompleteTask() error = %v", err)
	}
	if gotPath != "/api/v1/tasks/task-7/complete" {
		t.Errorf("path = %s", gotPath)
	}
}

func TestClient_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/health" {
			t.Errorf("ping path = %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k", 0)
	if err := client.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}

	unconfigured := NewClient("", "k", 0)
	if err := unconfigured.Ping(context.Background()); err == nil {
		t.Error("Ping() without a base URL should fail")
	}
}

func TestClient_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // deliberately down

	client := NewClient(srv.URL, "k", 0)
	err := client.UpdateProfile(context.Background(), types.ProfilePatch{
		DisplayName: strPtr("new name"),
	})
	if err == nil {
		t.Fatal("UpdateProfile() against a dead server should fail")
	}
	var conflict *types.ConflictError
	if errors.As(err, &conflict) {
		t.Error("transport failure must not classify as conflict")
	}
}
