// Package queue provides the durable persistence layer for the offline
// operation queue. The store's contract is deliberately narrow: load the full
// queue, save the full queue. The engine owns all read-modify-write logic;
// the store owns durability across process restarts.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/voxsync/voxsync/internal/types"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists the operation queue in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the queue database at dbPath.
// It enables WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if err := recoverStaleProcessing(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// recoverStaleProcessing re-arms records stranded in PROCESSING by a crash
// mid-dispatch. No pass can be running at open, so any PROCESSING record is
// stale; it goes back to PENDING and the next pass replays it (creates are
// idempotent via local_id, versioned writes surface a conflict at worst).
func recoverStaleProcessing(db *sql.DB) error {
	_, err := db.Exec(`UPDATE operations SET status = ? WHERE status = ?`,
		string(types.StatusPending), string(types.StatusProcessing))
	if err != nil {
		return fmt.Errorf("recover stale operations: %w", err)
	}
	return nil
}

// enablePragmas sets SQLite pragmas for performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load returns every operation in the queue ordered by creation time.
func (s *SQLiteStore) Load(ctx context.Context) ([]types.OperationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, status, payload, created_at, retry_count, last_retry_at,
		       conflict_data, original_data, optimistic_update
		FROM operations
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("load operations: %w", err)
	}
	defer rows.Close()

	var records []types.OperationRecord
	for rows.Next() {
		rec, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load operations: %w", err)
	}

	return records, nil
}

// Save replaces the persisted queue with records in a single transaction.
func (s *SQLiteStore) Save(ctx context.Context, records []types.OperationRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM operations"); err != nil {
		return fmt.Errorf("clear operations: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO operations (id, type, status, payload, created_at, retry_count,
		                        last_retry_at, conflict_data, original_data, optimistic_update)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		var lastRetry any
		if rec.Metadata.LastRetryAt != nil {
			lastRetry = rec.Metadata.LastRetryAt.UTC().Format(time.RFC3339Nano)
		}

		optimistic := 0
		if rec.OptimisticUpdate {
			optimistic = 1
		}

		_, err := stmt.ExecContext(ctx,
			rec.ID,
			string(rec.Type),
			string(rec.Status),
			string(rec.Payload),
			rec.Metadata.CreatedAt.UTC().Format(time.RFC3339Nano),
			rec.Metadata.RetryCount,
			lastRetry,
			nullableJSON(rec.Metadata.ConflictData),
			nullableJSON(rec.Metadata.OriginalData),
			optimistic,
		)
		if err != nil {
			return fmt.Errorf("insert operation %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}

	return nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (types.OperationRecord, error) {
	var (
		rec          types.OperationRecord
		opType       string
		status       string
		payload      string
		createdAt    string
		lastRetryAt  sql.NullString
		conflictData sql.NullString
		originalData sql.NullString
		optimistic   int
	)

	err := row.Scan(&rec.ID, &opType, &status, &payload, &createdAt,
		&rec.Metadata.RetryCount, &lastRetryAt, &conflictData, &originalData, &optimistic)
	if err != nil {
		return rec, fmt.Errorf("scan operation: %w", err)
	}

	rec.Type = types.OperationType(opType)
	rec.Status = types.OperationStatus(status)
	rec.Payload = json.RawMessage(payload)
	rec.OptimisticUpdate = optimistic != 0

	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return rec, fmt.Errorf("parse created_at for %s: %w", rec.ID, err)
	}
	rec.Metadata.CreatedAt = created

	if lastRetryAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastRetryAt.String)
		if err != nil {
			return rec, fmt.Errorf("parse last_retry_at for %s: %w", rec.ID, err)
		}
		rec.Metadata.LastRetryAt = &t
	}
	if conflictData.Valid {
		rec.Metadata.ConflictData = json.RawMessage(conflictData.String)
	}
	if originalData.Valid {
		rec.Metadata.OriginalData = json.RawMessage(originalData.String)
	}

	return rec, nil
}
