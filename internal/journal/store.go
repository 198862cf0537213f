package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"reelay/internal/outcome"
)

// Store is the journal surface the bridge depends on. The orchestrator may
// supply its own implementation; SQLiteStore is the shipped durable default.
type Store interface {
	// LookupStep returns the record for a step identifier, or nil when the
	// step has never been journaled.
	LookupStep(ctx context.Context, stepID string) (*StepRecord, error)
	// SaveStep durably upserts a step record keyed by its identifier.
	SaveStep(ctx context.Context, record *StepRecord) error
}

// SQLiteStore persists step records and job outcomes in a local SQLite
// database using WAL mode.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open initializes or connects to the journal database at path.
func Open(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("journal path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &SQLiteStore{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string {
	return s.path
}

// LookupStep fetches a step record by identifier. A missing step returns nil.
func (s *SQLiteStore) LookupStep(ctx context.Context, stepID string) (*StepRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM step_records WHERE step_id = ?`, stepID)
	record, err := scanStep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup step: %w", err)
	}
	return record, nil
}

// SaveStep upserts a step record keyed by its deterministic identifier.
func (s *SQLiteStore) SaveStep(ctx context.Context, record *StepRecord) error {
	if record == nil {
		return errors.New("step record is nil")
	}
	now := time.Now().UTC()
	record.UpdatedAt = now
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	return s.execWithRetry(ctx,
		`INSERT INTO step_records (
            step_id, request_key, step_name, status, attempts,
            payload_json, error_kind, error_message, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(step_id) DO UPDATE SET
            status = excluded.status,
            attempts = excluded.attempts,
            payload_json = excluded.payload_json,
            error_kind = excluded.error_kind,
            error_message = excluded.error_message,
            updated_at = excluded.updated_at`,
		record.StepID,
		record.RequestKey,
		record.StepName,
		string(record.Status),
		record.Attempts,
		nullableString(record.Payload),
		nullableString(string(record.ErrorKind)),
		nullableString(record.ErrorMessage),
		record.CreatedAt.Format(time.RFC3339Nano),
		record.UpdatedAt.Format(time.RFC3339Nano),
	)
}

// StepsForRequest returns the journaled steps of one request in creation order.
func (s *SQLiteStore) StepsForRequest(ctx context.Context, requestKey string) ([]*StepRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM step_records WHERE request_key = ? ORDER BY created_at, step_id`,
		requestKey,
	)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var records []*StepRecord
	for rows.Next() {
		record, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// RecordOutcome persists a terminal outcome exactly once per request key.
// When an outcome already exists the recorded one is returned unchanged, so
// replays of a finished request observe the original result.
func (s *SQLiteStore) RecordOutcome(ctx context.Context, out outcome.JobOutcome) (outcome.JobOutcome, bool, error) {
	res, err := s.execWithRetryResult(ctx,
		`INSERT INTO job_outcomes (
            request_key, status, output_descriptor, error_kind, error_message, created_at
        ) VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(request_key) DO NOTHING`,
		out.RequestKey,
		string(out.Status),
		nullableString(out.OutputDescriptor),
		nullableString(string(out.ErrorKind)),
		nullableString(out.Message),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return outcome.JobOutcome{}, false, fmt.Errorf("record outcome: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return outcome.JobOutcome{}, false, fmt.Errorf("rows affected: %w", err)
	}

	recorded, err := s.LookupOutcome(ctx, out.RequestKey)
	if err != nil {
		return outcome.JobOutcome{}, false, err
	}
	if recorded == nil {
		return outcome.JobOutcome{}, false, fmt.Errorf("outcome for %s missing after insert", out.RequestKey)
	}
	return *recorded, inserted > 0, nil
}

// LookupOutcome fetches the recorded terminal outcome for a request key, or
// nil when the job has not terminated.
func (s *SQLiteStore) LookupOutcome(ctx context.Context, requestKey string) (*outcome.JobOutcome, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT request_key, status, output_descriptor, error_kind, error_message
         FROM job_outcomes WHERE request_key = ?`,
		requestKey,
	)
	out, err := scanOutcome(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup outcome: %w", err)
	}
	return out, nil
}

// ListOutcomes returns recorded outcomes, newest first.
func (s *SQLiteStore) ListOutcomes(ctx context.Context, limit int) ([]outcome.JobOutcome, error) {
	query := `SELECT request_key, status, output_descriptor, error_kind, error_message
              FROM job_outcomes ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var outs []outcome.JobOutcome
	for rows.Next() {
		out, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		outs = append(outs, *out)
	}
	return outs, rows.Err()
}

// Stats returns step counts grouped by status.
func (s *SQLiteStore) Stats(ctx context.Context) (map[StepStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM step_records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("journal stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[StepStatus]int)
	for rows.Next() {
		var status StepStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// CheckHealth verifies the journal database is present and readable.
func (s *SQLiteStore) CheckHealth(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("journal database connection unavailable")
	}
	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(connCtx); err != nil {
		return fmt.Errorf("ping journal database: %w", err)
	}
	row := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check")
	var result string
	if err := row.Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if !strings.EqualFold(result, "ok") {
		return fmt.Errorf("journal integrity check reported %q", result)
	}
	return nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func (s *SQLiteStore) execWithRetry(ctx context.Context, query string, args ...any) error {
	_, err := s.execWithRetryResult(ctx, query, args...)
	return err
}

func (s *SQLiteStore) execWithRetryResult(ctx context.Context, query string, args ...any) (sql.Result, error) {
	delay := busyRetryInitialBackoff
	var (
		res     sql.Result
		lastErr error
	)
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		res, lastErr = s.db.ExecContext(ctx, query, args...)
		if lastErr == nil {
			return res, nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return nil, lastErr
}

const stepColumns = "step_id, request_key, step_name, status, attempts, payload_json, error_kind, error_message, created_at, updated_at"

func scanStep(scanner interface{ Scan(dest ...any) error }) (*StepRecord, error) {
	var (
		stepID       string
		requestKey   string
		stepName     string
		statusStr    string
		attempts     int
		payload      sql.NullString
		errorKind    sql.NullString
		errorMessage sql.NullString
		createdRaw   string
		updatedRaw   string
	)
	if err := scanner.Scan(
		&stepID,
		&requestKey,
		&stepName,
		&statusStr,
		&attempts,
		&payload,
		&errorKind,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	record := &StepRecord{
		StepID:       stepID,
		RequestKey:   requestKey,
		StepName:     stepName,
		Status:       StepStatus(statusStr),
		Attempts:     attempts,
		Payload:      payload.String,
		ErrorKind:    outcome.ErrorKind(errorKind.String),
		ErrorMessage: errorMessage.String,
	}
	if created, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		record.CreatedAt = created
	}
	if updated, err := time.Parse(time.RFC3339Nano, updatedRaw); err == nil {
		record.UpdatedAt = updated
	}
	return record, nil
}

func scanOutcome(scanner interface{ Scan(dest ...any) error }) (*outcome.JobOutcome, error) {
	var (
		requestKey   string
		statusStr    string
		output       sql.NullString
		errorKind    sql.NullString
		errorMessage sql.NullString
	)
	if err := scanner.Scan(&requestKey, &statusStr, &output, &errorKind, &errorMessage); err != nil {
		return nil, err
	}
	return &outcome.JobOutcome{
		RequestKey:       requestKey,
		Status:           outcome.Status(statusStr),
		OutputDescriptor: output.String,
		ErrorKind:        outcome.ErrorKind(errorKind.String),
		Message:          errorMessage.String,
	}, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

var _ Store = (*SQLiteStore)(nil)
