// Package history keeps an append-only audit log of finished jobs in SQLite.
// It is never read back to drive job state.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/mediaflow/internal/jobs"
)

// Entry is one finished job.
type Entry struct {
	JobID            string      `json:"job_id"`
	BatchID          string      `json:"batch_id"`
	Service          string      `json:"service"`
	ClientID         string      `json:"client_id"`
	OriginalFilename string      `json:"original_filename"`
	BaseName         string      `json:"base_name"`
	Status           jobs.Status `json:"status"`
	Reason           string      `json:"reason,omitempty"`
	Artifacts        int         `json:"artifacts"`
	Bytes            int64       `json:"bytes"`
	StartedAt        time.Time   `json:"started_at"`
	CompletedAt      time.Time   `json:"completed_at"`
}

// ErrNotFound is returned by Get for an unknown job id.
var ErrNotFound = errors.New("job not found in history")

const selectColumns = `SELECT id, batch_id, service, client_id, original_filename, base_name, status, reason, artifacts, bytes, started_at, completed_at
FROM job_log`

// Store writes and reads the job_log table.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Record appends e. A zero CompletedAt is stamped with the current time.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.JobID == "" {
		return fmt.Errorf("job id is empty")
	}
	if !e.Status.Terminal() {
		return fmt.Errorf("status %q is not terminal", e.Status)
	}
	if e.CompletedAt.IsZero() {
		e.CompletedAt = s.now()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = e.CompletedAt
	}

	var reason sql.NullString
	if e.Reason != "" {
		reason = sql.NullString{String: e.Reason, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO job_log(id, batch_id, service, client_id, original_filename, base_name, status, reason, artifacts, bytes, started_at, completed_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  status = excluded.status,
  reason = excluded.reason,
  artifacts = excluded.artifacts,
  bytes = excluded.bytes,
  completed_at = excluded.completed_at;`,
		e.JobID, e.BatchID, e.Service, e.ClientID, e.OriginalFilename, e.BaseName,
		string(e.Status), reason, e.Artifacts, e.Bytes,
		e.StartedAt.UTC().Format(time.RFC3339Nano), e.CompletedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert job_log: %w", err)
	}
	return nil
}

// Recent returns up to limit entries for client on service, newest first.
func (s *Store) Recent(ctx context.Context, clientID, service string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+`
WHERE client_id = ? AND service = ?
ORDER BY completed_at DESC
LIMIT ?;`, clientID, service, limit)
	if err != nil {
		return nil, fmt.Errorf("query job_log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get returns the entry for jobID.
func (s *Store) Get(ctx context.Context, jobID string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?;`, jobID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (Entry, error) {
	var (
		e                    Entry
		status               string
		reason               sql.NullString
		startedS, completedS string
	)
	if err := sc.Scan(&e.JobID, &e.BatchID, &e.Service, &e.ClientID, &e.OriginalFilename, &e.BaseName,
		&status, &reason, &e.Artifacts, &e.Bytes, &startedS, &completedS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scan job_log: %w", err)
	}
	e.Status = jobs.Status(status)
	e.Reason = reason.String
	if t, err := time.Parse(time.RFC3339Nano, startedS); err == nil {
		e.StartedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, completedS); err == nil {
		e.CompletedAt = t
	}
	return e, nil
}

// Prune deletes entries completed more than retention ago.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-retention).UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `DELETE FROM job_log WHERE completed_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune job_log: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
