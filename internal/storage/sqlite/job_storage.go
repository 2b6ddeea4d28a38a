package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// JobStorage implements interfaces.JobStore over SQLite (spec §4.1).
// claim_next runs its select-then-update in one transaction (database/sql's
// default deferred BEGIN) under an in-process mutex; together with the single
// pooled connection this serializes claims among callers in one process.
type JobStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex
}

func NewJobStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.JobStore {
	return &JobStorage{db: db, logger: logger}
}

func unixToTime(unix int64) time.Time { return time.Unix(unix, 0) }

func nullableUnix(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Valid: true, Int64: t.Unix()}
}

func (s *JobStorage) Create(ctx context.Context, job *models.Job) (string, error) {
	if job.ID == "" {
		job.ID = common.NewID("job")
	}
	now := time.Now()
	job.CreatedAt, job.UpdatedAt, job.LastHeartbeatAt = now, now, now
	job.Status = models.JobStatusQueued

	payloadJSON, err := job.PayloadJSON()
	if err != nil {
		return "", fmt.Errorf("failed to serialize job payload: %w", err)
	}

	err = retryWithExponentialBackoff(ctx, func() error {
		_, dbErr := s.db.db.ExecContext(ctx, `
			INSERT INTO jobs (id, parent_id, type, status, priority, payload_json, result_json,
				error, cancellation_requested, last_heartbeat_at, created_at, started_at,
				completed_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, NULL, NULL, 0, ?, ?, NULL, NULL, ?)`,
			job.ID, job.ParentID, string(job.Type), string(job.Status), job.Priority,
			payloadJSON, now.Unix(), now.Unix(), now.Unix())
		return dbErr
	}, 5, 100*time.Millisecond, s.logger)
	if err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}
	return job.ID, nil
}

// ClaimNext atomically selects the highest-priority queued job (oldest first
// on ties) or a stale running job, transitions it to running, and returns it
// in one transaction (spec §4.1).
func (s *JobStorage) ClaimNext(ctx context.Context, jobType models.JobType, staleThreshold time.Duration) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var job *models.Job
	err := retryWithExponentialBackoff(ctx, func() error {
		tx, err := s.db.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		staleCutoff := time.Now().Add(-staleThreshold).Unix()
		row := tx.QueryRowContext(ctx, `
			SELECT id, parent_id, type, status, priority, payload_json, result_json, error,
				cancellation_requested, last_heartbeat_at, created_at, started_at, completed_at, updated_at
			FROM jobs
			WHERE type = ? AND (
				status = 'queued'
				OR (status = 'running' AND last_heartbeat_at < ?)
			)
			ORDER BY
				CASE WHEN status = 'running' THEN 0 ELSE 1 END DESC,
				priority DESC, created_at ASC
			LIMIT 1`, string(jobType), staleCutoff)

		candidate, scanErr := scanJob(row)
		if scanErr == sql.ErrNoRows {
			job = nil
			return tx.Commit()
		}
		if scanErr != nil {
			return scanErr
		}

		wasStale := candidate.Status == models.JobStatusRunning
		now := time.Now()
		startedAt := candidate.StartedAt
		if startedAt == nil {
			startedAt = &now
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = 'running', started_at = ?, last_heartbeat_at = ?, updated_at = ?
			WHERE id = ?`, startedAt.Unix(), now.Unix(), now.Unix(), candidate.ID); err != nil {
			return err
		}

		if wasStale {
			s.logger.Warn().
				Str("job_id", candidate.ID).
				Str("type", string(jobType)).
				Time("previous_heartbeat", candidate.LastHeartbeatAt).
				Msg("reclaimed stale running job")
		}

		candidate.Status = models.JobStatusRunning
		candidate.StartedAt = startedAt
		candidate.LastHeartbeatAt = now
		candidate.UpdatedAt = now
		job = candidate
		return tx.Commit()
	}, 5, 50*time.Millisecond, s.logger)

	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

func (s *JobStorage) Heartbeat(ctx context.Context, jobID string) error {
	now := time.Now()
	res, err := s.db.db.ExecContext(ctx, `
		UPDATE jobs SET last_heartbeat_at = ?, updated_at = ?
		WHERE id = ? AND status IN ('running', 'cancelling')`, now.Unix(), now.Unix(), jobID)
	if err != nil {
		return fmt.Errorf("failed to heartbeat job: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("job %s is not running (cancelled or terminal)", jobID)
	}
	return nil
}

func (s *JobStorage) RequestCancel(ctx context.Context, jobID string) error {
	now := time.Now()
	_, err := s.db.db.ExecContext(ctx, `
		UPDATE jobs SET cancellation_requested = 1, updated_at = ?,
			status = CASE WHEN status = 'running' THEN 'cancelling' ELSE status END
		WHERE id = ? AND status NOT IN ('completed', 'failed', 'cancelled')`, now.Unix(), jobID)
	if err != nil {
		return fmt.Errorf("failed to request cancel: %w", err)
	}
	return nil
}

func (s *JobStorage) IsCancelRequested(ctx context.Context, jobID string) (bool, error) {
	var v int
	err := s.db.db.QueryRowContext(ctx, `SELECT cancellation_requested FROM jobs WHERE id = ?`, jobID).Scan(&v)
	if err != nil {
		return false, fmt.Errorf("failed to check cancellation: %w", err)
	}
	return v != 0, nil
}

func (s *JobStorage) Complete(ctx context.Context, jobID string, result *models.JobResult) error {
	job := &models.Job{Result: result}
	resultJSON, err := job.ResultJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize result: %w", err)
	}
	now := time.Now()
	_, err = s.db.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'completed', result_json = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`, nullableString(resultJSON), now.Unix(), now.Unix(), jobID)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

func (s *JobStorage) Fail(ctx context.Context, jobID string, errMsg string) error {
	now := time.Now()
	_, err := s.db.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'failed', error = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`, errMsg, now.Unix(), now.Unix(), jobID)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	return nil
}

func (s *JobStorage) MarkCancelled(ctx context.Context, jobID string, partial *models.JobResult) error {
	job := &models.Job{Result: partial}
	resultJSON, err := job.ResultJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize partial result: %w", err)
	}
	now := time.Now()
	res, err := s.db.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'cancelled', result_json = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status IN ('running', 'cancelling')`, nullableString(resultJSON), now.Unix(), now.Unix(), jobID)
	if err != nil {
		return fmt.Errorf("failed to mark job cancelled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s not in a cancellable state", jobID)
	}
	return nil
}

func (s *JobStorage) Delete(ctx context.Context, jobID string) error {
	res, err := s.db.db.ExecContext(ctx, `
		DELETE FROM jobs WHERE id = ? AND status IN ('completed', 'failed', 'cancelled')`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s is not terminal, refusing hard delete", jobID)
	}
	return nil
}

func (s *JobStorage) Get(ctx context.Context, jobID string) (*models.Job, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT id, parent_id, type, status, priority, payload_json, result_json, error,
			cancellation_requested, last_heartbeat_at, created_at, started_at, completed_at, updated_at
		FROM jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s not found", jobID)
	}
	return job, err
}

func (s *JobStorage) List(ctx context.Context, opts interfaces.JobListOptions) ([]*models.Job, error) {
	query := `SELECT id, parent_id, type, status, priority, payload_json, result_json, error,
		cancellation_requested, last_heartbeat_at, created_at, started_at, completed_at, updated_at
		FROM jobs WHERE 1=1`
	var args []interface{}
	if opts.Type != "" {
		query += " AND type = ?"
		args = append(args, string(opts.Type))
	}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJobRows(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row *sql.Row) (*models.Job, error) {
	return scanJobGeneric(row)
}

func scanJobRows(rows *sql.Rows) (*models.Job, error) {
	return scanJobGeneric(rows)
}

func scanJobGeneric(s rowScanner) (*models.Job, error) {
	var (
		id, jobType, status, payloadJSON string
		parentID, resultJSON, errorMsg   sql.NullString
		priority                         int
		cancellationRequested            int
		lastHeartbeatAt, createdAt       int64
		startedAt, completedAt, updatedAt sql.NullInt64
	)
	err := s.Scan(&id, &parentID, &jobType, &status, &priority, &payloadJSON, &resultJSON, &errorMsg,
		&cancellationRequested, &lastHeartbeatAt, &createdAt, &startedAt, &completedAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	job := &models.Job{
		ID:                    id,
		Type:                  models.JobType(jobType),
		Status:                models.JobStatus(status),
		Priority:              priority,
		CancellationRequested: cancellationRequested != 0,
		LastHeartbeatAt:       unixToTime(lastHeartbeatAt),
		CreatedAt:             unixToTime(createdAt),
	}
	if parentID.Valid {
		job.ParentID = &parentID.String
	}
	if errorMsg.Valid {
		job.Error = &errorMsg.String
	}
	if startedAt.Valid {
		t := unixToTime(startedAt.Int64)
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := unixToTime(completedAt.Int64)
		job.CompletedAt = &t
	}
	if updatedAt.Valid {
		job.UpdatedAt = unixToTime(updatedAt.Int64)
	}
	if payloadJSON != "" {
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err == nil {
			job.Payload = payload
		}
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var result models.JobResult
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err == nil {
			job.Result = &result
		}
	}
	return job, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{Valid: true, String: s}
}

// retryWithExponentialBackoff retries on SQLITE_BUSY/"database is locked" errors only.
func retryWithExponentialBackoff(ctx context.Context, operation func() error, maxAttempts int, initialDelay time.Duration, logger arbor.ILogger) error {
	var lastErr error
	delay := initialDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		msg := lastErr.Error()
		if !strings.Contains(msg, "database is locked") && !strings.Contains(msg, "SQLITE_BUSY") {
			return lastErr
		}
		if attempt < maxAttempts {
			logger.Warn().Int("attempt", attempt).Str("delay", delay.String()).Str("error", msg).
				Msg("database locked, retrying operation")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	logger.Error().Int("max_attempts", maxAttempts).Err(lastErr).Msg("all retry attempts exhausted")
	return lastErr
}
