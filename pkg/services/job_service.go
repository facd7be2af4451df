// Package services implements the broker's job store operations.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/conveyor/pkg/metrics"
	"github.com/codeready-toolchain/conveyor/pkg/models"
)

// claimCandidateLimit bounds how many queued rows the claim inspects for
// capability matching.
const claimCandidateLimit = 50

// jobColumns is the canonical select list; scanJob must match its order.
const jobColumns = "id, created_at, started_at, finished_at, lease_until, status, command, payload, result, error, worker_id, requires"

// JobService provides job persistence and the claim/lease/requeue state machine.
type JobService struct {
	db           *sql.DB
	leaseSeconds int64
	now          func() int64
}

// NewJobService creates a job service over the given store.
func NewJobService(db *sql.DB, leaseSeconds int64) *JobService {
	return &JobService{
		db:           db,
		leaseSeconds: leaseSeconds,
		now:          func() int64 { return time.Now().Unix() },
	}
}

// Create inserts a new queued job and returns its id.
func (s *JobService) Create(ctx context.Context, command, payload string, requires *string) (string, error) {
	id := uuid.NewString()
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(id, created_at, status, command, payload, requires) VALUES(?,?,?,?,?,?)`,
		id, now, models.StatusQueued, command, payload, requires)
	if err != nil {
		return "", fmt.Errorf("failed to insert job: %w", err)
	}
	slog.Info("Job created", "job_id", id, "command", command)
	return id, nil
}

// Get fetches a full job record by id.
func (s *JobService) Get(ctx context.Context, id string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch job: %w", err)
	}
	return job, nil
}

// Claim atomically claims the oldest queued job matching the worker's
// capabilities. Inside one BEGIN IMMEDIATE transaction it first requeues
// stale running jobs (lease expired), then selects and claims a candidate
// under a status guard. Returns ErrNoJobsAvailable when nothing matches.
func (s *JobService) Claim(ctx context.Context, workerID string, workerCaps models.CapSet) (*models.Job, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if _, rbErr := conn.ExecContext(context.Background(), "ROLLBACK"); rbErr != nil {
				slog.Error("Claim rollback failed", "error", rbErr)
			}
		}
	}()

	now := s.now()

	// 1. Requeue stale running jobs; the prior attempt's outcome is discarded.
	requeued, err := conn.ExecContext(ctx,
		`UPDATE jobs
		 SET status = ?, started_at = NULL, lease_until = NULL,
		     finished_at = NULL, result = NULL, error = NULL, worker_id = NULL
		 WHERE status = ? AND lease_until IS NOT NULL AND lease_until < ?`,
		models.StatusQueued, models.StatusRunning, now)
	if err != nil {
		return nil, fmt.Errorf("failed to requeue stale jobs: %w", err)
	}
	if n, _ := requeued.RowsAffected(); n > 0 {
		slog.Info("Requeued stale jobs", "count", n)
		metrics.ObserveRequeued(int(n))
	}

	// 2. Oldest queued candidates, capability-filtered in memory.
	rows, err := conn.QueryContext(ctx,
		`SELECT id, requires FROM jobs WHERE status = ?
		 ORDER BY created_at ASC, id ASC LIMIT ?`,
		models.StatusQueued, claimCandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to select candidates: %w", err)
	}
	var jobID string
	for rows.Next() {
		var id string
		var requires *string
		if err := rows.Scan(&id, &requires); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		if models.Claimable(requires, workerCaps) {
			jobID = id
			break
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candidates: %w", err)
	}
	if jobID == "" {
		if err := s.commit(conn); err != nil {
			return nil, err
		}
		committed = true
		return nil, ErrNoJobsAvailable
	}

	// 3. Guarded claim; zero rows means a racing transition won.
	var workerIDVal *string
	if trimmed := strings.TrimSpace(workerID); trimmed != "" {
		workerIDVal = &trimmed
	}
	res, err := conn.ExecContext(ctx,
		`UPDATE jobs
		 SET status = ?, started_at = ?, lease_until = ?, worker_id = ?,
		     error = NULL, result = NULL, finished_at = NULL
		 WHERE id = ? AND status = ?`,
		models.StatusRunning, now, now+s.leaseSeconds, workerIDVal, jobID, models.StatusQueued)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read claim result: %w", err)
	}
	if affected != 1 {
		if err := s.commit(conn); err != nil {
			return nil, err
		}
		committed = true
		return nil, ErrNoJobsAvailable
	}

	row := conn.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("failed to re-fetch claimed job: %w", err)
	}

	if err := s.commit(conn); err != nil {
		return nil, err
	}
	committed = true
	slog.Info("Job claimed", "job_id", job.ID, "command", job.Command, "worker_id", workerID)
	return job, nil
}

func (s *JobService) commit(conn *sql.Conn) error {
	if _, err := conn.ExecContext(context.Background(), "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit claim transaction: %w", err)
	}
	return nil
}

// TerminalOutcome describes the result of posting a terminal transition.
// Changed is false when the post was an idempotent replay.
type TerminalOutcome struct {
	Status  models.Status
	Note    string
	Changed bool
}

// Complete marks a running job done. Idempotent: done stays done, failed
// stays failed with a note, and nothing mutates on either.
func (s *JobService) Complete(ctx context.Context, id, result string) (*TerminalOutcome, error) {
	status, err := s.currentStatus(ctx, id)
	if err != nil {
		return nil, err
	}

	switch status {
	case models.StatusDone:
		return &TerminalOutcome{Status: models.StatusDone}, nil
	case models.StatusFailed:
		return &TerminalOutcome{Status: models.StatusFailed, Note: "already failed; result ignored"}, nil
	case models.StatusQueued:
		return nil, fmt.Errorf("%w: queued", ErrNotRunning)
	}

	now := s.now()
	_, err = s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, result = ?, finished_at = ?, lease_until = NULL WHERE id = ?`,
		models.StatusDone, result, now, id)
	if err != nil {
		return nil, fmt.Errorf("failed to complete job: %w", err)
	}
	slog.Info("Job done", "job_id", id)
	return &TerminalOutcome{Status: models.StatusDone, Changed: true}, nil
}

// Fail marks a queued or running job failed. Idempotent on terminal states.
// A blank error message is stored as "unknown".
func (s *JobService) Fail(ctx context.Context, id, errMsg string) (*TerminalOutcome, error) {
	status, err := s.currentStatus(ctx, id)
	if err != nil {
		return nil, err
	}

	switch status {
	case models.StatusDone:
		return &TerminalOutcome{Status: models.StatusDone, Note: "already done; fail ignored"}, nil
	case models.StatusFailed:
		return &TerminalOutcome{Status: models.StatusFailed}, nil
	}

	errMsg = strings.TrimSpace(errMsg)
	if errMsg == "" {
		errMsg = "unknown"
	}
	now := s.now()
	_, err = s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, finished_at = ?, lease_until = NULL WHERE id = ?`,
		models.StatusFailed, errMsg, now, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fail job: %w", err)
	}
	slog.Info("Job failed", "job_id", id, "error", errMsg)
	return &TerminalOutcome{Status: models.StatusFailed, Changed: true}, nil
}

func (s *JobService) currentStatus(ctx context.Context, id string) (models.Status, error) {
	var status models.Status
	err := s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to fetch job status: %w", err)
	}
	return status, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanJob.
type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*models.Job, error) {
	var j models.Job
	err := row.Scan(
		&j.ID, &j.CreatedAt, &j.StartedAt, &j.FinishedAt, &j.LeaseUntil,
		&j.Status, &j.Command, &j.Payload, &j.Result, &j.Error, &j.WorkerID, &j.Requires,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}
