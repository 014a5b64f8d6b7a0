package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/codepulse/heartbeat-importer/internal/importjob"
)

// Row states. A row is created pending, moves to locked while a worker
// holds it, and either disappears on success or parks as failed once
// the retry budget is spent.
const (
	StatePending = "pending"
	StateLocked  = "locked"
	StateFailed  = "failed"
)

const (
	enqueueSQL = `
		INSERT INTO import_queue (id, payload, enqueued_at, available_at, retry_count, state)
		VALUES ($1, $2, NOW(), NOW(), 0, $3)
	`

	// Stale locks from dead workers go back to pending unless their
	// retry counter already reached the ceiling; those park as failed
	// directly, since no worker will ever claim them again.
	reapSQL = `
		UPDATE import_queue
		SET state = CASE WHEN retry_count >= $1 THEN 'failed' ELSE 'pending' END,
		    last_error = CASE WHEN retry_count >= $1 THEN COALESCE(last_error, 'worker lock expired') ELSE last_error END,
		    locked_by = NULL,
		    locked_at = NULL
		WHERE state = 'locked' AND locked_at < NOW() - $2::interval
	`

	claimSelectSQL = `
		SELECT id, payload, enqueued_at, available_at, retry_count, state, last_error, locked_by, locked_at
		FROM import_queue
		WHERE state = $1
		  AND available_at <= NOW()
		  AND retry_count < $2
		ORDER BY enqueued_at ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`

	claimUpdateSQL = `
		UPDATE import_queue
		SET state = $1,
		    retry_count = retry_count + 1,
		    locked_by = $2,
		    locked_at = NOW()
		WHERE id = $3
	`

	completeSQL = `DELETE FROM import_queue WHERE id = $1`

	parkSQL = `
		UPDATE import_queue
		SET state = $1, last_error = $2, locked_by = NULL, locked_at = NULL
		WHERE id = $3
	`

	releaseSQL = `
		UPDATE import_queue
		SET state = $1,
		    last_error = $2,
		    available_at = NOW() + $3::interval,
		    locked_by = NULL,
		    locked_at = NULL
		WHERE id = $4
	`

	deleteMatchingSQL = `DELETE FROM import_queue WHERE payload = $1 AND state = $2`

	statusSQL = `
		SELECT state FROM import_queue
		WHERE payload = $1
		ORDER BY enqueued_at DESC
		LIMIT 1
	`
)

// Row is one persisted queue entry. Payload is the serialized job
// fingerprint and is treated as opaque content here.
type Row struct {
	ID          string         `db:"id"`
	Payload     string         `db:"payload"`
	EnqueuedAt  time.Time      `db:"enqueued_at"`
	AvailableAt time.Time      `db:"available_at"`
	RetryCount  int            `db:"retry_count"`
	State       string         `db:"state"`
	LastError   sql.NullString `db:"last_error"`
	LockedBy    sql.NullString `db:"locked_by"`
	LockedAt    sql.NullTime   `db:"locked_at"`
}

// Config holds durable queue settings
type Config struct {
	MaxRetries        int
	RetryBackoff      time.Duration
	VisibilityTimeout time.Duration
}

// Queue is a durable Postgres-backed job queue. Rows are the source of
// truth for job state; dequeue is at-least-once and mutual exclusion
// across workers comes from row locking.
type Queue struct {
	db     *sqlx.DB
	config Config
	logger *slog.Logger
}

// New creates a Queue on top of an existing database handle
func New(db *sqlx.DB, config Config, logger *slog.Logger) *Queue {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = 30 * time.Second
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = 10 * time.Minute
	}
	return &Queue{
		db:     db,
		config: config,
		logger: logger,
	}
}

// Enqueue inserts a pending row for the fingerprint. No deduplication
// happens at this layer; callers clear prior failed rows first.
func (q *Queue) Enqueue(ctx context.Context, fp importjob.Fingerprint) error {
	payload, err := fp.Encode()
	if err != nil {
		return err
	}

	if _, err := q.db.ExecContext(ctx, enqueueSQL, uuid.New().String(), string(payload), StatePending); err != nil {
		q.logger.Error("Failed to enqueue job",
			slog.Any("error", err),
		)
		return fmt.Errorf("%w: %v", importjob.ErrConnection, err)
	}

	q.logger.Info("Job enqueued",
		slog.Int("payload_size", len(payload)),
	)

	return nil
}

// ClaimBatch locks up to batchSize due pending rows for this worker and
// increments their retry counters. Rows whose counter has reached the
// retry ceiling are never claimed; they stay parked as failed. Locks
// held past the visibility timeout are settled first, so jobs from a
// dead worker become claimable again (or park as failed when the dead
// worker held the final allowed attempt).
func (q *Queue) ClaimBatch(ctx context.Context, workerID string, batchSize int) ([]Row, error) {
	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", importjob.ErrConnection, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, reapSQL, q.config.MaxRetries,
		intervalArg(q.config.VisibilityTimeout)); err != nil {
		return nil, fmt.Errorf("failed to reap stale locks: %w", err)
	}

	var rows []Row
	if err := tx.SelectContext(ctx, &rows, claimSelectSQL, StatePending, q.config.MaxRetries, batchSize); err != nil {
		return nil, fmt.Errorf("failed to select pending rows: %w", err)
	}

	if len(rows) == 0 {
		return nil, tx.Commit()
	}

	for i := range rows {
		if _, err := tx.ExecContext(ctx, claimUpdateSQL, StateLocked, workerID, rows[i].ID); err != nil {
			return nil, fmt.Errorf("failed to claim row %s: %w", rows[i].ID, err)
		}
		rows[i].State = StateLocked
		rows[i].RetryCount++
		rows[i].LockedBy = sql.NullString{String: workerID, Valid: true}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	q.logger.Debug("Claimed queue rows",
		slog.Int("count", len(rows)),
		slog.String("worker_id", workerID),
	)

	return rows, nil
}

// Complete removes a finished row. Row absence is the only completion
// signal the queue carries.
func (q *Queue) Complete(ctx context.Context, rowID string) error {
	if _, err := q.db.ExecContext(ctx, completeSQL, rowID); err != nil {
		return fmt.Errorf("failed to delete completed row: %w", err)
	}

	q.logger.Info("Queue row completed",
		slog.String("row_id", rowID),
	)

	return nil
}

// Release returns a row after a failed handler run. Within the retry
// budget the row goes back to pending with a backoff delay; once the
// budget is spent it parks as failed with the last error, left for
// inspection and resubmission.
func (q *Queue) Release(ctx context.Context, row Row, procErr error) error {
	errMsg := ""
	if procErr != nil {
		errMsg = procErr.Error()
	}

	if ShouldPark(row.RetryCount, q.config.MaxRetries) {
		if _, err := q.db.ExecContext(ctx, parkSQL, StateFailed, errMsg, row.ID); err != nil {
			return fmt.Errorf("failed to park row as failed: %w", err)
		}

		q.logger.Warn("Queue row exceeded retry budget, parked as failed",
			slog.String("row_id", row.ID),
			slog.Int("retry_count", row.RetryCount),
			slog.Int("max_retries", q.config.MaxRetries),
			slog.String("last_error", errMsg),
		)
		return nil
	}

	delay := Backoff(q.config.RetryBackoff, row.RetryCount)

	if _, err := q.db.ExecContext(ctx, releaseSQL, StatePending, errMsg,
		intervalArg(delay), row.ID); err != nil {
		return fmt.Errorf("failed to release row: %w", err)
	}

	q.logger.Info("Queue row released for retry",
		slog.String("row_id", row.ID),
		slog.Int("retry_count", row.RetryCount),
		slog.Duration("retry_after", delay),
	)

	return nil
}

// DeleteMatching removes failed rows whose payload equals the
// fingerprint, so a resubmitted job does not collide with its own dead
// rows. Returns the number of rows removed.
func (q *Queue) DeleteMatching(ctx context.Context, fp importjob.Fingerprint) (int64, error) {
	payload, err := fp.Encode()
	if err != nil {
		return 0, err
	}

	result, err := q.db.ExecContext(ctx, deleteMatchingSQL, string(payload), StateFailed)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", importjob.ErrConnection, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected > 0 {
		q.logger.Info("Deleted prior failed rows for fingerprint",
			slog.Int64("count", affected),
		)
	}

	return affected, nil
}

// StatusOf resolves the job status for a fingerprint from its queue
// row. No row means the job ran to completion (or was never enqueued);
// this is a point-in-time read with no locking.
func (q *Queue) StatusOf(ctx context.Context, fp importjob.Fingerprint) (importjob.Status, error) {
	payload, err := fp.Encode()
	if err != nil {
		return "", err
	}

	var state string
	err = q.db.GetContext(ctx, &state, statusSQL, string(payload))
	if errors.Is(err, sql.ErrNoRows) {
		return importjob.StatusFinished, nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", importjob.ErrConnection, err)
	}

	return StatusForState(state), nil
}

// StatusForState maps a row state to the derived job status
func StatusForState(state string) importjob.Status {
	switch state {
	case StateFailed:
		return importjob.StatusFailed
	default:
		// pending and locked both read as in-flight
		return importjob.StatusPending
	}
}

// ShouldPark reports whether a row that just failed (or whose lock
// expired) has spent its retry budget and must park as failed instead
// of returning to pending. The reap statement applies the same rule
// in SQL.
func ShouldPark(retryCount, maxRetries int) bool {
	return retryCount >= maxRetries
}

// Backoff computes the visibility delay before the nth retry,
// exponential and capped at one hour.
func Backoff(base time.Duration, retryCount int) time.Duration {
	const maxDelay = time.Hour

	if retryCount < 1 {
		retryCount = 1
	}

	delay := base
	for i := 1; i < retryCount; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

// intervalArg renders a duration as a Postgres interval literal
func intervalArg(d time.Duration) string {
	return fmt.Sprintf("%f seconds", d.Seconds())
}
