package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codepulse/heartbeat-importer/internal/importjob"
	"github.com/codepulse/heartbeat-importer/internal/queue"
	"github.com/codepulse/heartbeat-importer/shared/rabbitmq"
)

// JobQueue is the durable queue surface the worker drives
type JobQueue interface {
	ClaimBatch(ctx context.Context, workerID string, batchSize int) ([]queue.Row, error)
	Complete(ctx context.Context, rowID string) error
	Release(ctx context.Context, row queue.Row, procErr error) error
}

// Executor handles one dequeued batch
type Executor interface {
	Run(ctx context.Context, payloads [][]byte) error
}

// Config holds worker configuration
type Config struct {
	Logger       *slog.Logger
	Queue        JobQueue
	Executor     Executor
	RabbitClient *rabbitmq.Client
	PollInterval time.Duration
}

// Worker runs the single long-lived consumption loop: block until work
// is available, claim one job, execute it synchronously, repeat. There
// is no parallelism across jobs or days within one worker; scaling out
// means more worker processes, serialized by the queue's row locking.
type Worker struct {
	logger       *slog.Logger
	queue        JobQueue
	executor     Executor
	rabbitClient *rabbitmq.Client
	pollInterval time.Duration
	workerID     string
	stopChan     chan struct{}
	wg           sync.WaitGroup
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	hostname, _ := os.Hostname()
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}

	return &Worker{
		logger:       cfg.Logger,
		queue:        cfg.Queue,
		executor:     cfg.Executor,
		rabbitClient: cfg.RabbitClient,
		pollInterval: pollInterval,
		workerID:     fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8]),
		stopChan:     make(chan struct{}),
	}
}

// Start begins the consumption loop and blocks until the context is
// canceled or Stop is called
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Duration("poll_interval", w.pollInterval),
	)

	deliveries, err := w.rabbitClient.Consume(w.workerID)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	w.wg.Add(1)
	defer w.wg.Done()

	// Drain whatever was enqueued before this worker came up
	w.drain(ctx)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Worker stopping - context canceled")
			return nil

		case <-w.stopChan:
			w.logger.Info("Worker stopping - stop requested")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed, falling back to polling")
				deliveries = nil
				continue
			}
			// The nudge itself carries no authority; claiming from the
			// database is what hands the worker a job.
			if err := delivery.Ack(false); err != nil {
				w.logger.Error("Failed to ACK wake-up notify",
					slog.Any("error", err),
				)
			}
			w.drain(ctx)

		case <-ticker.C:
			// Fallback in case a notify was lost
			w.drain(ctx)
		}
	}
}

// drain claims and processes queue rows until none remain claimable
func (w *Worker) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		default:
		}

		rows, err := w.queue.ClaimBatch(ctx, w.workerID, 1)
		if err != nil {
			w.logger.Error("Failed to claim queue batch",
				slog.Any("error", err),
			)
			return
		}

		if len(rows) == 0 {
			return
		}

		for _, row := range rows {
			w.processRow(ctx, row)
		}
	}
}

// processRow runs the executor for one claimed row and settles the row
// according to the outcome
func (w *Worker) processRow(ctx context.Context, row queue.Row) {
	w.logger.Info("Processing queue row",
		slog.String("row_id", row.ID),
		slog.Int("retry_count", row.RetryCount),
		slog.String("worker_id", w.workerID),
	)

	err := w.executor.Run(ctx, [][]byte{[]byte(row.Payload)})
	if err == nil {
		if completeErr := w.queue.Complete(ctx, row.ID); completeErr != nil {
			// The job ran; the next claim of this row re-imports into an
			// idempotent store.
			w.logger.Error("Failed to complete queue row",
				slog.String("row_id", row.ID),
				slog.Any("error", completeErr),
			)
		}
		return
	}

	if errors.Is(err, importjob.ErrMalformedPayload) {
		w.logger.Error("Abandoning malformed batch",
			slog.String("row_id", row.ID),
			slog.Any("error", err),
		)
	} else {
		w.logger.Error("Job execution failed",
			slog.String("row_id", row.ID),
			slog.Int("retry_count", row.RetryCount),
			slog.Any("error", err),
		)
	}

	if releaseErr := w.queue.Release(ctx, row, err); releaseErr != nil {
		w.logger.Error("Failed to release queue row",
			slog.String("row_id", row.ID),
			slog.Any("error", releaseErr),
		)
	}
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
