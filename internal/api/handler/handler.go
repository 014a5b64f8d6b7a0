package handler

import (
	"context"
	"log/slog"

	"github.com/codepulse/heartbeat-importer/internal/identity"
	"github.com/codepulse/heartbeat-importer/internal/importjob"
)

// JobQueue is the durable queue surface the submission API needs
type JobQueue interface {
	Enqueue(ctx context.Context, fp importjob.Fingerprint) error
	DeleteMatching(ctx context.Context, fp importjob.Fingerprint) (int64, error)
	StatusOf(ctx context.Context, fp importjob.Fingerprint) (importjob.Status, error)
}

// WakeNotifier nudges idle workers after an enqueue
type WakeNotifier interface {
	Wake(ctx context.Context, fp importjob.Fingerprint) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	Queue    JobQueue
	Notifier WakeNotifier
	Identity identity.Resolver
}

// ImportHandler handles import-related HTTP requests
type ImportHandler struct {
	logger   *slog.Logger
	queue    JobQueue
	notifier WakeNotifier
	identity identity.Resolver
}

// NewImportHandler creates a new ImportHandler instance
func NewImportHandler(deps *Dependencies) *ImportHandler {
	return &ImportHandler{
		logger:   deps.Logger,
		queue:    deps.Queue,
		notifier: deps.Notifier,
		identity: deps.Identity,
	}
}
