package queue

import (
	"context"
	"log/slog"

	"github.com/codepulse/heartbeat-importer/internal/importjob"
	"github.com/codepulse/heartbeat-importer/shared/rabbitmq"
)

// Notifier wakes idle workers after an enqueue. The message body is the
// fingerprint for traceability only; workers claim work from the
// database, so a lost or duplicated nudge is harmless.
type Notifier struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// NewNotifier creates a Notifier over an existing RabbitMQ client
func NewNotifier(client *rabbitmq.Client, logger *slog.Logger) *Notifier {
	return &Notifier{
		client: client,
		logger: logger,
	}
}

// Wake publishes a work-available nudge
func (n *Notifier) Wake(ctx context.Context, fp importjob.Fingerprint) error {
	body, err := fp.Encode()
	if err != nil {
		return err
	}

	if err := n.client.PublishWithRetry(ctx, body, "application/json"); err != nil {
		// The row is already durable; workers will still find it on
		// their fallback poll.
		n.logger.Warn("Failed to publish wake-up notify",
			slog.Any("error", err),
		)
		return err
	}

	return nil
}
