package importer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/codepulse/heartbeat-importer/internal/heartbeat"
	"github.com/codepulse/heartbeat-importer/internal/importjob"
	"github.com/codepulse/heartbeat-importer/internal/wakatime"
)

// RemoteClient is the slice of the remote API the executor consumes
type RemoteClient interface {
	UserAgents(ctx context.Context) ([]wakatime.UserAgent, error)
	HeartbeatsForDay(ctx context.Context, day importjob.Date) (*wakatime.DayBucket, error)
}

// ClientFactory builds a remote client for one job's token
type ClientFactory func(apiToken string) RemoteClient

// HeartbeatStore persists one day's transformed records
type HeartbeatStore interface {
	BulkInsert(ctx context.Context, records []heartbeat.Record) error
}

// Executor runs one dequeued import job: decode the fingerprint, fetch
// the user-agent catalog once, then walk the date range day by day,
// fetching, transforming and storing each day's bucket. Days are
// processed sequentially to keep remote rate limiting simple and write
// order deterministic.
type Executor struct {
	newClient ClientFactory
	store     HeartbeatStore
	logger    *slog.Logger
}

// NewExecutor creates an Executor
func NewExecutor(newClient ClientFactory, store HeartbeatStore, logger *slog.Logger) *Executor {
	return &Executor{
		newClient: newClient,
		store:     store,
		logger:    logger,
	}
}

// Run processes one dequeued batch. Batches are always size 1 in this
// design; anything else is malformed input, surfaced without retry.
// A returned error means the whole job failed and is subject to the
// queue's retry budget; a re-run restarts from day 1 and relies on the
// store's conflict handling for already-imported days.
func (e *Executor) Run(ctx context.Context, payloads [][]byte) error {
	if len(payloads) != 1 {
		return fmt.Errorf("%w: expected batch of 1, got %d", importjob.ErrMalformedPayload, len(payloads))
	}

	fp, err := importjob.Decode(payloads[0])
	if err != nil {
		return err
	}

	jobLogger := e.logger.With(
		slog.String("requester", fp.Requester),
		slog.String("start_date", fp.Request.StartDate.String()),
		slog.String("end_date", fp.Request.EndDate.String()),
	)

	jobLogger.Info("Import job started")

	client := e.newClient(fp.Request.APIToken)

	// Single catalog fetch for the whole job, not per day
	agents, err := client.UserAgents(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch user agent catalog: %w", err)
	}

	catalog := make(map[string]string, len(agents))
	for _, agent := range agents {
		catalog[agent.ID] = agent.Value
	}

	days := importjob.Days(fp.Request.StartDate, fp.Request.EndDate)
	imported := 0
	for {
		day, ok := days.Next()
		if !ok {
			break
		}

		bucket, err := client.HeartbeatsForDay(ctx, day)
		if err != nil {
			return fmt.Errorf("failed to fetch day %s: %w", day, err)
		}

		records, err := transformDay(fp.Requester, catalog, bucket.Data)
		if err != nil {
			// A lookup miss aborts only this day; remaining days still run
			jobLogger.Error("Day transform failed, skipping day",
				slog.String("date", day.String()),
				slog.Any("error", err),
			)
			continue
		}

		if err := e.store.BulkInsert(ctx, records); err != nil {
			// A single day's write failure does not halt the job
			jobLogger.Error("Day write failed, continuing",
				slog.String("date", day.String()),
				slog.Int("records", len(records)),
				slog.Any("error", err),
			)
			continue
		}

		imported += len(records)
		jobLogger.Info("Day imported",
			slog.String("date", day.String()),
			slog.Int("records", len(records)),
		)
	}

	jobLogger.Info("Import job finished",
		slog.Int("records_imported", imported),
	)

	return nil
}

// transformDay maps one day's remote heartbeats to local records,
// resolving each user-agent id through the catalog
func transformDay(requester string, catalog map[string]string, hbs []wakatime.Heartbeat) ([]heartbeat.Record, error) {
	records := make([]heartbeat.Record, 0, len(hbs))
	now := time.Now().UTC()

	for _, hb := range hbs {
		agent, ok := catalog[hb.UserAgentID]
		if !ok {
			return nil, fmt.Errorf("%w: %q", importjob.ErrUnknownUserAgent, hb.UserAgentID)
		}

		records = append(records, heartbeat.Record{
			ID:           uuid.New().String(),
			Sender:       requester,
			Branch:       hb.Branch,
			Category:     hb.Category,
			CursorPos:    hb.CursorPos,
			Dependencies: pq.StringArray(hb.Dependencies),
			Entity:       hb.Entity,
			IsWrite:      hb.IsWrite,
			Language:     hb.Language,
			LineNo:       hb.LineNo,
			Lines:        hb.Lines,
			Project:      hb.Project,
			UserAgent:    agent,
			Type:         hb.Type,
			RecordedAt:   epochToTime(hb.Time),
			Source:       heartbeat.SourceImport,
			CreatedAt:    now,
		})
	}

	return records, nil
}

// epochToTime converts the remote float-seconds timestamp
func epochToTime(secs float64) time.Time {
	sec := int64(secs)
	nsec := int64((secs - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}
