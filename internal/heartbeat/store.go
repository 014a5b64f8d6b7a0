package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// SourceImport tags records created by the import pipeline
const SourceImport = "import"

// The conflict target must match idx_heartbeats_dedup in the
// migrations, including its null handling: entity is nullable, so the
// index is declared NULLS NOT DISTINCT or redelivered rows without an
// entity would insert twice.
const bulkInsertSQL = `
	INSERT INTO heartbeats (
		id, sender, branch, category, cursorpos, dependencies,
		entity, is_write, language, lineno, lines, project,
		user_agent, type, recorded_at, source, created_at
	) VALUES (
		:id, :sender, :branch, :category, :cursorpos, :dependencies,
		:entity, :is_write, :language, :lineno, :lines, :project,
		:user_agent, :type, :recorded_at, :source, :created_at
	)
	ON CONFLICT (sender, recorded_at, entity, type) DO NOTHING
`

// Record is the canonical stored heartbeat: the original remote fields
// plus the resolved user-agent string, the requesting user, and import
// provenance.
type Record struct {
	ID           string         `db:"id"`
	Sender       string         `db:"sender"`
	Branch       *string        `db:"branch"`
	Category     *string        `db:"category"`
	CursorPos    *int           `db:"cursorpos"`
	Dependencies pq.StringArray `db:"dependencies"`
	Entity       *string        `db:"entity"`
	IsWrite      *bool          `db:"is_write"`
	Language     *string        `db:"language"`
	LineNo       *int           `db:"lineno"`
	Lines        *int           `db:"lines"`
	Project      *string        `db:"project"`
	UserAgent    string         `db:"user_agent"`
	Type         string         `db:"type"`
	RecordedAt   time.Time      `db:"recorded_at"`
	Source       string         `db:"source"`
	CreatedAt    time.Time      `db:"created_at"`
}

// Store persists heartbeat records
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a Store on top of an existing database handle
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// BulkInsert writes one day's records in a single statement. Conflicts
// on the natural key (sender, recorded_at, entity, type) are skipped,
// so re-running an import over already-stored days is a no-op.
func (s *Store) BulkInsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	if _, err := s.db.NamedExecContext(ctx, bulkInsertSQL, records); err != nil {
		return fmt.Errorf("failed to bulk insert heartbeats: %w", err)
	}

	s.logger.Debug("Heartbeats inserted",
		slog.Int("count", len(records)),
	)

	return nil
}
