package heartbeat

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkInsertEmptyIsNoOp(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := NewStore(nil, logger)

	// A nil handle would panic on any query, so this also proves no
	// statement is issued for an empty batch.
	err := store.BulkInsert(context.Background(), nil)

	assert.NoError(t, err)
}

// The insert's conflict target is inferred from idx_heartbeats_dedup.
// Entity is nullable, and a unique index with default null handling
// treats NULL values as distinct, which would let redelivered rows
// without an entity insert twice. The index must therefore be declared
// NULLS NOT DISTINCT and cover exactly the conflict columns.
func TestDedupIndexMatchesConflictTarget(t *testing.T) {
	migration, err := os.ReadFile("../../migrations/0001_init.up.sql")
	require.NoError(t, err)

	assert.Contains(t, string(migration),
		"ON heartbeats (sender, recorded_at, entity, type) NULLS NOT DISTINCT")
	assert.Contains(t, bulkInsertSQL,
		"ON CONFLICT (sender, recorded_at, entity, type) DO NOTHING")
}
