package localstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stitchsync/internal/models"
)

func TestOpen_AppliesMigrations(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	// All migrated tables are usable right away.
	store := NewSQLiteStore(db)
	now := time.Now().UTC()
	require.NoError(t, store.Put(ctx, &models.LocalEntry{
		Record: models.Record{
			ID: "srv-1", Name: "Granny Square", Tags: []string{}, Sections: []models.Section{},
			CreatedAt: now, UpdatedAt: now,
		},
		SyncStatus: models.StatusSynced,
	}))

	counters := NewSQLiteCounterStore(db)
	require.NoError(t, counters.Save(ctx, &models.CounterSnapshot{
		ProjectID: "proj-1", RecordID: "srv-1", Name: "rows", Value: 1, UpdatedAt: now,
	}))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM versions`).Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM outbox`).Scan(&n))
	assert.Zero(t, n)
}

func TestOpen_Reopen(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Migrations are idempotent across restarts.
	db, err = Open(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}
