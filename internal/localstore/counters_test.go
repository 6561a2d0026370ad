package localstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stitchsync/internal/common"
	"stitchsync/internal/models"
)

func TestCounterStore_SaveGetDelete(t *testing.T) {
	db := setupDB(t)
	s := NewSQLiteCounterStore(db)
	ctx := context.Background()

	snap := &models.CounterSnapshot{
		ProjectID: "proj1",
		RecordID:  "rec1",
		Name:      "rows",
		Value:     42,
		UpdatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.Save(ctx, snap))

	got, err := s.Get(ctx, "proj1")
	require.NoError(t, err)
	assert.Equal(t, 42, got.Value)
	assert.Equal(t, "rec1", got.RecordID)

	// Save again replaces the snapshot for the same project.
	snap.Value = 43
	require.NoError(t, s.Save(ctx, snap))
	got, err = s.Get(ctx, "proj1")
	require.NoError(t, err)
	assert.Equal(t, 43, got.Value)

	require.NoError(t, s.Delete(ctx, "proj1"))
	_, err = s.Get(ctx, "proj1")
	require.ErrorIs(t, err, common.ErrRecordNotFound)
}

func TestCounterStore_RekeyRecord(t *testing.T) {
	db := setupDB(t)
	s := NewSQLiteCounterStore(db)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &models.CounterSnapshot{
		ProjectID: "proj1", RecordID: "local-abc", Name: "rows", Value: 7,
		UpdatedAt: time.Now(),
	}))

	require.NoError(t, s.RekeyRecord(ctx, "local-abc", "srv-1"))

	got, err := s.Get(ctx, "proj1")
	require.NoError(t, err)
	assert.Equal(t, "srv-1", got.RecordID)
}

func TestCounterStore_DeleteByRecord(t *testing.T) {
	db := setupDB(t)
	s := NewSQLiteCounterStore(db)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &models.CounterSnapshot{
		ProjectID: "proj1", RecordID: "rec1", UpdatedAt: time.Now(),
	}))
	require.NoError(t, s.Save(ctx, &models.CounterSnapshot{
		ProjectID: "proj2", RecordID: "rec2", UpdatedAt: time.Now(),
	}))

	require.NoError(t, s.DeleteByRecord(ctx, "rec1"))

	_, err := s.Get(ctx, "proj1")
	require.ErrorIs(t, err, common.ErrRecordNotFound)
	_, err = s.Get(ctx, "proj2")
	require.NoError(t, err)
}
