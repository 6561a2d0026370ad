package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"stitchsync/internal/common"
	"stitchsync/internal/dbx"
	"stitchsync/internal/models"
)

// SQLiteCounterStore implements CounterStore on the same database as
// the pattern cache.
type SQLiteCounterStore struct {
	db dbx.DBTX
}

func NewSQLiteCounterStore(db dbx.DBTX) *SQLiteCounterStore {
	return &SQLiteCounterStore{db: db}
}

func (s *SQLiteCounterStore) Save(ctx context.Context, snap *models.CounterSnapshot) error {
	query := `INSERT INTO counters (project_id, record_id, name, value, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(project_id) DO UPDATE SET
				record_id = excluded.record_id,
				name = excluded.name,
				value = excluded.value,
				updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		snap.ProjectID, snap.RecordID, snap.Name, snap.Value, encodeTime(snap.UpdatedAt))
	if err != nil {
		return storageErr("upsert counter", err)
	}
	return nil
}

func (s *SQLiteCounterStore) Get(ctx context.Context, projectID string) (*models.CounterSnapshot, error) {
	query := `SELECT project_id, record_id, name, value, updated_at FROM counters WHERE project_id = ?`
	row := s.db.QueryRowContext(ctx, query, projectID)

	var (
		snap      models.CounterSnapshot
		updatedAt string
	)
	err := row.Scan(&snap.ProjectID, &snap.RecordID, &snap.Name, &snap.Value, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("counter %s: %w", projectID, common.ErrRecordNotFound)
	}
	if err != nil {
		return nil, storageErr("select counter", err)
	}
	if snap.UpdatedAt, err = decodeTime(updatedAt); err != nil {
		return nil, storageErr("parse counter updated_at", err)
	}
	return &snap, nil
}

func (s *SQLiteCounterStore) Delete(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM counters WHERE project_id = ?`, projectID)
	if err != nil {
		return storageErr("delete counter", err)
	}
	return nil
}

// DeleteByRecord removes every snapshot attached to a record.
func (s *SQLiteCounterStore) DeleteByRecord(ctx context.Context, recordID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM counters WHERE record_id = ?`, recordID)
	if err != nil {
		return storageErr("delete counters by record", err)
	}
	return nil
}

// RekeyRecord repoints counter snapshots after a temp record id is
// replaced by a server-assigned one during push.
func (s *SQLiteCounterStore) RekeyRecord(ctx context.Context, oldID, newID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE counters SET record_id = ? WHERE record_id = ?`, newID, oldID)
	if err != nil {
		return storageErr("rekey counters", err)
	}
	return nil
}
