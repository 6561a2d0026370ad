package versions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"stitchsync/internal/common"
	"stitchsync/internal/dbx"
	"stitchsync/internal/models"
)

// SQLiteStore implements Store with a fixed per-record capacity.
type SQLiteStore struct {
	db       dbx.DBTX
	capacity int
	now      func() time.Time
}

// NewSQLiteStore returns a store with the given per-record capacity;
// capacity <= 0 falls back to DefaultCapacity.
func NewSQLiteStore(db dbx.DBTX, capacity int) *SQLiteStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &SQLiteStore{db: db, capacity: capacity, now: time.Now}
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, common.ErrStorageUnavailable, err)
}

// Snapshot evicts the oldest entry while the record is at capacity,
// then inserts the new one.
func (s *SQLiteStore) Snapshot(ctx context.Context, recordID string, sections []models.Section, notes, changeDescription string) (*models.Version, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM versions WHERE record_id = ?`, recordID).Scan(&count)
	if err != nil {
		return nil, storageErr("count versions", err)
	}

	for ; count >= s.capacity; count-- {
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM versions WHERE id IN (
				SELECT id FROM versions WHERE record_id = ? ORDER BY saved_at ASC LIMIT 1
			)`, recordID)
		if err != nil {
			return nil, storageErr("evict oldest version", err)
		}
	}

	v := &models.Version{
		ID:                uuid.NewString(),
		RecordID:          recordID,
		Sections:          models.CloneSections(sections),
		Notes:             notes,
		ChangeDescription: changeDescription,
		SavedAt:           s.now().UTC(),
	}

	sectionsJSON, err := json.Marshal(v.Sections)
	if err != nil {
		return nil, storageErr("marshal version sections", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO versions (id, record_id, sections, notes, change_description, saved_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		v.ID, v.RecordID, string(sectionsJSON), v.Notes, v.ChangeDescription,
		v.SavedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, storageErr("insert version", err)
	}

	return v, nil
}

// List returns snapshots newest first.
func (s *SQLiteStore) List(ctx context.Context, recordID string) ([]models.Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, record_id, sections, notes, change_description, saved_at
		FROM versions WHERE record_id = ? ORDER BY saved_at DESC`, recordID)
	if err != nil {
		return nil, storageErr("select versions", err)
	}
	defer rows.Close()

	var result []models.Version
	for rows.Next() {
		v, err := scanVersion(rows.Scan)
		if err != nil {
			return nil, storageErr("scan version", err)
		}
		result = append(result, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate versions", err)
	}
	return result, nil
}

// Get returns a single snapshot of a record.
func (s *SQLiteStore) Get(ctx context.Context, recordID, versionID string) (*models.Version, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, record_id, sections, notes, change_description, saved_at
		FROM versions WHERE record_id = ? AND id = ?`, recordID, versionID)

	v, err := scanVersion(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("version %s of %s: %w", versionID, recordID, common.ErrVersionNotFound)
	}
	if err != nil {
		return nil, storageErr("select version", err)
	}
	return v, nil
}

func scanVersion(scan func(dest ...any) error) (*models.Version, error) {
	var (
		v        models.Version
		sections string
		savedAt  string
	)
	if err := scan(&v.ID, &v.RecordID, &sections, &v.Notes, &v.ChangeDescription, &savedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(sections), &v.Sections); err != nil {
		return nil, fmt.Errorf("unmarshal version sections: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, savedAt)
	if err != nil {
		return nil, fmt.Errorf("parse saved_at: %w", err)
	}
	v.SavedAt = t
	return &v, nil
}

// Purge removes all snapshots of a record.
func (s *SQLiteStore) Purge(ctx context.Context, recordID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM versions WHERE record_id = ?`, recordID)
	if err != nil {
		return storageErr("purge versions", err)
	}
	return nil
}

// Rekey repoints a record's snapshots to a new id.
func (s *SQLiteStore) Rekey(ctx context.Context, oldID, newID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE versions SET record_id = ? WHERE record_id = ?`, newID, oldID)
	if err != nil {
		return storageErr("rekey versions", err)
	}
	return nil
}
