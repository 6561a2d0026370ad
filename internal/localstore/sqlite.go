package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stitchsync/internal/common"
	"stitchsync/internal/dbx"
	"stitchsync/internal/models"
)

// SQLiteStore implements Store using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteStore struct {
	db dbx.DBTX
}

// NewSQLiteStore returns a new SQLiteStore bound to the given DBTX.
func NewSQLiteStore(db dbx.DBTX) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, common.ErrStorageUnavailable, err)
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// Put upserts an entry by id, replacing every column.
func (s *SQLiteStore) Put(ctx context.Context, entry *models.LocalEntry) error {
	tags, err := json.Marshal(entry.Tags)
	if err != nil {
		return storageErr("marshal tags", err)
	}
	sections, err := json.Marshal(entry.Sections)
	if err != nil {
		return storageErr("marshal sections", err)
	}

	var lastSynced sql.NullString
	if entry.LastSyncedAt != nil {
		lastSynced = sql.NullString{String: encodeTime(*entry.LastSyncedAt), Valid: true}
	}

	query := `INSERT INTO patterns
			(id, name, category, tags, sections, created_at, updated_at, sync_status, deleted, last_synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				category = excluded.category,
				tags = excluded.tags,
				sections = excluded.sections,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at,
				sync_status = excluded.sync_status,
				deleted = excluded.deleted,
				last_synced_at = excluded.last_synced_at
	`
	_, err = s.db.ExecContext(ctx, query,
		entry.ID, entry.Name, entry.Category, string(tags), string(sections),
		encodeTime(entry.CreatedAt), encodeTime(entry.UpdatedAt),
		string(entry.SyncStatus), entry.Deleted, lastSynced)
	if err != nil {
		return storageErr("upsert pattern", err)
	}
	return nil
}

// Get returns a single entry by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.LocalEntry, error) {
	query := `SELECT id, name, category, tags, sections, created_at, updated_at, sync_status, deleted, last_synced_at
			FROM patterns WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id)

	entry, err := scanEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pattern %s: %w", id, common.ErrRecordNotFound)
	}
	if err != nil {
		return nil, storageErr("select pattern", err)
	}
	return entry, nil
}

// GetAll lists every cached entry, tombstones included, so the sync
// engine can reconcile against the complete local state.
func (s *SQLiteStore) GetAll(ctx context.Context) ([]models.LocalEntry, error) {
	query := `SELECT id, name, category, tags, sections, created_at, updated_at, sync_status, deleted, last_synced_at
			FROM patterns ORDER BY created_at`
	return s.selectEntries(ctx, query)
}

// GetAllByStatus lists entries with the given sync status.
func (s *SQLiteStore) GetAllByStatus(ctx context.Context, status models.SyncStatus) ([]models.LocalEntry, error) {
	query := `SELECT id, name, category, tags, sections, created_at, updated_at, sync_status, deleted, last_synced_at
			FROM patterns WHERE sync_status = ? ORDER BY created_at`
	return s.selectEntries(ctx, query, string(status))
}

func (s *SQLiteStore) selectEntries(ctx context.Context, query string, args ...any) ([]models.LocalEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("select patterns", err)
	}
	defer rows.Close()

	var result []models.LocalEntry
	for rows.Next() {
		entry, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, storageErr("scan pattern", err)
		}
		result = append(result, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate patterns", err)
	}
	return result, nil
}

func scanEntry(scan func(dest ...any) error) (*models.LocalEntry, error) {
	var (
		entry      models.LocalEntry
		tags       string
		sections   string
		createdAt  string
		updatedAt  string
		status     string
		lastSynced sql.NullString
	)

	err := scan(&entry.ID, &entry.Name, &entry.Category, &tags, &sections,
		&createdAt, &updatedAt, &status, &entry.Deleted, &lastSynced)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(tags), &entry.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if err := json.Unmarshal([]byte(sections), &entry.Sections); err != nil {
		return nil, fmt.Errorf("unmarshal sections: %w", err)
	}
	if entry.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if entry.UpdatedAt, err = decodeTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	entry.SyncStatus = models.SyncStatus(status)
	if lastSynced.Valid {
		t, err := decodeTime(lastSynced.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_synced_at: %w", err)
		}
		entry.LastSyncedAt = &t
	}
	return &entry, nil
}

// Delete removes an entry permanently. Missing ids are a no-op so
// delete stays idempotent across sync retries.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM patterns WHERE id = ?`, id)
	if err != nil {
		return storageErr("delete pattern", err)
	}
	return nil
}

// Count returns the number of live records (tombstones excluded), used
// for offline quota checks.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM patterns WHERE deleted = 0`).Scan(&n)
	if err != nil {
		return 0, storageErr("count patterns", err)
	}
	return n, nil
}
