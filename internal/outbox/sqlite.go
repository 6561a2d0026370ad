package outbox

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

// SQLiteQueue implements Queue in the same database as the local
// pattern cache, so a pending record and its outbox entry share one
// durability domain.
type SQLiteQueue struct {
	db  dbx.DBTX
	now func() time.Time
}

// NewSQLiteQueue returns a new SQLiteQueue bound to the given DBTX.
func NewSQLiteQueue(db dbx.DBTX) *SQLiteQueue {
	return &SQLiteQueue{db: db, now: time.Now}
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, common.ErrStorageUnavailable, err)
}

// Enqueue records a mutation, applying the collapse rules documented
// on Queue.
func (q *SQLiteQueue) Enqueue(ctx context.Context, id string, action models.Action, payload *models.Record) error {
	existing, err := q.Get(ctx, id)
	if err != nil && !errors.Is(err, common.ErrRecordNotFound) {
		return err
	}

	if existing != nil {
		switch {
		case existing.Action == models.ActionDelete:
			return fmt.Errorf("enqueue %s for %s: %w", action, id, common.ErrRecordDeleted)
		case existing.Action == models.ActionCreate && action == models.ActionDelete:
			// The remote store never saw this record; drop the create.
			return q.Clear(ctx, id)
		case existing.Action == models.ActionCreate:
			// create + update collapses into create with the new payload.
			action = models.ActionCreate
		}
	}

	var payloadJSON sql.NullString
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return storageErr("marshal outbox payload", err)
		}
		payloadJSON = sql.NullString{String: string(b), Valid: true}
	}

	// A replaced entry keeps its original enqueue position.
	enqueuedAt := q.now().UTC()
	if existing != nil {
		enqueuedAt = existing.EnqueuedAt
	}

	query := `INSERT INTO outbox (record_id, action, payload, enqueued_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(record_id) DO UPDATE SET
				action = excluded.action,
				payload = excluded.payload,
				enqueued_at = excluded.enqueued_at
	`
	_, err = q.db.ExecContext(ctx, query, id, string(action), payloadJSON, enqueuedAt.Format(time.RFC3339Nano))
	if err != nil {
		return storageErr("upsert outbox entry", err)
	}
	return nil
}

// Get returns the entry for a single record id.
func (q *SQLiteQueue) Get(ctx context.Context, id string) (*models.OutboxEntry, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT record_id, action, payload, enqueued_at FROM outbox WHERE record_id = ?`, id)

	entry, err := scanEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("outbox entry %s: %w", id, common.ErrRecordNotFound)
	}
	if err != nil {
		return nil, storageErr("select outbox entry", err)
	}
	return entry, nil
}

// Drain returns all pending entries, FIFO by enqueue time.
func (q *SQLiteQueue) Drain(ctx context.Context) ([]models.OutboxEntry, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT record_id, action, payload, enqueued_at FROM outbox ORDER BY enqueued_at`)
	if err != nil {
		return nil, storageErr("select outbox entries", err)
	}
	defer rows.Close()

	var result []models.OutboxEntry
	for rows.Next() {
		entry, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, storageErr("scan outbox entry", err)
		}
		result = append(result, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate outbox entries", err)
	}
	return result, nil
}

func scanEntry(scan func(dest ...any) error) (*models.OutboxEntry, error) {
	var (
		entry      models.OutboxEntry
		action     string
		payload    sql.NullString
		enqueuedAt string
	)

	if err := scan(&entry.RecordID, &action, &payload, &enqueuedAt); err != nil {
		return nil, err
	}

	entry.Action = models.Action(action)
	if payload.Valid {
		var rec models.Record
		if err := json.Unmarshal([]byte(payload.String), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal outbox payload: %w", err)
		}
		entry.Payload = &rec
	}

	t, err := time.Parse(time.RFC3339Nano, enqueuedAt)
	if err != nil {
		return nil, fmt.Errorf("parse enqueued_at: %w", err)
	}
	entry.EnqueuedAt = t

	return &entry, nil
}

// Clear removes the entry for id.
func (q *SQLiteQueue) Clear(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM outbox WHERE record_id = ?`, id)
	if err != nil {
		return storageErr("clear outbox entry", err)
	}
	return nil
}
