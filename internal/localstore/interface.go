package localstore

import (
	"context"

	"stitchsync/internal/models"
)

// Store is the durable on-device cache of pattern records. Pure
// storage; it has no network awareness. A storage failure is fatal to
// the calling operation and wraps common.ErrStorageUnavailable.
type Store interface {
	// Put inserts or replaces the cached entry for entry.ID.
	Put(ctx context.Context, entry *models.LocalEntry) error

	// Get returns the entry for id, or common.ErrRecordNotFound.
	Get(ctx context.Context, id string) (*models.LocalEntry, error)

	// GetAll returns every cached entry, tombstones included.
	GetAll(ctx context.Context) ([]models.LocalEntry, error)

	// GetAllByStatus returns entries with the given sync status.
	GetAllByStatus(ctx context.Context, status models.SyncStatus) ([]models.LocalEntry, error)

	// Delete removes the entry for id. Deleting a missing id is a no-op.
	Delete(ctx context.Context, id string) error

	// Count returns the number of live (non-tombstoned) records.
	Count(ctx context.Context) (int, error)
}

// CounterStore persists per-project counter snapshots. It is a
// separate small store; counters are node-local and never synced.
type CounterStore interface {
	// Save inserts or replaces the snapshot for its project id.
	Save(ctx context.Context, snap *models.CounterSnapshot) error

	// Get returns the snapshot for projectID, or common.ErrRecordNotFound.
	Get(ctx context.Context, projectID string) (*models.CounterSnapshot, error)

	// Delete removes the snapshot for projectID.
	Delete(ctx context.Context, projectID string) error

	// DeleteByRecord removes every snapshot attached to a record,
	// used when the record itself is deleted.
	DeleteByRecord(ctx context.Context, recordID string) error

	// RekeyRecord repoints snapshots from one record id to another,
	// used when a temp id is replaced by a server-assigned one.
	RekeyRecord(ctx context.Context, oldID, newID string) error
}
