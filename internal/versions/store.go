// Package versions keeps the bounded history of prior pattern content,
// used for undo/restore. Snapshots are immutable; the store only ever
// inserts, evicts the oldest past capacity, and purges per record.
package versions

import (
	"context"

	"stitchsync/internal/models"
)

// DefaultCapacity is the per-record snapshot cap used when no explicit
// capacity is configured.
const DefaultCapacity = 10

// Store is the bounded append-only snapshot log.
type Store interface {
	// Snapshot saves the given content as a new version of recordID.
	// If the record is at capacity, the single oldest snapshot (by
	// saved_at) is evicted first.
	Snapshot(ctx context.Context, recordID string, sections []models.Section, notes, changeDescription string) (*models.Version, error)

	// List returns the snapshots for recordID, newest first.
	List(ctx context.Context, recordID string) ([]models.Version, error)

	// Get returns one snapshot, or common.ErrVersionNotFound.
	Get(ctx context.Context, recordID, versionID string) (*models.Version, error)

	// Purge removes every snapshot belonging to recordID, used when the
	// parent record is deleted.
	Purge(ctx context.Context, recordID string) error

	// Rekey moves snapshots from a temp record id to the
	// server-assigned one after a successful push.
	Rekey(ctx context.Context, oldID, newID string) error
}
