// Package outbox holds the durable queue of pending local mutations
// awaiting push to the remote store.
package outbox

import (
	"context"

	"stitchsync/internal/models"
)

// Queue is an ordered, durable queue of pending mutations with at most
// one entry per record id. It performs no network I/O.
type Queue interface {
	// Enqueue records a mutation, collapsing with any existing entry
	// for the same id:
	//
	//	create + update -> create carrying the latest payload
	//	update + update -> latest update
	//	create + delete -> entry removed (the record never reached the
	//	                  remote store, so there is nothing to delete)
	//	update + delete -> delete
	//
	// Any enqueue after a pending delete fails with
	// common.ErrRecordDeleted.
	Enqueue(ctx context.Context, id string, action models.Action, payload *models.Record) error

	// Get returns the entry for id, or common.ErrRecordNotFound.
	Get(ctx context.Context, id string) (*models.OutboxEntry, error)

	// Drain returns all pending entries in FIFO order by enqueue time.
	// The read is non-destructive; the sync engine clears entries one
	// by one as pushes succeed.
	Drain(ctx context.Context) ([]models.OutboxEntry, error)

	// Clear removes the entry for id. Clearing a missing id is a no-op.
	Clear(ctx context.Context, id string) error
}
