// Package remote is the thin client for the external authoritative
// pattern store. The store assigns ids and timestamps; conflict
// detection happens on this side, by timestamp comparison, never via
// server-side concurrency tokens.
package remote

import (
	"context"

	"stitchsync/internal/models"
)

// Draft is the record payload as submitted by the client. The store
// assigns id, created_at and updated_at.
type Draft struct {
	Name     string           `json:"name"`
	Category string           `json:"category"`
	Tags     []string         `json:"tags"`
	Sections []models.Section `json:"sections"`
}

// ListFilter restricts List by equality on selected fields. A nil
// filter lists everything; sync reconciliation always passes nil (a
// filtered list must never be reused for reconciliation, or records
// outside the filter would look remotely deleted).
type ListFilter struct {
	Category string
	Tag      string
}

// Store is the CRUD contract the sync core depends on. Every call may
// fail with common.ErrRemoteUnavailable (transient, retried on the
// next sync run), distinguished from common.ErrRemoteNotFound and
// common.ErrPermissionDenied.
type Store interface {
	// Create stores a new record; the server assigns id and stamps
	// both timestamps. The stored record is returned.
	Create(ctx context.Context, draft Draft) (*models.Record, error)

	// Get returns a record by id, or common.ErrRemoteNotFound.
	Get(ctx context.Context, id string) (*models.Record, error)

	// List returns the records matching filter (all records when nil).
	List(ctx context.Context, filter *ListFilter) ([]models.Record, error)

	// Update replaces the record's payload; the server re-stamps
	// updated_at and returns the stored record. Last write wins.
	Update(ctx context.Context, id string, draft Draft) (*models.Record, error)

	// Delete removes a record by id.
	Delete(ctx context.Context, id string) error

	// Ping reports server reachability.
	Ping(ctx context.Context) error
}

// DraftOf builds the full-payload draft for an existing record, used
// when pushing updates (the engine always sends the whole payload,
// never a diff).
func DraftOf(rec models.Record) Draft {
	return Draft{
		Name:     rec.Name,
		Category: rec.Category,
		Tags:     append([]string(nil), rec.Tags...),
		Sections: models.CloneSections(rec.Sections),
	}
}
