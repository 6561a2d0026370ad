// Package models defines the data types shared by the local store,
// the outbox and the sync engine.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SyncStatus describes how a locally cached record relates to the
// remote store.
type SyncStatus string

const (
	// StatusSynced means the local copy matches the last known remote state.
	StatusSynced SyncStatus = "synced"
	// StatusPending means a local mutation has not yet reached the remote store.
	StatusPending SyncStatus = "pending"
	// StatusConflict is reserved for interactive conflict resolution.
	// The last-writer-wins policy resolves a superseded local edit
	// straight back to StatusSynced, so this value is never stored
	// today.
	StatusConflict SyncStatus = "conflict"
)

// TempIDPrefix marks record ids generated on-device before the remote
// store has assigned a real one.
const TempIDPrefix = "local-"

// NewTempID returns a fresh locally scoped record id.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id was generated locally and has not been
// replaced by a server-assigned id yet.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Section is one named block of a pattern: an ordered list of steps.
type Section struct {
	Title string   `json:"title"`
	Steps []string `json:"steps"`
}

// Record is the synchronized unit of data: a crochet pattern.
type Record struct {
	// ID is globally unique. Assigned by the remote store on the first
	// successful create, or a temp id (see TempIDPrefix) while offline.
	ID string `json:"id"`

	Name     string    `json:"name"`
	Category string    `json:"category"`
	Tags     []string  `json:"tags"`
	Sections []Section `json:"sections"`

	// CreatedAt and UpdatedAt are UTC. UpdatedAt is set by whichever
	// store performs the write and never decreases for a given id.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := r
	out.Tags = append([]string(nil), r.Tags...)
	out.Sections = CloneSections(r.Sections)
	return out
}

// CloneSections deep-copies a section list.
func CloneSections(sections []Section) []Section {
	out := make([]Section, len(sections))
	for i, s := range sections {
		out[i] = Section{Title: s.Title, Steps: append([]string(nil), s.Steps...)}
	}
	return out
}

// LocalEntry is a record as held by the local store.
type LocalEntry struct {
	Record

	SyncStatus SyncStatus

	// Deleted marks an offline delete awaiting push (tombstone). A
	// tombstoned entry is always pending and has a matching delete
	// outbox entry.
	Deleted bool

	// LastSyncedAt is the time of the last successful round trip with
	// the remote store, nil if the record never completed one.
	LastSyncedAt *time.Time
}

// Action is the kind of mutation recorded in the outbox.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// OutboxEntry is one pending mutation awaiting push. At most one entry
// exists per record id; later edits collapse into it.
type OutboxEntry struct {
	RecordID string
	Action   Action

	// Payload carries the full record for create/update, nil for delete.
	Payload *Record

	EnqueuedAt time.Time
}

// Version is one immutable snapshot of a record's editable content.
type Version struct {
	ID                string
	RecordID          string
	Sections          []Section
	Notes             string
	ChangeDescription string
	SavedAt           time.Time
}

// CounterSnapshot is the persisted state of an active project's row
// counter, kept in a separate small store.
type CounterSnapshot struct {
	ProjectID string
	RecordID  string
	Name      string
	Value     int
	UpdatedAt time.Time
}
