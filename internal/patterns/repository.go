// Package patterns is the facade the rest of the application talks to.
// It owns the per-record state machine: a record is created locally as
// pending (offline) or mirrored as synced (online), and every mutation
// goes through exactly one online/offline branch here instead of being
// re-derived at each call site.
package patterns

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stitchsync/internal/common"
	"stitchsync/internal/connectivity"
	"stitchsync/internal/localstore"
	"stitchsync/internal/logging"
	"stitchsync/internal/models"
	"stitchsync/internal/outbox"
	"stitchsync/internal/remote"
	"stitchsync/internal/syncengine"
	"stitchsync/internal/versions"
)

// Patch describes a partial update. Nil fields are left unchanged.
type Patch struct {
	Name     *string
	Category *string
	Tags     *[]string
	Sections *[]models.Section
}

// Filter restricts List by equality on selected fields.
type Filter struct {
	Category string
	Tag      string
}

// QuotaResult is the structured outcome of CheckQuota. Hitting the
// limit is an expected business outcome, not an error.
type QuotaResult struct {
	Allowed bool
	Count   int
	Limit   int
	Reason  string
}

// Repository is the single entry point for pattern CRUD, quota checks
// and manual sync. All stores are passed in explicitly constructed;
// the repository holds no global state.
type Repository struct {
	local    localstore.Store
	counters localstore.CounterStore
	queue    outbox.Queue
	remote   remote.Store
	versions versions.Store
	engine   *syncengine.Engine
	conn     connectivity.Source
	scope    string
	log      logging.Logger
	now      func() time.Time
}

func New(local localstore.Store, counters localstore.CounterStore, queue outbox.Queue, remoteStore remote.Store, versionStore versions.Store, engine *syncengine.Engine, conn connectivity.Source, scope string, log logging.Logger) *Repository {
	return &Repository{
		local:    local,
		counters: counters,
		queue:    queue,
		remote:   remoteStore,
		versions: versionStore,
		engine:   engine,
		conn:     conn,
		scope:    scope,
		log:      log,
		now:      time.Now,
	}
}

// Create stores a new pattern. Online it goes to the remote store
// first and is mirrored locally as synced; offline it gets a temp id,
// an outbox entry and a pending local copy. Either way the caller gets
// the record back immediately.
func (r *Repository) Create(ctx context.Context, draft remote.Draft) (*models.Record, error) {
	if r.conn.Online() {
		created, err := r.remote.Create(ctx, draft)
		if err != nil {
			// The local cache is untouched: an unconfirmed record must
			// never be mirrored.
			return nil, fmt.Errorf("create pattern: %w", err)
		}
		if err := r.putSynced(ctx, *created); err != nil {
			return nil, err
		}
		return created, nil
	}

	now := r.now().UTC()
	rec := models.Record{
		ID:        models.NewTempID(),
		Name:      draft.Name,
		Category:  draft.Category,
		Tags:      append([]string(nil), draft.Tags...),
		Sections:  models.CloneSections(draft.Sections),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if rec.Category == "" {
		rec.Category = remote.DefaultCategory
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}

	// Outbox first: the pending flag is only valid once the matching
	// outbox entry is durable.
	if err := r.queue.Enqueue(ctx, rec.ID, models.ActionCreate, &rec); err != nil {
		return nil, err
	}
	if err := r.local.Put(ctx, &models.LocalEntry{Record: rec, SyncStatus: models.StatusPending}); err != nil {
		return nil, err
	}

	return &rec, nil
}

// Get returns a single pattern from the local cache. Tombstoned
// records (pending offline deletes) are reported as not found.
func (r *Repository) Get(ctx context.Context, id string) (*models.LocalEntry, error) {
	entry, err := r.local.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Deleted {
		return nil, fmt.Errorf("pattern %s: %w", id, common.ErrRecordNotFound)
	}
	return entry, nil
}

// List returns cached patterns matching filter, tombstones excluded.
// Reads always come from the local cache; sync keeps it fresh.
func (r *Repository) List(ctx context.Context, filter *Filter) ([]models.LocalEntry, error) {
	entries, err := r.local.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]models.LocalEntry, 0, len(entries))
	for _, e := range entries {
		if e.Deleted {
			continue
		}
		if filter != nil && !matches(e, filter) {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

func matches(e models.LocalEntry, f *Filter) bool {
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.Tag != "" {
		found := false
		for _, t := range e.Tags {
			if t == f.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Update applies a partial edit. With saveVersion set, the pre-update
// content is snapshotted to the version history first. A record that
// has not completed its first round trip (temp id / pending) always
// takes the offline path so the outbox can collapse the edits.
func (r *Repository) Update(ctx context.Context, id string, patch Patch, saveVersion bool) (*models.Record, error) {
	base, err := r.local.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if base.Deleted {
		return nil, fmt.Errorf("update pattern %s: %w", id, common.ErrRecordDeleted)
	}

	if saveVersion {
		if _, err := r.versions.Snapshot(ctx, id, base.Sections, "", "auto-saved before edit"); err != nil {
			return nil, err
		}
	}

	merged := applyPatch(base.Record, patch)

	if r.conn.Online() && base.SyncStatus == models.StatusSynced {
		updated, err := r.remote.Update(ctx, id, remote.DraftOf(merged))
		if err != nil {
			return nil, fmt.Errorf("update pattern: %w", err)
		}
		if err := r.putSynced(ctx, *updated); err != nil {
			return nil, err
		}
		return updated, nil
	}

	merged.UpdatedAt = r.now().UTC()
	if err := r.queue.Enqueue(ctx, id, models.ActionUpdate, &merged); err != nil {
		return nil, err
	}
	if err := r.local.Put(ctx, &models.LocalEntry{
		Record:       merged,
		SyncStatus:   models.StatusPending,
		LastSyncedAt: base.LastSyncedAt,
	}); err != nil {
		return nil, err
	}

	return &merged, nil
}

// Delete removes a pattern. Online, the remote delete must succeed
// before any local state is touched, so a transient failure leaves the
// record (and its history and counters) fully intact. Offline, history
// and counters are node-local and purged immediately; only the record
// itself waits for the push as a tombstone.
func (r *Repository) Delete(ctx context.Context, id string) error {
	base, err := r.local.Get(ctx, id)
	if err != nil {
		return err
	}
	if base.Deleted {
		return nil
	}

	if r.conn.Online() && base.SyncStatus == models.StatusSynced {
		err := r.remote.Delete(ctx, id)
		if err != nil && !errors.Is(err, common.ErrRemoteNotFound) {
			return fmt.Errorf("delete pattern: %w", err)
		}
		if err := r.versions.Purge(ctx, id); err != nil {
			return err
		}
		if err := r.counters.DeleteByRecord(ctx, id); err != nil {
			return err
		}
		return r.local.Delete(ctx, id)
	}

	if err := r.versions.Purge(ctx, id); err != nil {
		return err
	}
	if err := r.counters.DeleteByRecord(ctx, id); err != nil {
		return err
	}

	if err := r.queue.Enqueue(ctx, id, models.ActionDelete, nil); err != nil {
		return err
	}

	// A delete may have collapsed a never-pushed create to nothing; in
	// that case the record is simply gone.
	if _, err := r.queue.Get(ctx, id); errors.Is(err, common.ErrRecordNotFound) {
		return r.local.Delete(ctx, id)
	} else if err != nil {
		return err
	}

	base.Deleted = true
	base.SyncStatus = models.StatusPending
	base.UpdatedAt = r.now().UTC()
	return r.local.Put(ctx, base)
}

// Duplicate creates a copy of an existing pattern under a new id.
// Version history is never copied.
func (r *Repository) Duplicate(ctx context.Context, id string) (*models.Record, error) {
	base, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	draft := remote.DraftOf(base.Record)
	draft.Name = base.Name + " (copy)"
	return r.Create(ctx, draft)
}

// CheckQuota reports whether another pattern may be created under the
// given limit. It is consulted by the caller before Create, never
// enforced inside Create, so the UI can surface the upsell message
// before attempting the write. limit <= 0 means unlimited.
func (r *Repository) CheckQuota(ctx context.Context, limit int) (QuotaResult, error) {
	if limit <= 0 {
		return QuotaResult{Allowed: true, Limit: limit}, nil
	}

	var count int
	if r.conn.Online() {
		records, err := r.remote.List(ctx, nil)
		if err != nil {
			return QuotaResult{}, fmt.Errorf("check quota: %w", err)
		}
		count = len(records)
	} else {
		var err error
		count, err = r.local.Count(ctx)
		if err != nil {
			return QuotaResult{}, err
		}
	}

	res := QuotaResult{Count: count, Limit: limit, Allowed: count < limit}
	if !res.Allowed {
		res.Reason = fmt.Sprintf("free tier limit of %d patterns reached", limit)
	}
	return res, nil
}

// Sync triggers one reconciliation run for this repository's scope.
func (r *Repository) Sync(ctx context.Context) (syncengine.Result, error) {
	return r.engine.Sync(ctx, r.scope)
}

// Versions lists the stored history snapshots for a pattern, newest
// first.
func (r *Repository) Versions(ctx context.Context, id string) ([]models.Version, error) {
	return r.versions.List(ctx, id)
}

// RestoreVersion makes a stored snapshot the current content of the
// record. The current content is snapshotted first, so the restore is
// itself undoable; the restored content then flows through Update and
// the usual sync rules. Nothing is mutated if the version is missing.
func (r *Repository) RestoreVersion(ctx context.Context, id, versionID string) (*models.Record, error) {
	v, err := r.versions.Get(ctx, id, versionID)
	if err != nil {
		return nil, err
	}

	base, err := r.local.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if base.Deleted {
		return nil, fmt.Errorf("restore pattern %s: %w", id, common.ErrRecordDeleted)
	}

	if _, err := r.versions.Snapshot(ctx, id, base.Sections, "", "auto-saved before restore"); err != nil {
		return nil, err
	}

	sections := models.CloneSections(v.Sections)
	return r.Update(ctx, id, Patch{Sections: &sections}, false)
}

// SaveCounter persists an active project's counter snapshot.
func (r *Repository) SaveCounter(ctx context.Context, snap *models.CounterSnapshot) error {
	snap.UpdatedAt = r.now().UTC()
	return r.counters.Save(ctx, snap)
}

// Counter returns the counter snapshot for a project.
func (r *Repository) Counter(ctx context.Context, projectID string) (*models.CounterSnapshot, error) {
	return r.counters.Get(ctx, projectID)
}

func (r *Repository) putSynced(ctx context.Context, rec models.Record) error {
	now := r.now().UTC()
	return r.local.Put(ctx, &models.LocalEntry{
		Record:       rec,
		SyncStatus:   models.StatusSynced,
		LastSyncedAt: &now,
	})
}

func applyPatch(rec models.Record, p Patch) models.Record {
	out := rec.Clone()
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Category != nil {
		out.Category = *p.Category
	}
	if p.Tags != nil {
		out.Tags = append([]string(nil), (*p.Tags)...)
	}
	if p.Sections != nil {
		out.Sections = models.CloneSections(*p.Sections)
	}
	return out
}
