// Package syncengine reconciles the local cache with the remote store:
// it drains the outbox (push phase), then pulls the remote state back
// into the local cache, applying the last-writer-wins conflict policy.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"stitchsync/internal/common"
	"stitchsync/internal/localstore"
	"stitchsync/internal/logging"
	"stitchsync/internal/models"
	"stitchsync/internal/outbox"
	"stitchsync/internal/remote"
)

// Result counts what a sync run did.
type Result struct {
	Pushed    int
	Pulled    int
	Conflicts int
}

// Engine orchestrates push-then-pull reconciliation. Runs for the same
// scope are serialized: concurrent Sync calls coalesce into one run and
// share its result.
type Engine struct {
	local  localstore.Store
	queue  outbox.Queue
	remote remote.Store
	tx     TxRunner
	log    logging.Logger
	group  singleflight.Group
	now    func() time.Time
}

// New wires an engine over explicitly constructed stores. Nothing here
// is lazily initialized; the caller owns every handle. tx must span
// the same database as local and queue; version history and counter
// snapshots are only touched through it, inside the atomic
// id-replacement and drop sequences.
func New(local localstore.Store, queue outbox.Queue, remoteStore remote.Store, tx TxRunner, log logging.Logger) *Engine {
	return &Engine{
		local:  local,
		queue:  queue,
		remote: remoteStore,
		tx:     tx,
		log:    log,
		now:    time.Now,
	}
}

// Sync runs one push-then-pull reconciliation for the given scope
// (typically the user id). A call made while a run for the same scope
// is in flight waits for that run and returns its result instead of
// starting a second drain.
func (e *Engine) Sync(ctx context.Context, scope string) (Result, error) {
	v, err, shared := e.group.Do(scope, func() (any, error) {
		return e.run(ctx, scope)
	})
	if shared {
		e.log.Debug(ctx, "sync call coalesced into in-flight run", "scope", scope)
	}
	res, _ := v.(Result)
	return res, err
}

func (e *Engine) run(ctx context.Context, scope string) (Result, error) {
	var res Result
	start := e.now()

	if err := e.push(ctx, &res); err != nil {
		return res, err
	}
	if err := e.pull(ctx, &res); err != nil {
		return res, err
	}

	e.log.Info(ctx, "sync finished",
		"scope", scope,
		"pushed", res.Pushed,
		"pulled", res.Pulled,
		"conflicts", res.Conflicts,
		"duration", e.now().Sub(start))
	return res, nil
}

// push drains the outbox in FIFO order. A transient remote failure
// leaves the entry in place and moves on to the next one; the entry is
// retried on the next sync run, never in a tight loop here. Local
// storage failures abort the drain.
func (e *Engine) push(ctx context.Context, res *Result) error {
	entries, err := e.queue.Drain(ctx)
	if err != nil {
		return fmt.Errorf("drain outbox: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		var err error
		switch entry.Action {
		case models.ActionCreate:
			err = e.pushCreate(ctx, entry, res)
		case models.ActionUpdate:
			err = e.pushUpdate(ctx, entry, res)
		case models.ActionDelete:
			err = e.pushDelete(ctx, entry, res)
		default:
			e.log.Error(ctx, "unknown outbox action, clearing entry", "record_id", entry.RecordID, "action", entry.Action)
			err = e.queue.Clear(ctx, entry.RecordID)
		}

		if errors.Is(err, common.ErrStorageUnavailable) {
			return err
		}
		if err != nil {
			// Remote failure for this entry only; keep draining.
			e.log.Warn(ctx, "push failed, will retry on next sync",
				"record_id", entry.RecordID, "action", entry.Action, "error", err)
		}
	}
	return nil
}

func (e *Engine) pushCreate(ctx context.Context, entry models.OutboxEntry, res *Result) error {
	if entry.Payload == nil {
		e.log.Error(ctx, "create entry without payload, clearing", "record_id", entry.RecordID)
		return e.queue.Clear(ctx, entry.RecordID)
	}

	created, err := e.remote.Create(ctx, remote.DraftOf(*entry.Payload))
	if err != nil {
		return err
	}

	// Replace the temp-id record with the server-assigned one and move
	// any history or counters saved against the temp id along with it.
	// One transaction: an interruption mid-sequence must not leave the
	// cache without the record while the outbox still holds the create,
	// or the retry would duplicate it remotely.
	now := e.now().UTC()
	err = e.tx(ctx, func(ctx context.Context, s Stores) error {
		if err := s.Local.Delete(ctx, entry.RecordID); err != nil {
			return err
		}
		if err := s.Local.Put(ctx, &models.LocalEntry{
			Record:       *created,
			SyncStatus:   models.StatusSynced,
			LastSyncedAt: &now,
		}); err != nil {
			return err
		}
		if err := s.Versions.Rekey(ctx, entry.RecordID, created.ID); err != nil {
			return err
		}
		if err := s.Counters.RekeyRecord(ctx, entry.RecordID, created.ID); err != nil {
			return err
		}
		return s.Queue.Clear(ctx, entry.RecordID)
	})
	if err != nil {
		return err
	}

	res.Pushed++
	return nil
}

func (e *Engine) pushUpdate(ctx context.Context, entry models.OutboxEntry, res *Result) error {
	if entry.Payload == nil {
		e.log.Error(ctx, "update entry without payload, clearing", "record_id", entry.RecordID)
		return e.queue.Clear(ctx, entry.RecordID)
	}

	updated, err := e.remote.Update(ctx, entry.RecordID, remote.DraftOf(*entry.Payload))
	if errors.Is(err, common.ErrRemoteNotFound) {
		// The record vanished remotely while our edit was pending. The
		// remote delete is the newer write; drop the local copy.
		e.log.Warn(ctx, "record deleted remotely, discarding pending update", "record_id", entry.RecordID)
		if err := e.dropLocal(ctx, entry.RecordID); err != nil {
			return err
		}
		res.Conflicts++
		return nil
	}
	if err != nil {
		return err
	}

	if err := e.putSynced(ctx, *updated); err != nil {
		return err
	}
	if err := e.queue.Clear(ctx, entry.RecordID); err != nil {
		return err
	}

	res.Pushed++
	return nil
}

func (e *Engine) pushDelete(ctx context.Context, entry models.OutboxEntry, res *Result) error {
	err := e.remote.Delete(ctx, entry.RecordID)
	if err != nil && !errors.Is(err, common.ErrRemoteNotFound) {
		// Already-gone is success: deletion is idempotent.
		return err
	}

	if err := e.local.Delete(ctx, entry.RecordID); err != nil {
		return err
	}
	if err := e.queue.Clear(ctx, entry.RecordID); err != nil {
		return err
	}

	res.Pushed++
	return nil
}

// pull lists the complete remote state and reconciles it into the
// local cache. The list is always unfiltered: reconciling against a
// filtered list would make records outside the filter look remotely
// deleted.
func (e *Engine) pull(ctx context.Context, res *Result) error {
	remoteRecords, err := e.remote.List(ctx, nil)
	if err != nil {
		return fmt.Errorf("list remote records: %w", err)
	}

	locals, err := e.local.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("list local records: %w", err)
	}
	localByID := make(map[string]models.LocalEntry, len(locals))
	for _, le := range locals {
		localByID[le.ID] = le
	}

	remoteIDs := make(map[string]struct{}, len(remoteRecords))
	for _, rec := range remoteRecords {
		remoteIDs[rec.ID] = struct{}{}

		le, ok := localByID[rec.ID]
		if !ok {
			// New on the remote side.
			if err := e.putSynced(ctx, rec); err != nil {
				return err
			}
			res.Pulled++
			continue
		}

		switch le.SyncStatus {
		case models.StatusPending:
			if rec.UpdatedAt.After(le.UpdatedAt) {
				// The remote write is strictly newer than the base of
				// the pending local edit: remote wins, the local edit
				// is discarded. Expected outcome, not an error.
				e.log.Info(ctx, "conflict: remote is newer, discarding pending local edit",
					"record_id", rec.ID,
					"local_updated_at", le.UpdatedAt,
					"remote_updated_at", rec.UpdatedAt)
				if err := e.putSynced(ctx, rec); err != nil {
					return err
				}
				if err := e.queue.Clear(ctx, rec.ID); err != nil {
					return err
				}
				res.Conflicts++
			}
			// Otherwise leave the pending edit for the next push.
		default:
			if rec.UpdatedAt.After(le.UpdatedAt) {
				if err := e.putSynced(ctx, rec); err != nil {
					return err
				}
				res.Pulled++
			}
			// remote.UpdatedAt <= local for a synced record: already
			// current (or local is ahead, tolerated as a no-op).
		}
	}

	for _, le := range locals {
		if _, ok := remoteIDs[le.ID]; ok {
			continue
		}
		if le.SyncStatus == models.StatusPending {
			// Not yet pushed (new create or pending delete); leave it.
			continue
		}
		// A synced record missing from the unfiltered remote list was
		// deleted by another device.
		e.log.Info(ctx, "record deleted remotely, removing local copy", "record_id", le.ID)
		if err := e.dropLocal(ctx, le.ID); err != nil {
			return err
		}
		res.Pulled++
	}

	return nil
}

// putSynced mirrors a remote record into the local cache as synced.
func (e *Engine) putSynced(ctx context.Context, rec models.Record) error {
	now := e.now().UTC()
	return e.local.Put(ctx, &models.LocalEntry{
		Record:       rec,
		SyncStatus:   models.StatusSynced,
		LastSyncedAt: &now,
	})
}

// dropLocal removes a record and everything hanging off it, as one
// transaction.
func (e *Engine) dropLocal(ctx context.Context, id string) error {
	return e.tx(ctx, func(ctx context.Context, s Stores) error {
		if err := s.Local.Delete(ctx, id); err != nil {
			return err
		}
		if err := s.Versions.Purge(ctx, id); err != nil {
			return err
		}
		if err := s.Counters.DeleteByRecord(ctx, id); err != nil {
			return err
		}
		return s.Queue.Clear(ctx, id)
	})
}
