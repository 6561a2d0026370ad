package syncengine

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"stitchsync/internal/common"
	"stitchsync/internal/localstore"
	"stitchsync/internal/logging"
	"stitchsync/internal/models"
	"stitchsync/internal/outbox"
	"stitchsync/internal/remote"
	"stitchsync/internal/versions"
)

// fakeRemote is an in-memory remote.Store with injectable failures.
type fakeRemote struct {
	mu      sync.Mutex
	records map[string]models.Record
	nextID  int
	now     func() time.Time

	createErr error
	updateErr error
	deleteErr error
	listErr   error

	createCalls int
	updateCalls int
	deleteCalls int
	listCalls   int

	// When set, List signals listEntered and blocks until listGate closes.
	listGate    chan struct{}
	listEntered chan struct{}
}

func newFakeRemote(now func() time.Time) *fakeRemote {
	return &fakeRemote{records: map[string]models.Record{}, now: now}
}

func (f *fakeRemote) Create(ctx context.Context, draft remote.Draft) (*models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	n := f.now().UTC()
	rec := models.Record{
		ID:        fmt.Sprintf("srv-%d", f.nextID),
		Name:      draft.Name,
		Category:  draft.Category,
		Tags:      draft.Tags,
		Sections:  draft.Sections,
		CreatedAt: n,
		UpdatedAt: n,
	}
	f.records[rec.ID] = rec
	out := rec.Clone()
	return &out, nil
}

func (f *fakeRemote) Get(ctx context.Context, id string) (*models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil, common.ErrRemoteNotFound
	}
	out := rec.Clone()
	return &out, nil
}

func (f *fakeRemote) List(ctx context.Context, filter *remote.ListFilter) ([]models.Record, error) {
	if f.listGate != nil {
		f.listEntered <- struct{}{}
		<-f.listGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]models.Record, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (f *fakeRemote) Update(ctx context.Context, id string, draft remote.Draft) (*models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	rec, ok := f.records[id]
	if !ok {
		return nil, common.ErrRemoteNotFound
	}
	rec.Name = draft.Name
	rec.Category = draft.Category
	rec.Tags = draft.Tags
	rec.Sections = draft.Sections
	rec.UpdatedAt = f.now().UTC()
	f.records[id] = rec
	out := rec.Clone()
	return &out, nil
}

func (f *fakeRemote) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.records[id]; !ok {
		return common.ErrRemoteNotFound
	}
	delete(f.records, id)
	return nil
}

func (f *fakeRemote) Ping(ctx context.Context) error { return nil }

type fixture struct {
	engine   *Engine
	db       *sql.DB
	local    *localstore.SQLiteStore
	counters *localstore.SQLiteCounterStore
	queue    *outbox.SQLiteQueue
	remote   *fakeRemote
	versions *versions.SQLiteStore
	clock    *fakeClock
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE patterns (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  category TEXT NOT NULL DEFAULT '',
  tags TEXT NOT NULL DEFAULT '[]',
  sections TEXT NOT NULL DEFAULT '[]',
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  sync_status TEXT NOT NULL,
  deleted INTEGER NOT NULL DEFAULT 0,
  last_synced_at TEXT
);
CREATE TABLE outbox (
  record_id TEXT PRIMARY KEY,
  action TEXT NOT NULL,
  payload TEXT,
  enqueued_at TEXT NOT NULL
);
CREATE TABLE versions (
  id TEXT PRIMARY KEY,
  record_id TEXT NOT NULL,
  sections TEXT NOT NULL,
  notes TEXT NOT NULL DEFAULT '',
  change_description TEXT NOT NULL DEFAULT '',
  saved_at TEXT NOT NULL
);
CREATE TABLE counters (
  project_id TEXT PRIMARY KEY,
  record_id TEXT NOT NULL,
  name TEXT NOT NULL,
  value INTEGER NOT NULL,
  updated_at TEXT NOT NULL
);
`)
	require.NoError(t, err)
	return db
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	db := setupDB(t)

	clock := &fakeClock{t: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	f := &fixture{
		db:       db,
		local:    localstore.NewSQLiteStore(db),
		counters: localstore.NewSQLiteCounterStore(db),
		queue:    outbox.NewSQLiteQueue(db),
		remote:   newFakeRemote(clock.Now),
		versions: versions.NewSQLiteStore(db, 10),
		clock:    clock,
	}
	f.engine = New(f.local, f.queue, f.remote, SQLiteTx(db, 10), logging.Discard())
	f.engine.now = clock.Now
	return f
}

func pendingEntry(id, name string, updatedAt time.Time) *models.LocalEntry {
	return &models.LocalEntry{
		Record: models.Record{
			ID:        id,
			Name:      name,
			Category:  "amigurumi",
			Tags:      []string{},
			Sections:  []models.Section{{Title: "head", Steps: []string{"mr 6"}}},
			CreatedAt: updatedAt,
			UpdatedAt: updatedAt,
		},
		SyncStatus: models.StatusPending,
	}
}

func TestSync_OfflineCreateRoundTrip(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	tempID := models.NewTempID()
	entry := pendingEntry(tempID, "Frog", f.clock.Now())
	require.NoError(t, f.queue.Enqueue(ctx, tempID, models.ActionCreate, &entry.Record))
	require.NoError(t, f.local.Put(ctx, entry))

	_, err := f.versions.Snapshot(ctx, tempID, entry.Sections, "", "initial")
	require.NoError(t, err)
	require.NoError(t, f.counters.Save(ctx, &models.CounterSnapshot{
		ProjectID: "proj-1", RecordID: tempID, Name: "rows", Value: 4, UpdatedAt: f.clock.Now(),
	}))

	res, err := f.engine.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, Result{Pushed: 1, Pulled: 0, Conflicts: 0}, res)

	// The temp-id copy is gone.
	_, err = f.local.Get(ctx, tempID)
	require.ErrorIs(t, err, common.ErrRecordNotFound)

	// The server-assigned copy is synced.
	got, err := f.local.Get(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, "Frog", got.Name)
	assert.Equal(t, models.StatusSynced, got.SyncStatus)
	require.NotNil(t, got.LastSyncedAt)

	// History and counters followed the id.
	vs, err := f.versions.List(ctx, "srv-1")
	require.NoError(t, err)
	assert.Len(t, vs, 1)
	cnt, err := f.counters.Get(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, "srv-1", cnt.RecordID)

	// Outbox is drained.
	pending, err := f.queue.Drain(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSync_SecondRunIsNoOp(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	tempID := models.NewTempID()
	entry := pendingEntry(tempID, "Frog", f.clock.Now())
	require.NoError(t, f.queue.Enqueue(ctx, tempID, models.ActionCreate, &entry.Record))
	require.NoError(t, f.local.Put(ctx, entry))

	_, err := f.engine.Sync(ctx, "u1")
	require.NoError(t, err)

	res, err := f.engine.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Equal(t, 1, f.remote.createCalls)
	assert.Len(t, f.remote.records, 1)
}

func TestSync_CreateIDReplacementIsAtomic(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	tempID := models.NewTempID()
	entry := pendingEntry(tempID, "Frog", f.clock.Now())
	require.NoError(t, f.queue.Enqueue(ctx, tempID, models.ActionCreate, &entry.Record))
	require.NoError(t, f.local.Put(ctx, entry))

	// Make the version rekey step fail mid-sequence.
	_, err := f.db.Exec(`DROP TABLE versions`)
	require.NoError(t, err)

	_, err = f.engine.Sync(ctx, "u1")
	require.ErrorIs(t, err, common.ErrStorageUnavailable)

	// The whole local sequence rolled back: the temp-id record is still
	// cached and the create is still queued for the next run.
	got, err := f.local.Get(ctx, tempID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.SyncStatus)
	pending, err := f.queue.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, tempID, pending[0].RecordID)

	_, err = f.local.Get(ctx, "srv-1")
	require.ErrorIs(t, err, common.ErrRecordNotFound)
}

func TestSQLiteTx_RollsBackOnError(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	tx := SQLiteTx(f.db, 10)

	boom := common.ErrStorageUnavailable
	err := tx(ctx, func(ctx context.Context, s Stores) error {
		if err := s.Local.Put(ctx, pendingEntry("srv-1", "Frog", f.clock.Now())); err != nil {
			return err
		}
		if err := s.Queue.Enqueue(ctx, "srv-1", models.ActionUpdate, nil); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = f.local.Get(ctx, "srv-1")
	require.ErrorIs(t, err, common.ErrRecordNotFound)
	_, err = f.queue.Get(ctx, "srv-1")
	require.ErrorIs(t, err, common.ErrRecordNotFound)
}

func TestSync_PushUpdate(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	created, err := f.remote.Create(ctx, remote.Draft{Name: "Shawl", Tags: []string{}, Sections: []models.Section{}})
	require.NoError(t, err)

	edited := created.Clone()
	edited.Name = "Shawl v2"
	edited.UpdatedAt = f.clock.Now()
	require.NoError(t, f.queue.Enqueue(ctx, created.ID, models.ActionUpdate, &edited))
	require.NoError(t, f.local.Put(ctx, &models.LocalEntry{Record: edited, SyncStatus: models.StatusPending}))

	res, err := f.engine.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pushed)
	assert.Zero(t, res.Conflicts)

	got, err := f.local.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Shawl v2", got.Name)
	assert.Equal(t, models.StatusSynced, got.SyncStatus)
	assert.Equal(t, "Shawl v2", f.remote.records[created.ID].Name)
}

func TestSync_PushUpdateOnRemotelyDeletedRecord(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	entry := pendingEntry("srv-9", "Ghost", f.clock.Now())
	require.NoError(t, f.queue.Enqueue(ctx, "srv-9", models.ActionUpdate, &entry.Record))
	require.NoError(t, f.local.Put(ctx, entry))
	_, err := f.versions.Snapshot(ctx, "srv-9", entry.Sections, "", "")
	require.NoError(t, err)

	res, err := f.engine.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, Result{Pushed: 0, Pulled: 0, Conflicts: 1}, res)

	_, err = f.local.Get(ctx, "srv-9")
	require.ErrorIs(t, err, common.ErrRecordNotFound)
	vs, err := f.versions.List(ctx, "srv-9")
	require.NoError(t, err)
	assert.Empty(t, vs)
}

func TestSync_PushDelete(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	created, err := f.remote.Create(ctx, remote.Draft{Name: "Old", Tags: []string{}, Sections: []models.Section{}})
	require.NoError(t, err)
	require.NoError(t, f.local.Put(ctx, &models.LocalEntry{
		Record: *created, SyncStatus: models.StatusPending, Deleted: true,
	}))
	require.NoError(t, f.queue.Enqueue(ctx, created.ID, models.ActionDelete, nil))

	res, err := f.engine.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pushed)

	_, err = f.local.Get(ctx, created.ID)
	require.ErrorIs(t, err, common.ErrRecordNotFound)
	assert.Empty(t, f.remote.records)
}

func TestSync_PushDeleteAlreadyGoneRemotely(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	require.NoError(t, f.local.Put(ctx, &models.LocalEntry{
		Record:     pendingEntry("srv-9", "Old", f.clock.Now()).Record,
		SyncStatus: models.StatusPending,
		Deleted:    true,
	}))
	require.NoError(t, f.queue.Enqueue(ctx, "srv-9", models.ActionDelete, nil))

	res, err := f.engine.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pushed)

	pending, err := f.queue.Drain(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSync_PullNewRemoteRecord(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	_, err := f.remote.Create(ctx, remote.Draft{Name: "From another device", Tags: []string{}, Sections: []models.Section{}})
	require.NoError(t, err)

	res, err := f.engine.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, Result{Pushed: 0, Pulled: 1, Conflicts: 0}, res)

	got, err := f.local.Get(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, got.SyncStatus)
}

func TestSync_PullRemoteWinsOverPendingEdit(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	remoteRec := models.Record{
		ID: "srv-1", Name: "Theirs", Category: "amigurumi",
		Tags: []string{}, Sections: []models.Section{},
		CreatedAt: base, UpdatedAt: base.Add(200 * time.Second),
	}
	f.remote.records["srv-1"] = remoteRec

	local := pendingEntry("srv-1", "Mine", base.Add(150*time.Second))
	require.NoError(t, f.local.Put(ctx, local))

	res, err := f.engine.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, Result{Pushed: 0, Pulled: 0, Conflicts: 1}, res)

	got, err := f.local.Get(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, "Theirs", got.Name)
	assert.Equal(t, models.StatusSynced, got.SyncStatus)
}

func TestSync_PullLeavesNewerPendingEdit(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	f.remote.records["srv-1"] = models.Record{
		ID: "srv-1", Name: "Theirs", Category: "amigurumi",
		Tags: []string{}, Sections: []models.Section{},
		CreatedAt: base, UpdatedAt: base.Add(100 * time.Second),
	}

	local := pendingEntry("srv-1", "Mine", base.Add(150*time.Second))
	require.NoError(t, f.local.Put(ctx, local))

	res, err := f.engine.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)

	got, err := f.local.Get(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, "Mine", got.Name)
	assert.Equal(t, models.StatusPending, got.SyncStatus)
}

func TestSync_PullRemovesRemotelyDeletedRecord(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	n := f.clock.Now()
	require.NoError(t, f.local.Put(ctx, &models.LocalEntry{
		Record: models.Record{
			ID: "srv-1", Name: "Gone", Tags: []string{}, Sections: []models.Section{},
			CreatedAt: n, UpdatedAt: n,
		},
		SyncStatus:   models.StatusSynced,
		LastSyncedAt: &n,
	}))
	_, err := f.versions.Snapshot(ctx, "srv-1", nil, "", "")
	require.NoError(t, err)

	res, err := f.engine.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, Result{Pushed: 0, Pulled: 1, Conflicts: 0}, res)

	_, err = f.local.Get(ctx, "srv-1")
	require.ErrorIs(t, err, common.ErrRecordNotFound)
	vs, err := f.versions.List(ctx, "srv-1")
	require.NoError(t, err)
	assert.Empty(t, vs)
}

func TestSync_PullLeavesPendingLocalOnlyRecord(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	tempID := models.NewTempID()
	entry := pendingEntry(tempID, "Draft", f.clock.Now())
	require.NoError(t, f.queue.Enqueue(ctx, tempID, models.ActionCreate, &entry.Record))
	require.NoError(t, f.local.Put(ctx, entry))
	f.remote.createErr = common.ErrRemoteUnavailable

	res, err := f.engine.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)

	// Still cached and still queued for the next run.
	got, err := f.local.Get(ctx, tempID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.SyncStatus)
	pending, err := f.queue.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// The next run, with the remote back, completes the push.
	f.remote.createErr = nil
	res, err = f.engine.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pushed)
}

func TestSync_TransientFailureSkipsEntryAndContinues(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	created, err := f.remote.Create(ctx, remote.Draft{Name: "Keep", Tags: []string{}, Sections: []models.Section{}})
	require.NoError(t, err)

	// A failing update plus a deletable record behind it in the queue.
	edited := created.Clone()
	edited.Name = "Keep v2"
	require.NoError(t, f.queue.Enqueue(ctx, created.ID, models.ActionUpdate, &edited))
	require.NoError(t, f.local.Put(ctx, &models.LocalEntry{Record: edited, SyncStatus: models.StatusPending}))

	other, err := f.remote.Create(ctx, remote.Draft{Name: "Drop", Tags: []string{}, Sections: []models.Section{}})
	require.NoError(t, err)
	require.NoError(t, f.local.Put(ctx, &models.LocalEntry{Record: *other, SyncStatus: models.StatusPending, Deleted: true}))
	require.NoError(t, f.queue.Enqueue(ctx, other.ID, models.ActionDelete, nil))

	f.remote.updateErr = common.ErrRemoteUnavailable

	res, err := f.engine.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pushed) // the delete went through

	pending, err := f.queue.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, created.ID, pending[0].RecordID)
}

func TestSync_ListFailureAbortsPull(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	f.remote.listErr = common.ErrRemoteUnavailable

	_, err := f.engine.Sync(ctx, "u1")
	require.ErrorIs(t, err, common.ErrRemoteUnavailable)
}

func TestSync_ConcurrentCallsCoalesce(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	_, err := f.remote.Create(ctx, remote.Draft{Name: "Shared", Tags: []string{}, Sections: []models.Section{}})
	require.NoError(t, err)

	f.remote.listGate = make(chan struct{})
	f.remote.listEntered = make(chan struct{}, 2)

	var wg sync.WaitGroup
	results := make([]Result, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = f.engine.Sync(ctx, "u1")
	}()

	// Wait until the first run is inside List, then start the second
	// call so it finds a run in flight.
	<-f.remote.listEntered
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = f.engine.Sync(ctx, "u1")
	}()

	time.Sleep(50 * time.Millisecond)
	close(f.remote.listGate)
	wg.Wait()

	assert.Equal(t, 1, f.remote.listCalls)
	assert.Equal(t, results[0], results[1])
}
