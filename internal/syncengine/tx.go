package syncengine

import (
	"context"
	"database/sql"

	"stitchsync/internal/dbx"
	"stitchsync/internal/localstore"
	"stitchsync/internal/outbox"
	"stitchsync/internal/versions"
)

// Stores bundles transaction-scoped handles to the local stores. A
// TxRunner hands one to its callback so a multi-store mutation
// sequence commits or rolls back as a unit.
type Stores struct {
	Local    localstore.Store
	Counters localstore.CounterStore
	Queue    outbox.Queue
	Versions versions.Store
}

// TxRunner runs fn so that every mutation fn makes through s is
// committed together, or not at all on error.
type TxRunner func(ctx context.Context, fn func(ctx context.Context, s Stores) error) error

// SQLiteTx returns a TxRunner over db. The callback stores share one
// dbx.WithTx transaction handle.
func SQLiteTx(db *sql.DB, versionCapacity int) TxRunner {
	return func(ctx context.Context, fn func(ctx context.Context, s Stores) error) error {
		return dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			return fn(ctx, Stores{
				Local:    localstore.NewSQLiteStore(tx),
				Counters: localstore.NewSQLiteCounterStore(tx),
				Queue:    outbox.NewSQLiteQueue(tx),
				Versions: versions.NewSQLiteStore(tx, versionCapacity),
			})
		})
	}
}
