package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"stitchsync/internal/config"
	"stitchsync/internal/connectivity"
	"stitchsync/internal/localstore"
	"stitchsync/internal/logging"
	"stitchsync/internal/outbox"
	"stitchsync/internal/patterns"
	"stitchsync/internal/remote"
	"stitchsync/internal/syncengine"
	"stitchsync/internal/versions"
)

// scope names the sync serialization domain. A single local database
// belongs to a single user, so one scope is enough here.
const scope = "local"

func main() {
	if err := run(); err != nil {
		color.Red("stitchsync: %v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.LoadConfig()
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := localstore.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	local := localstore.NewSQLiteStore(db)
	counters := localstore.NewSQLiteCounterStore(db)
	queue := outbox.NewSQLiteQueue(db)
	versionStore := versions.NewSQLiteStore(db, cfg.VersionCapacity)
	remoteStore := remote.NewHTTPStore(cfg.ServerBaseURL, cfg.RequestTimeout, log)

	engine := syncengine.New(local, queue, remoteStore,
		syncengine.SQLiteTx(db, cfg.VersionCapacity), log)
	monitor := connectivity.NewMonitor(remoteStore.Ping, cfg.OnlineCheckInterval, log)
	repo := patterns.New(local, counters, queue, remoteStore, versionStore, engine, monitor, scope, log)

	syncNow := make(chan struct{}, 1)
	monitor.Subscribe(func(online bool) {
		if online {
			select {
			case syncNow <- struct{}{}:
			default:
			}
		}
	})

	go monitor.Run(ctx)

	var periodic <-chan time.Time
	if cfg.SyncInterval > 0 {
		ticker := time.NewTicker(cfg.SyncInterval)
		defer ticker.Stop()
		periodic = ticker.C
	}

	log.Info(ctx, "stitchsync started",
		"database", cfg.DatabasePath, "server", cfg.ServerBaseURL)

	for {
		select {
		case <-ctx.Done():
			log.Info(context.Background(), "shutting down")
			return nil
		case <-syncNow:
			runSync(ctx, repo, log)
		case <-periodic:
			if monitor.Online() {
				runSync(ctx, repo, log)
			}
		}
	}
}

func runSync(ctx context.Context, repo *patterns.Repository, log logging.Logger) {
	res, err := repo.Sync(ctx)
	if err != nil {
		color.Yellow("sync failed: %v", err)
		return
	}
	color.Green("sync ok: pushed=%d pulled=%d conflicts=%d", res.Pushed, res.Pulled, res.Conflicts)
}
