package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/libsync/internal/engine"
	"github.com/BadgerOps/libsync/internal/server"
	"github.com/BadgerOps/libsync/internal/watch"
)

var (
	watchDest     string
	watchDebounce time.Duration
	watchInitial  bool
	watchListen   string
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [archive...]",
		Short: "Re-sync archives whenever they change",
		Long: `Watch archives and run a sync each time one of them is written or replaced.
Bursts of changes are collapsed into a single sync once the archive has been
quiet for the debounce interval. Without arguments the archives listed under
sync.archives are watched. Stop with Ctrl-C.

With --listen (or watch.listen) a JSON status API is served alongside:
GET /api/status, /api/runs, /api/failures and /api/progress, the SSE stream
/api/progress/stream?archive=PATH, and POST /api/sync for configured archives.`,
		Example: `  libsync watch /data/app/plugin.apk --dest /data/app/lib
  libsync watch --debounce 5s --listen 127.0.0.1:8090`,
		RunE: watchRun,
	}

	cmd.Flags().StringVar(&watchDest, "dest", "", "destination directory (overrides sync.dest_dir)")
	cmd.Flags().DurationVar(&watchDebounce, "debounce", 0, "quiet period before syncing (overrides watch.debounce)")
	cmd.Flags().BoolVar(&watchInitial, "initial", true, "sync every archive once before watching")
	cmd.Flags().StringVar(&watchListen, "listen", "", "serve the status API on this address (overrides watch.listen)")

	return cmd
}

func watchRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	archives, err := archivesFromArgs(args)
	if err != nil {
		return err
	}

	dest := globalCfg.Sync.DestDir
	if watchDest != "" {
		dest = watchDest
	}
	debounce := globalCfg.Watch.Debounce
	if watchDebounce > 0 {
		debounce = watchDebounce
	}
	listen := globalCfg.Watch.Listen
	if watchListen != "" {
		listen = watchListen
	}

	coord, err := newCoordinator(engine.Options{})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	capability := hostCapability(ctx)

	if watchInitial {
		reports, err := coord.SyncAll(ctx, archives, dest, capability)
		if err != nil {
			log.Warn("initial sync incomplete", "error", err)
		}
		for _, rep := range reports {
			printReport(rep)
		}
	}

	var srv *server.Server
	if listen != "" {
		srv = server.NewServer(coord, globalStore, globalCfg, capability, logger)
		go func() {
			if err := srv.Start(listen); err != nil {
				log.Error("status API stopped", "error", err)
				stop()
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("status API shutdown failed", "error", err)
			}
		}()
	}

	w, err := watch.New(archives, debounce, func(ctx context.Context, archivePath string) {
		run, err := coord.Sync(ctx, archivePath, dest, capability)
		if err != nil {
			log.Error("sync failed", "archive", archivePath, "error", err)
			return
		}
		if srv != nil {
			srv.Track(run)
		}
		rep, err := run.Wait(ctx)
		if err != nil {
			log.Warn("stopped waiting for sync", "archive", archivePath, "error", err)
			return
		}
		printReport(rep)
	}, logger)
	if err != nil {
		return err
	}

	log.Info("watching archives", "archives", archives, "dest", dest, "debounce", debounce)
	fmt.Printf("Watching %d archive(s), press Ctrl-C to stop\n", len(archives))

	if err := w.Run(ctx); err != nil {
		return fmt.Errorf("watch failed: %w", err)
	}

	log.Info("received shutdown signal")
	return nil
}
