package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/libsync/internal/arch"
	"github.com/BadgerOps/libsync/internal/engine"
)

var (
	syncDest     string
	syncArch     string
	syncWorkers  int
	syncForce    bool
	syncDryRun   bool
	syncProgress bool
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync [archive...]",
		Short: "Extract changed native libraries from archives",
		Long: `Extract the native libraries for this host's architecture from one or more
archives. Without arguments the archives listed under sync.archives are used.

The sync command will:
  1. Detect the architecture from the host (or use --arch)
  2. Select the .so entries carrying that architecture's token
  3. Skip entries whose archive timestamp was already copied
  4. Copy the rest concurrently and record their timestamps`,
		Example: `  libsync sync plugin.apk --dest /data/app/lib
  libsync sync --arch x86 plugin.apk
  libsync sync --dry-run
  libsync sync --force --workers 4 a.apk b.apk`,
		RunE: syncRun,
	}

	cmd.Flags().StringVar(&syncDest, "dest", "", "destination directory (overrides sync.dest_dir)")
	cmd.Flags().StringVar(&syncArch, "arch", "", "architecture to extract: arm, x86 or mips (default: detect)")
	cmd.Flags().IntVar(&syncWorkers, "workers", -1, "concurrent copies, 0 for unbounded (overrides sync.workers)")
	cmd.Flags().BoolVar(&syncForce, "force", false, "copy every matching library regardless of recorded timestamps")
	cmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "show what would be copied without making changes")
	cmd.Flags().BoolVar(&syncProgress, "progress", false, "print progress while copies are running")

	return cmd
}

func syncRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	archives, err := archivesFromArgs(args)
	if err != nil {
		return err
	}

	dest := globalCfg.Sync.DestDir
	if syncDest != "" {
		dest = syncDest
	}
	if syncWorkers >= 0 {
		globalCfg.Sync.Workers = syncWorkers
	}

	opts := engine.Options{
		Force:  syncForce,
		DryRun: syncDryRun,
	}
	if syncArch != "" {
		tag, err := arch.ParseTag(syncArch)
		if err != nil {
			return err
		}
		opts.Arch = &tag
	}

	coord, err := newCoordinator(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	capability := hostCapability(ctx)

	log.Info("sync operation", "archives", archives, "dest", dest, "dry_run", syncDryRun, "force", syncForce)

	if syncDryRun {
		fmt.Println("DRY RUN: Sync will perform the following actions:")
	}

	var reports []*engine.SyncReport
	var syncErr error
	if len(archives) == 1 {
		var rep *engine.SyncReport
		rep, syncErr = syncOne(ctx, coord, archives[0], dest, capability)
		if rep != nil {
			reports = append(reports, rep)
		}
	} else {
		reports, syncErr = coord.SyncAll(ctx, archives, dest, capability)
	}

	totalCopied := 0
	totalSkipped := 0
	totalFailed := 0
	var totalBytes int64

	for _, rep := range reports {
		printReport(rep)
		totalCopied += rep.Copied
		totalSkipped += rep.Skipped
		totalFailed += len(rep.Failed)
		totalBytes += rep.BytesWritten
	}

	if len(reports) > 1 {
		fmt.Println("\n=== SYNC SUMMARY ===")
		fmt.Printf("Total Copied:  %d\n", totalCopied)
		fmt.Printf("Total Skipped: %d\n", totalSkipped)
		fmt.Printf("Total Failed:  %d\n", totalFailed)
		fmt.Printf("Total Written: %s\n", humanize.IBytes(uint64(totalBytes)))
	}

	if syncErr != nil {
		fmt.Printf("  ERROR: %v\n", syncErr)
		return fmt.Errorf("sync failed: %w", syncErr)
	}
	if totalFailed > 0 {
		return fmt.Errorf("sync completed with %d failures", totalFailed)
	}

	return nil
}

// syncOne runs a single archive, optionally printing progress until it is done
func syncOne(ctx context.Context, coord *engine.Coordinator, archivePath, dest, capability string) (*engine.SyncReport, error) {
	run, err := coord.Sync(ctx, archivePath, dest, capability)
	if err != nil {
		return nil, err
	}

	if syncProgress {
		for {
			updates := run.Updates()
			select {
			case <-run.Done():
				printProgress(run.Snapshot())
				return run.Wait(ctx)
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-updates:
				printProgress(run.Snapshot())
			}
		}
	}

	return run.Wait(ctx)
}

func printProgress(p engine.SyncProgress) {
	fmt.Fprintf(os.Stderr, "\r[%s] %3.0f%%  copied %d/%d  failed %d  skipped %d  %s",
		p.Phase, p.Percent, p.Copied, p.Dispatched, p.Failed, p.Skipped,
		humanize.IBytes(uint64(p.BytesWritten)),
	)
	if p.Phase == engine.PhaseComplete || p.Phase == engine.PhaseFailed {
		fmt.Fprintln(os.Stderr)
	}
}

func printReport(rep *engine.SyncReport) {
	fmt.Printf("\n%s (%s):\n", rep.Archive, rep.Arch)
	fmt.Printf("  Candidates: %d\n", rep.Candidates)
	fmt.Printf("  Copied:     %d\n", rep.Copied)
	fmt.Printf("  Skipped:    %d\n", rep.Skipped)
	fmt.Printf("  Failed:     %d\n", len(rep.Failed))
	fmt.Printf("  Written:    %s\n", humanize.IBytes(uint64(rep.BytesWritten)))
	fmt.Printf("  Duration:   %s\n", rep.Duration().Round(time.Millisecond))

	if rep.DryRun && len(rep.Planned) > 0 {
		fmt.Println("  Would copy:")
		for _, name := range rep.Planned {
			fmt.Printf("    - %s\n", name)
		}
	}

	if len(rep.Failed) > 0 {
		fmt.Println("  Failed entries:")
		for _, f := range rep.Failed {
			fmt.Printf("    - %s: %v\n", f.Name, f.Error)
		}
	}
}
