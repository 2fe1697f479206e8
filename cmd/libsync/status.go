package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	statusFailed  bool
	statusArchive string
	statusRuns    int
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Display recorded libraries and recent sync runs",
		Long: `Display the libraries whose timestamps are recorded, together with the most
recent sync runs. Use --failed to list only copies that failed and have not
succeeded since.`,
		Example: `  libsync status
  libsync status --archive /data/app/plugin.apk
  libsync status --failed`,
		RunE: statusRun,
	}

	cmd.Flags().BoolVar(&statusFailed, "failed", false, "show only unresolved failed copies")
	cmd.Flags().StringVar(&statusArchive, "archive", "", "limit output to one archive")
	cmd.Flags().IntVar(&statusRuns, "runs", 5, "number of recent sync runs to show")

	return cmd
}

func statusRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalStore == nil {
		return fmt.Errorf("store not initialized")
	}

	if statusArchive != "" {
		abs, err := filepath.Abs(statusArchive)
		if err != nil {
			return fmt.Errorf("resolving archive path: %w", err)
		}
		statusArchive = abs
	}

	log.Debug("status request", "archive", statusArchive, "failed_only", statusFailed)

	if statusFailed {
		return printFailedEntries()
	}

	records, err := globalStore.ListEntryRecords(statusArchive)
	if err != nil {
		return fmt.Errorf("failed to list entries: %w", err)
	}

	fmt.Println("Recorded Libraries")
	fmt.Println("==================")
	fmt.Println("")

	if len(records) == 0 {
		fmt.Println("No libraries recorded")
	} else {
		fmt.Printf("%-40s %10s %-16s %s\n", "Entry", "Size", "Copied", "Destination")
		fmt.Println(strings.Repeat("-", 90))

		var total int64
		for _, rec := range records {
			total += rec.Size
			fmt.Printf("%-40s %10s %-16s %s\n",
				rec.Name,
				humanize.IBytes(uint64(rec.Size)),
				humanize.Time(rec.CopiedAt),
				rec.DestPath,
			)
		}
		fmt.Println("")
		fmt.Printf("%s libraries, %s\n", humanize.Comma(int64(len(records))), humanize.IBytes(uint64(total)))
	}

	runs, err := globalStore.ListSyncRuns(statusArchive, statusRuns)
	if err != nil {
		return fmt.Errorf("failed to list sync runs: %w", err)
	}

	fmt.Println("")
	fmt.Println("Recent Sync Runs")
	fmt.Println("================")
	fmt.Println("")

	if len(runs) == 0 {
		fmt.Println("No sync runs recorded")
		return nil
	}

	fmt.Printf("%-16s %-8s %-5s %7s %7s %7s %10s  %s\n", "Started", "Status", "Arch", "Copied", "Skipped", "Failed", "Written", "Archive")
	fmt.Println(strings.Repeat("-", 90))
	for _, run := range runs {
		fmt.Printf("%-16s %-8s %-5s %7d %7d %7d %10s  %s\n",
			humanize.Time(run.StartTime),
			run.Status,
			run.Arch,
			run.EntriesCopied,
			run.EntriesSkipped,
			run.EntriesFailed,
			humanize.IBytes(uint64(run.BytesWritten)),
			run.Archive,
		)
	}

	return nil
}

func printFailedEntries() error {
	failed, err := globalStore.ListFailedEntries(statusArchive)
	if err != nil {
		return fmt.Errorf("failed to list failed entries: %w", err)
	}

	if len(failed) == 0 {
		fmt.Println("No failed copies")
		return nil
	}

	fmt.Println("Failed Copies")
	fmt.Println("=============")
	fmt.Println("")
	for _, f := range failed {
		fmt.Printf("%s\n", f.EntryName)
		fmt.Printf("  Archive:   %s\n", f.Archive)
		fmt.Printf("  Dest:      %s\n", f.DestPath)
		fmt.Printf("  Attempts:  %d (last %s)\n", f.RetryCount, humanize.Time(f.LastFailure))
		fmt.Printf("  Error:     %s\n", f.Error)
	}

	return nil
}
