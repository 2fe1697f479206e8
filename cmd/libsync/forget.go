package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var forgetAll bool

func newForgetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forget [entry...]",
		Short: "Drop recorded timestamps so libraries are copied again",
		Long: `Drop the recorded archive timestamp of the named entries. The next sync
copies them again even if the archive did not change. Entries are named by
their path inside the archive, for example lib/armeabi/libfoo.so.`,
		Example: `  libsync forget lib/armeabi/libfoo.so
  libsync forget --all`,
		RunE: forgetRun,
	}

	cmd.Flags().BoolVar(&forgetAll, "all", false, "forget every recorded entry")

	return cmd
}

func forgetRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalStore == nil {
		return fmt.Errorf("store not initialized")
	}

	if forgetAll {
		if len(args) > 0 {
			return fmt.Errorf("--all cannot be combined with entry names")
		}
		n, err := globalStore.DeleteAllEntryRecords()
		if err != nil {
			return err
		}
		log.Info("forgot all entries", "count", n)
		fmt.Printf("Forgot %d entries\n", n)
		return nil
	}

	if len(args) == 0 {
		return fmt.Errorf("name at least one entry or pass --all")
	}

	missing := 0
	for _, name := range args {
		existed, err := globalStore.DeleteEntryRecord(name)
		if err != nil {
			return err
		}
		if !existed {
			missing++
			fmt.Printf("  not recorded: %s\n", name)
			continue
		}
		log.Info("forgot entry", "entry", name)
		fmt.Printf("  forgot: %s\n", name)
	}

	if missing == len(args) {
		return fmt.Errorf("none of the named entries were recorded")
	}
	return nil
}
