package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/libsync/internal/arch"
)

func newArchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "arch",
		Short: "Show the detected architecture",
		Long: `Show the capability text read from the host, the architecture tag detected
from it and the token library entries must carry to be selected. A tag set
with sync.arch in the config file takes precedence over detection.`,
		Example: `  libsync arch
  libsync arch --config /etc/libsync/libsync.yaml`,
		RunE: archRun,
	}

	return cmd
}

func archRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	capability := hostCapability(ctx)
	detected := arch.Detect(capability)

	override, err := globalCfg.ArchOverride()
	if err != nil {
		return err
	}

	log.Debug("architecture detected", "capability", capability, "tag", detected.String())

	if capability == "" {
		capability = "(unavailable)"
	}
	fmt.Printf("Capability: %s\n", capability)
	fmt.Printf("Detected:   %s\n", detected)
	effective := detected
	if override != nil {
		effective = *override
		fmt.Printf("Configured: %s\n", effective)
	}
	fmt.Printf("Token:      %s\n", effective.Token())

	return nil
}
