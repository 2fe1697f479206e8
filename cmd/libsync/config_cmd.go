package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage libsync configuration. Subcommands allow viewing and modifying
configuration settings.`,
		Example: `  libsync config show
  libsync config set sync.workers 4`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigSetCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the current configuration in YAML format. If a config file
is loaded, shows the loaded configuration with any command-line overrides
applied.`,
		Example: `  libsync config show
  libsync config show --config /etc/libsync/libsync.yaml`,
		RunE: configShowRun,
	}

	return cmd
}

func configShowRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	log.Debug("showing configuration", "path", cfgPath)

	data, err := globalCfg.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	fmt.Println("Current Configuration:")
	fmt.Println("======================")
	fmt.Println(string(data))

	return nil
}

func newConfigSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a configuration value",
		Long: `Set a configuration value using dot-notation for nested keys.
Changes are written back to the config file, or to ./libsync.yaml when no
config file was found.

Keys:
  store.db_path
  sync.dest_dir
  sync.arch
  sync.cpuinfo_path
  sync.workers
  sync.archive_concurrency
  sync.archives (comma-separated)
  watch.debounce
  watch.listen`,
		Example: `  libsync config set sync.workers 4
  libsync config set sync.archives /data/a.apk,/data/b.apk`,
		Args: cobra.ExactArgs(2),
		RunE: configSetRun,
	}

	return cmd
}

func configSetRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	key := args[0]
	value := args[1]

	if err := globalCfg.Set(key, value); err != nil {
		return err
	}

	path := cfgPath
	if path == "" {
		path = "libsync.yaml"
	}
	if err := globalCfg.Save(path); err != nil {
		return err
	}

	log.Info("set configuration", "key", key, "value", value, "path", path)
	fmt.Printf("Set %s = %s in %s\n", key, value, path)

	return nil
}
