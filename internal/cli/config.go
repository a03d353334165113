package cli

import (
	"github.com/spf13/cobra"

	"github.com/LeJamon/vmapd/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write an example configuration file",
	Long: `Write an example configuration file with every supported section.

Example:
    vmapd config init ./vmapd.toml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SaveExampleConfig(args[0]); err != nil {
			return err
		}
		printf(cmd, "Example configuration written to: %s\n", args[0])
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadSettings()
		if err != nil {
			return err
		}
		printf(cmd, "[pipeline]\n  copy_flush_threshold = %d\n  family_throttle_threshold = %d\n",
			cfg.Pipeline.CopyFlushThreshold, cfg.Pipeline.FamilyThrottleThreshold)
		printf(cmd, "[map]\n  label = %q\n  flush_interval = %d\n  max_pending_entries = %d\n",
			cfg.Map.Label, cfg.Map.FlushInterval, cfg.Map.MaxPendingEntries)
		printf(cmd, "[node_db]\n  %s\n", cfg.NodeDB.NodeStoreConfig())
		printf(cmd, "[log]\n  level = %q\n  format = %q\n", cfg.Log.Level, cfg.Log.Format)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}
