package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/LeJamon/vmapd/internal/vmap"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot [dest]",
	Short: "Write the last flushed state to a new node store",
	Long: `Snapshot opens a family on the configured node store and writes the
state of its first copy, which equals the last flushed state, into a fresh
store of the same backend type at dest.

Example:
    vmapd snapshot ./snapshots/latest`,
	Args: cobra.ExactArgs(1),
	RunE: runSnapshot,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadSettings()
	if err != nil {
		return err
	}
	defer logger.Sync()

	source, err := vmap.OpenDataSource(cfg.NodeDB.NodeStoreConfig())
	if err != nil {
		return fmt.Errorf("open node store: %w", err)
	}
	version, err := snapshotFamily(cmd.Context(), source, cfg.MapSettings(), args[0], logger)
	if err != nil {
		return err
	}
	printf(cmd, "Snapshot of version %d written to: %s\n", version, args[0])
	return nil
}

// snapshotFamily writes the state of a new family's first copy to dest and
// shuts the family down. It returns the version that was written.
func snapshotFamily(ctx context.Context, source *vmap.DataSource, mcfg vmap.Config, dest string, logger *zap.Logger) (uint64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	first, err := vmap.Open(ctx, source, mcfg, vmap.WithLogger(logger))
	if err != nil {
		_ = source.Close()
		return 0, err
	}
	p := first.Pipeline()
	defer p.Terminate()

	// The first copy must be immutable to be snapshotted. Neither copy is
	// released, so nothing is flushed before the family terminates.
	if _, err := first.Copy(ctx); err != nil {
		return 0, err
	}
	if err := first.SnapshotTo(dest); err != nil {
		return 0, err
	}
	return first.Version(), nil
}
