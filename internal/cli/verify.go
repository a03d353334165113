package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LeJamon/vmapd/internal/storage/nodestore"
)

var (
	verifyStopOnError bool
	verifyMaxCorrupt  int
)

var verifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Decode and check every node in a node store",
	Long: `Verify walks every node of the configured node store, or of the store at
path (for example a snapshot directory), and checks that each node decodes,
is well formed and is not newer than the last flush record.

Example:
    vmapd verify
    vmapd verify ./snapshots/v120 --stop-on-error`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().BoolVar(&verifyStopOnError, "stop-on-error", false, "stop at the first corrupt node")
	verifyCmd.Flags().IntVar(&verifyMaxCorrupt, "max-corrupt", 100, "maximum number of corrupt keys to report")
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadSettings()
	if err != nil {
		return err
	}
	defer logger.Sync()

	nsCfg := cfg.NodeDB.NodeStoreConfig()
	nsCfg.CreateIfMissing = false
	if len(args) == 1 {
		nsCfg.Path = args[0]
	}
	db, err := nodestore.Open(nsCfg)
	if err != nil {
		return fmt.Errorf("open node store: %w", err)
	}
	defer db.Close()

	opts := nodestore.DefaultVerifyOptions()
	opts.StopOnFirstError = verifyStopOnError
	opts.MaxCorruptNodes = verifyMaxCorrupt
	opts.ProgressCallback = func(n int64) {
		printf(cmd, "  verified %d nodes\n", n)
	}

	result, err := nodestore.Verify(db, opts)
	if err != nil {
		return err
	}
	printf(cmd, "%s\n", result)
	for _, k := range result.CorruptKeys {
		printf(cmd, "  corrupt: %s\n", k)
	}
	if !result.IsValid() {
		return fmt.Errorf("%d corrupt nodes in %s", result.CorruptNodes, nsCfg.Path)
	}
	return nil
}
