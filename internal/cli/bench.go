package cli

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/LeJamon/vmapd/internal/pipeline"
	"github.com/LeJamon/vmapd/internal/storage/nodestore"
	"github.com/LeJamon/vmapd/internal/vmap"
)

// benchOptions describes a synthetic family workload.
type benchOptions struct {
	Rounds        int
	KeysPerRound  int
	KeySpace      int
	ValueSize     int
	Readers       int
	ReadsPerCopy  int
	DeleteEvery   int
	FlushInterval uint64
	Seed          int64
}

// benchResult summarizes a finished workload.
type benchResult struct {
	Rounds       int
	Writes       int64
	Deletes      int64
	Reads        int64
	Hits         int64
	FinalVersion uint64
	FinalHash    nodestore.Hash256
	Pipeline     pipeline.Stats
	Batch        nodestore.BatchWriterStats
	Duration     time.Duration
}

var benchOpts = benchOptions{
	Rounds:       200,
	KeysPerRound: 100,
	KeySpace:     10000,
	ValueSize:    64,
	Readers:      4,
	ReadsPerCopy: 50,
	DeleteEvery:  10,
	Seed:         1,
}

// benchCmd represents the bench command
var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run a synthetic copy workload against the configured node store",
	Long: `Bench opens a map family on the configured node store and runs a number
of rounds. Each round writes a batch of keys to the mutable copy, copies it,
lets concurrent readers query the frozen copy and then releases it. The
pipeline flushes every flush-interval'th copy and merges the rest.

The last copy is always flushed so the store ends at a consistent version.

Example:
    vmapd bench --rounds 500 --keys 200
    vmapd bench --conf vmapd.toml --readers 8 --flush-interval 10`,
	Args: cobra.NoArgs,
	RunE: runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)

	benchCmd.Flags().IntVar(&benchOpts.Rounds, "rounds", benchOpts.Rounds, "number of copies to create")
	benchCmd.Flags().IntVar(&benchOpts.KeysPerRound, "keys", benchOpts.KeysPerRound, "keys written per copy")
	benchCmd.Flags().IntVar(&benchOpts.KeySpace, "key-space", benchOpts.KeySpace, "number of distinct keys")
	benchCmd.Flags().IntVar(&benchOpts.ValueSize, "value-size", benchOpts.ValueSize, "value size in bytes")
	benchCmd.Flags().IntVar(&benchOpts.Readers, "readers", benchOpts.Readers, "concurrent readers per copy")
	benchCmd.Flags().IntVar(&benchOpts.ReadsPerCopy, "reads", benchOpts.ReadsPerCopy, "reads per reader per copy")
	benchCmd.Flags().IntVar(&benchOpts.DeleteEvery, "delete-every", benchOpts.DeleteEvery, "delete instead of write every n-th key (0 disables)")
	benchCmd.Flags().Uint64Var(&benchOpts.FlushInterval, "flush-interval", 0, "flush every n-th copy (default from [map] flush_interval)")
	benchCmd.Flags().Int64Var(&benchOpts.Seed, "seed", benchOpts.Seed, "random seed")
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadSettings()
	if err != nil {
		return err
	}
	defer logger.Sync()

	mcfg := cfg.MapSettings()
	if benchOpts.FlushInterval > 0 {
		mcfg.FlushInterval = benchOpts.FlushInterval
	}

	source, err := vmap.OpenDataSource(cfg.NodeDB.NodeStoreConfig())
	if err != nil {
		return fmt.Errorf("open node store: %w", err)
	}

	printf(cmd, "Running %d rounds of %d keys against %s\n",
		benchOpts.Rounds, benchOpts.KeysPerRound, cfg.NodeDB.GetType())
	result, err := benchmark(cmd.Context(), source, mcfg, benchOpts, logger)
	if err != nil {
		return err
	}
	printBenchResult(cmd, result)
	return nil
}

// benchmark runs the workload on a new family over source. The family owns
// source and closes it before benchmark returns.
func benchmark(ctx context.Context, source *vmap.DataSource, mcfg vmap.Config, opts benchOptions, logger *zap.Logger) (*benchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.KeySpace < 1 || opts.ValueSize < 1 {
		return nil, fmt.Errorf("key-space and value-size must be positive")
	}

	m, err := vmap.Open(ctx, source, mcfg,
		vmap.WithLogger(logger),
		vmap.WithRegisterer(prometheus.NewRegistry()))
	if err != nil {
		_ = source.Close()
		return nil, err
	}
	p := m.Pipeline()
	defer p.Terminate()

	rng := rand.New(rand.NewSource(opts.Seed))
	result := &benchResult{Rounds: opts.Rounds}
	var reads, hits atomic.Int64
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for r := 0; r < opts.Rounds; r++ {
		for k := 0; k < opts.KeysPerRound; k++ {
			key := benchKey(rng.Intn(opts.KeySpace))
			if opts.DeleteEvery > 0 && k%opts.DeleteEvery == opts.DeleteEvery-1 {
				if err := m.Delete(key); err != nil {
					return nil, err
				}
				result.Deletes++
				continue
			}
			value := make([]byte, opts.ValueSize)
			rng.Read(value)
			if err := m.Put(key, value); err != nil {
				return nil, err
			}
			result.Writes++
		}

		next, err := m.Copy(ctx)
		if err != nil {
			return nil, err
		}

		frozen := m
		for i := 0; i < opts.Readers; i++ {
			if err := frozen.Reserve(); err != nil {
				return nil, err
			}
			seed := rng.Int63()
			g.Go(func() error {
				defer frozen.Release()
				rr := rand.New(rand.NewSource(seed))
				for j := 0; j < opts.ReadsPerCopy; j++ {
					_, ok, err := frozen.Get(gctx, benchKey(rr.Intn(opts.KeySpace)))
					if err != nil {
						return err
					}
					reads.Add(1)
					if ok {
						hits.Add(1)
					}
				}
				return nil
			})
		}
		if err := frozen.Release(); err != nil {
			return nil, err
		}
		m = next
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := m.SetShouldBeFlushed(true); err != nil {
		return nil, err
	}
	last, err := m.Copy(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.Release(); err != nil {
		return nil, err
	}
	if err := m.WaitUntilFlushed(ctx); err != nil {
		return nil, err
	}
	if result.FinalHash, err = m.Hash(); err != nil {
		return nil, err
	}
	result.FinalVersion = m.Version()
	result.Batch = source.BatchStats()

	if err := last.Release(); err != nil {
		return nil, err
	}
	<-p.Done()
	if err := p.TerminatedByError(); err != nil {
		return nil, err
	}

	result.Reads = reads.Load()
	result.Hits = hits.Load()
	result.Pipeline = p.Stats()
	result.Duration = time.Since(start)
	return result, nil
}

func benchKey(i int) vmap.Key {
	return vmap.KeyOf(fmt.Appendf(nil, "bench/%d", i))
}

func printBenchResult(cmd *cobra.Command, r *benchResult) {
	printf(cmd, "--- Bench Result ---\n")
	printf(cmd, "Rounds:          %d\n", r.Rounds)
	printf(cmd, "Writes:          %d\n", r.Writes)
	printf(cmd, "Deletes:         %d\n", r.Deletes)
	printf(cmd, "Reads:           %d (%d hits)\n", r.Reads, r.Hits)
	printf(cmd, "Hashes:          %d\n", r.Pipeline.Hashes)
	printf(cmd, "Flushes:         %d\n", r.Pipeline.Flushes)
	printf(cmd, "Merges:          %d\n", r.Pipeline.Merges)
	printf(cmd, "Last pause:      %v\n", r.Pipeline.LastPause)
	printf(cmd, "Final version:   %d\n", r.FinalVersion)
	printf(cmd, "Final hash:      %s\n", r.FinalHash)
	printf(cmd, "%s\n", r.Batch)
	printf(cmd, "Duration:        %v\n", r.Duration)
}
