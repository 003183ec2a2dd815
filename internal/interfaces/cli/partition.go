package cli

import (
	"context"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/molgfn/internal/application/training"
	"github.com/turtacn/molgfn/internal/domain/molecule"
	"github.com/turtacn/molgfn/internal/infrastructure/database/redis"
	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/internal/intelligence/env"
	"github.com/turtacn/molgfn/internal/intelligence/reward"
	"github.com/turtacn/molgfn/pkg/errors"
)

type partitionFlags struct {
	dataDir      string
	totalParts   int
	numMolecules int
	maxIter      int
}

// partitionResult renders a PartitionReport.
type partitionResult struct {
	*training.PartitionReport
	DataDir string `json:"data_dir"`
}

func (r partitionResult) TableHeaders() []string { return []string{"PART", "MOLECULES"} }

func (r partitionResult) TableRows() [][]string {
	rows := make([][]string, len(r.PartSizes))
	for i, n := range r.PartSizes {
		rows[i] = []string{strconv.Itoa(i), strconv.Itoa(n)}
	}
	return rows
}

func newPartitionCommand() *cobra.Command {
	f := &partitionFlags{}
	cmd := &cobra.Command{
		Use:   "partition",
		Short: "Fit the k-means data partition used by sharded runs",
		Long: "partition clusters the offline training set of data_dir into total_parts parts by\n" +
			"Morgan fingerprint and writes the classifier and part index next to it.  A missing\n" +
			"training set is generated from random rollouts first.  With Redis configured the\n" +
			"work is serialized across hosts by a lock on data_dir.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			cfg := cliCtx.Config
			if cmd.Flags().Changed("data-dir") {
				cfg.Run.DataDir = f.dataDir
			}
			if cmd.Flags().Changed("total-parts") {
				cfg.Run.TotalParts = f.totalParts
			}
			opts := training.PartitionOptions{
				DataDir:      cfg.Run.DataDir,
				TotalParts:   cfg.Run.TotalParts,
				NumMolecules: f.numMolecules,
				MaxLen:       cfg.HPS.MaxLen,
				MaxIter:      f.maxIter,
				Seed:         uint64(cfg.HPS.Seed),
			}
			if opts.DataDir == "" || opts.TotalParts < 2 {
				return errors.InvalidParam("--data-dir and --total-parts >= 2 are required")
			}
			report, err := runPartition(cmd.Context(), cliCtx, opts)
			if err != nil {
				return err
			}
			return PrintResult(cmd, partitionResult{PartitionReport: report, DataDir: opts.DataDir})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.dataDir, "data-dir", "", "directory holding the offline training set")
	fl.IntVar(&f.totalParts, "total-parts", 0, "number of partitions")
	fl.IntVar(&f.numMolecules, "num-molecules", 10000, "size of a generated training set")
	fl.IntVar(&f.maxIter, "max-iter", 300, "k-means iteration limit")
	return cmd
}

func runPartition(ctx context.Context, cliCtx *CLIContext, opts training.PartitionOptions) (*training.PartitionReport, error) {
	cfg, logger := cliCtx.Config, cliCtx.Logger
	st, err := newStack(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer func() { _ = st.Close() }()

	tk := molecule.NewDescriptorToolkit(nil)
	e, err := env.New(tk.Vocabulary(), cfg.HPS.MaxNodes)
	if err != nil {
		return nil, err
	}
	ropts := reward.Options{Logger: logger}
	if cfg.HPS.MultiObjective() {
		ropts.Mode = reward.MultiObjective
		ropts.Objectives = cfg.HPS.Objectives
	}
	agg, err := newPartitionAggregator(ctx, st, tk, ropts)
	if err != nil {
		return nil, err
	}

	var report *training.PartitionReport
	work := func(ctx context.Context) error {
		var err error
		report, err = training.PreparePartitions(ctx, opts, e, tk, agg, logger)
		return err
	}
	if cfg.Redis.Addr == "" {
		if err := work(ctx); err != nil {
			return nil, err
		}
		return report, nil
	}
	rc, err := st.redisClient(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("acquiring partition lock", logging.String("data_dir", opts.DataDir))
	if err := redis.WithLock(ctx, rc, "partition:"+opts.DataDir, work,
		redis.WithLockTTL(time.Minute), redis.WithWatchdog(20*time.Second)); err != nil {
		return nil, err
	}
	return report, nil
}

func newPartitionAggregator(ctx context.Context, st *stack, tk molecule.Toolkit, opts reward.Options) (*reward.Aggregator, error) {
	if !needsProxy(&st.cfg.HPS) {
		return reward.NewAggregator(tk, nil, opts)
	}
	proxy, err := st.proxy(ctx)
	if err != nil {
		return nil, err
	}
	return reward.NewAggregator(tk, proxy, opts)
}
