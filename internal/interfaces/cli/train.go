package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/turtacn/molgfn/internal/application/training"
	"github.com/turtacn/molgfn/internal/config"
	"github.com/turtacn/molgfn/internal/domain/molecule"
	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/internal/intelligence/reward"
	httpapi "github.com/turtacn/molgfn/internal/interfaces/http"
	"github.com/turtacn/molgfn/internal/interfaces/http/handlers"
)

type trainFlags struct {
	logDir     string
	dataDir    string
	tracking   []string
	part       int
	totalParts int
	overwrite  bool
	store      string
	serve      string
	steps      int
	seed       int64
}

func newTrainCommand() *cobra.Command {
	f := &trainFlags{}
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a GFlowNet on the configured task",
		Long: "train runs one experiment: it prepares log_dir, samples trajectories from the policy,\n" +
			"scores them with the reward proxy and optimizes the configured objective.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			applyTrainFlags(cmd, cliCtx.Config, f)
			if err := cliCtx.Config.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runTrain(ctx, cliCtx)
		},
	}
	bindTrainFlags(cmd, f)
	return cmd
}

func bindTrainFlags(cmd *cobra.Command, f *trainFlags) {
	fl := cmd.Flags()
	fl.StringVar(&f.logDir, "log-dir", "", "experiment directory (run.log_dir)")
	fl.StringVar(&f.dataDir, "data-dir", "", "offline data and partition directory (run.data_dir)")
	fl.StringSliceVar(&f.tracking, "tracking", nil, "tracking destinations: file, prometheus, kafka")
	fl.IntVar(&f.part, "part", -1, "data partition to train on")
	fl.IntVar(&f.totalParts, "total-parts", 0, "number of data partitions")
	fl.BoolVar(&f.overwrite, "overwrite", false, "replace an existing experiment in log_dir")
	fl.StringVar(&f.store, "results-store", "", "results store: none, memory, postgres, sqlite")
	fl.StringVar(&f.serve, "serve", "", "status server address (http.addr)")
	fl.IntVar(&f.steps, "steps", 0, "number of training steps (hps.num_training_steps)")
	fl.Int64Var(&f.seed, "seed", 0, "random seed (hps.seed)")
}

// applyTrainFlags copies the flags the user set onto cfg.
func applyTrainFlags(cmd *cobra.Command, cfg *config.Config, f *trainFlags) {
	changed := cmd.Flags().Changed
	if changed("log-dir") {
		cfg.Run.LogDir = f.logDir
	}
	if changed("data-dir") {
		cfg.Run.DataDir = f.dataDir
	}
	if changed("tracking") {
		cfg.Run.Tracking = f.tracking
	}
	if changed("part") {
		cfg.Run.Part = f.part
	}
	if changed("total-parts") {
		cfg.Run.TotalParts = f.totalParts
	}
	if changed("overwrite") {
		cfg.Run.OverwriteExistingExp = f.overwrite
	}
	if changed("results-store") {
		cfg.Run.ResultsStore = f.store
	}
	if changed("serve") {
		cfg.HTTP.Addr = f.serve
	}
	if changed("steps") {
		cfg.HPS.NumTrainingSteps = f.steps
	}
	if changed("seed") {
		cfg.HPS.Seed = f.seed
	}
}

// needsProxy reports whether the configured task scores the seh objective.
func needsProxy(h *config.Hyperparameters) bool {
	if !h.MultiObjective() {
		return true
	}
	for _, o := range h.Objectives {
		if o == reward.ObjectiveSEH {
			return true
		}
	}
	return false
}

func runTrain(ctx context.Context, cliCtx *CLIContext) error {
	cfg, logger := cliCtx.Config, cliCtx.Logger
	st, err := newStack(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if cliCtx.ConfigPath != "" {
		config.Watch(cliCtx.ConfigPath, func(next *config.Config) {
			if logging.SetLevel(logger, next.Log.Level) {
				logger.Info("log level reloaded", logging.String("level", next.Log.Level))
			}
		})
	}

	runID := uuid.New()
	tk := molecule.NewDescriptorToolkit(nil)
	deps := training.Deps{
		Logger:  logger,
		Toolkit: tk,
		Status:  training.NewStatusBoard(),
		RunID:   runID,
	}
	if needsProxy(&cfg.HPS) {
		if deps.Proxy, err = st.proxy(ctx); err != nil {
			return err
		}
	}
	if deps.Sink, err = st.sinks(ctx, runID.String()); err != nil {
		return err
	}
	if deps.Repository, err = st.store(ctx); err != nil {
		return err
	}
	if deps.Mirror, err = st.mirror(ctx); err != nil {
		return err
	}
	if deps.Exporters, err = st.exporters(ctx, tk.Vocabulary()); err != nil {
		return err
	}

	trainer, err := training.New(cfg, deps)
	if err != nil {
		return err
	}
	defer func() { _ = trainer.Close() }()

	if cfg.HTTP.Addr != "" {
		srv := statusServer(cfg, st, deps)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("status server stopped", logging.Err(err))
			}
		}()
		defer func() { _ = srv.Stop(context.Background()) }()
	}

	if err := trainer.Setup(ctx); err != nil {
		return err
	}
	logger.Info("training started", logging.String("run_id", trainer.RunID().String()),
		logging.String("log_dir", cfg.Run.LogDir))
	return trainer.Run(ctx)
}

// statusServer mounts the status API, probes and metrics of a training run.
func statusServer(cfg *config.Config, st *stack, deps training.Deps) *httpapi.Server {
	router := httpapi.NewRouter(httpapi.RouterConfig{
		Mode:           cfg.HTTP.Mode,
		StatusHandler:  handlers.NewStatusHandler(deps.Status, deps.Repository),
		HealthHandler:  handlers.NewHealthHandler(Version, st.checks...),
		MetricsHandler: st.collector.Handler(),
		Metrics:        st.metrics,
		Logger:         st.logger,
	})
	return httpapi.NewServer(cfg.HTTP, router, st.logger)
}
