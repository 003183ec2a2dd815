package cli

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/turtacn/molgfn/internal/config"
	"github.com/turtacn/molgfn/internal/domain/experiment"
	"github.com/turtacn/molgfn/pkg/errors"
)

// Sample sources of the samples command.
const (
	sourceStore = "store"
	sourceIndex = "index"
)

// sampleTable renders validation samples.
type sampleTable []experiment.Sample

func (t sampleTable) TableHeaders() []string {
	return []string{"STEP", "KEY", "LOG_REWARD", "FLAT_REWARDS", "FRAGMENTS"}
}

func (t sampleTable) TableRows() [][]string {
	rows := make([][]string, len(t))
	for i, s := range t {
		rows[i] = []string{
			strconv.Itoa(s.Step),
			s.Key,
			strconv.FormatFloat(s.LogReward, 'f', 4, 64),
			joinFloats(s.FlatRewards),
			joinInts(s.Fragments),
		}
	}
	return rows
}

func joinFloats(xs []float64) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.FormatFloat(x, 'f', 3, 64)
	}
	return strings.Join(parts, ",")
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ",")
}

func parseRunID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, errors.InvalidParam("--run is required")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, errors.InvalidParam("invalid run id").WithDetail(s)
	}
	return id, nil
}

func newSamplesCommand() *cobra.Command {
	var (
		run    string
		limit  int
		source string
	)
	cmd := &cobra.Command{
		Use:   "samples",
		Short: "List the best validation samples of a run",
		Long: "samples reads the highest-reward samples of a run from the results store or,\n" +
			"with --source index, from the OpenSearch sample index.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			id, err := parseRunID(run)
			if err != nil {
				return err
			}
			if limit <= 0 {
				return errors.InvalidParam("--limit must be positive")
			}
			st, err := newStack(cliCtx.Config, cliCtx.Logger)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			var samples []experiment.Sample
			switch source {
			case sourceStore:
				switch cliCtx.Config.Run.ResultsStore {
				case config.StorePostgres, config.StoreSQLite:
				default:
					return errors.InvalidConfig("samples needs a persistent results store").
						WithDetail(cliCtx.Config.Run.ResultsStore)
				}
				repo, err := st.store(cmd.Context())
				if err != nil {
					return err
				}
				if samples, err = repo.TopSamples(cmd.Context(), id, limit); err != nil {
					return err
				}
			case sourceIndex:
				c, err := st.opensearchClient(cmd.Context())
				if err != nil {
					return err
				}
				if samples, err = c.TopSamples(cmd.Context(), id, limit); err != nil {
					return err
				}
			default:
				return errors.InvalidParam("unknown sample source").WithDetail(source)
			}
			return PrintResult(cmd, sampleTable(samples))
		},
	}
	cmd.Flags().StringVar(&run, "run", "", "run id")
	cmd.Flags().IntVar(&limit, "limit", 10, "number of samples")
	cmd.Flags().StringVar(&source, "source", sourceStore, "sample source: store or index")
	return cmd
}
