package cli

import (
	"encoding/json"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/turtacn/molgfn/internal/domain/molecule"
	"github.com/turtacn/molgfn/internal/infrastructure/database/neo4j"
)

// usageTable renders fragment usage counts.
type usageTable struct {
	rows  []neo4j.FragmentUsage
	names func(int) string
}

func (t usageTable) TableHeaders() []string {
	return []string{"FRAGMENT", "NAME", "MOLECULES", "USES"}
}

func (t usageTable) TableRows() [][]string {
	rows := make([][]string, len(t.rows))
	for i, u := range t.rows {
		rows[i] = []string{
			strconv.Itoa(u.Fragment),
			t.names(u.Fragment),
			strconv.FormatInt(u.Molecules, 10),
			strconv.FormatInt(u.Uses, 10),
		}
	}
	return rows
}

func (t usageTable) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.rows)
}

func newFragmentsCommand() *cobra.Command {
	var run string
	cmd := &cobra.Command{
		Use:   "fragments",
		Short: "Show how often each fragment occurs in the exported molecules of a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			id, err := parseRunID(run)
			if err != nil {
				return err
			}
			st, err := newStack(cliCtx.Config, cliCtx.Logger)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			d, err := st.neo4jDriver(cmd.Context())
			if err != nil {
				return err
			}
			names := fragmentNames(molecule.NewDescriptorToolkit(nil).Vocabulary())
			usage, err := neo4j.NewGraphExporter(d, names).FragmentUsage(cmd.Context(), id.String())
			if err != nil {
				return err
			}
			return PrintResult(cmd, usageTable{rows: usage, names: names})
		},
	}
	cmd.Flags().StringVar(&run, "run", "", "run id")
	return cmd
}
