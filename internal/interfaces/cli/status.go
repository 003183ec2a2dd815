package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/pkg/client"
	"github.com/turtacn/molgfn/pkg/errors"
)

// clientLogger forwards SDK traces to the CLI logger.
type clientLogger struct{ l logging.Logger }

func (c clientLogger) Debugf(format string, args ...interface{}) { c.l.Debug(fmt.Sprintf(format, args...)) }
func (c clientLogger) Infof(format string, args ...interface{})  { c.l.Info(fmt.Sprintf(format, args...)) }
func (c clientLogger) Errorf(format string, args ...interface{}) { c.l.Error(fmt.Sprintf(format, args...)) }

// statusView renders a live run as key/value rows.
type statusView struct {
	*client.Status
	Ready *client.Health `json:"ready,omitempty"`
}

func (v statusView) TableHeaders() []string { return []string{"FIELD", "VALUE"} }

func (v statusView) TableRows() [][]string {
	rows := [][]string{
		{"run", v.RunID},
		{"task", v.Task + "/" + v.Algo},
		{"state", v.State},
		{"step", fmt.Sprintf("%d/%d (%.1f%%)", v.Step, v.TotalSteps, 100*v.Progress())},
	}
	if v.LastCheckpoint != "" {
		rows = append(rows, []string{"checkpoint", v.LastCheckpoint})
	}
	if v.Error != "" {
		rows = append(rows, []string{"error", v.Error})
	}
	rows = append(rows, metricRows("train.", v.LastMetrics)...)
	rows = append(rows, metricRows("valid.", v.LastValidation)...)
	if v.Ready != nil {
		rows = append(rows, []string{"ready", strconv.FormatBool(v.Ready.Ready())})
		names := make([]string, 0, len(v.Ready.Components))
		for name := range v.Ready.Components {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			c := v.Ready.Components[name]
			val := c.Status
			if c.Error != "" {
				val += ": " + c.Error
			}
			rows = append(rows, []string{"component." + name, val})
		}
	}
	return rows
}

func (v statusView) String() string {
	return FormatTable(v.TableHeaders(), v.TableRows())
}

func metricRows(prefix string, m map[string]float64) [][]string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([][]string, len(keys))
	for i, k := range keys {
		rows[i] = []string{prefix + k, strconv.FormatFloat(m[k], 'g', 6, 64)}
	}
	return rows
}

// serverURL turns a listen address such as ":8080" into a base URL.
func serverURL(addr string) (string, error) {
	switch {
	case addr == "":
		return "", errors.InvalidParam("--server is required when http.addr is not configured")
	case strings.HasPrefix(addr, "http://"), strings.HasPrefix(addr, "https://"):
		return addr, nil
	case strings.HasPrefix(addr, ":"):
		return "http://localhost" + addr, nil
	default:
		return "http://" + addr, nil
	}
}

func newStatusCommand() *cobra.Command {
	var (
		server    string
		withReady bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query the status server of a running trainer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			if server == "" {
				server = cliCtx.Config.HTTP.Addr
			}
			base, err := serverURL(server)
			if err != nil {
				return err
			}
			c, err := client.NewClient(base,
				client.WithLogger(clientLogger{cliCtx.Logger.Named("client")}),
				client.WithCaller("molgfn-cli", Version),
			)
			if err != nil {
				return err
			}
			s, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			view := statusView{Status: s}
			if withReady {
				if view.Ready, err = c.Ready(cmd.Context()); err != nil {
					return err
				}
			}
			return PrintResult(cmd, view)
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "status server URL or address (default http.addr)")
	cmd.Flags().BoolVar(&withReady, "ready", false, "include the readiness report")
	return cmd
}
