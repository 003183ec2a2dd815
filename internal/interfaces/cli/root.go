// Package cli implements the molgfn command tree.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/molgfn/internal/config"
	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/pkg/errors"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// skipConfigAnnotation marks commands that run without loading configuration.
const skipConfigAnnotation = "molgfn/skip-config"

type cliContextKey struct{}

// RootOptions holds global CLI flags.
type RootOptions struct {
	ConfigPath   string
	LogLevel     string
	OutputFormat string
	Verbose      bool
}

// CLIContext carries the loaded configuration and logger through the
// command tree.
type CLIContext struct {
	Config       *config.Config
	Logger       logging.Logger
	ConfigPath   string
	OutputFormat string
}

// NewRootCommand creates the root command with every subcommand attached.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "molgfn",
		Short: "GFlowNet trainer for fragment-based molecule generation",
		Long: "molgfn trains generative flow networks that build molecules fragment by fragment,\n" +
			"rewarded by a binding-affinity proxy and optional drug-likeness objectives.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return persistentPreRun(cmd, opts)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file path (environment only when empty)")
	pf.StringVar(&opts.LogLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	pf.StringVarP(&opts.OutputFormat, "output", "o", "text", "output format (text, json, table)")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "shorthand for --log-level debug")

	cmd.AddCommand(
		newTrainCommand(),
		newPartitionCommand(),
		newServeProxyCommand(),
		newTailCommand(),
		newMigrateCommand(),
		newSamplesCommand(),
		newFragmentsCommand(),
		newStatusCommand(),
		newVersionCommand(),
	)
	return cmd
}

func persistentPreRun(cmd *cobra.Command, opts *RootOptions) error {
	if cmd.Annotations[skipConfigAnnotation] == "true" {
		return nil
	}
	cfg, err := config.LoadUnvalidated(opts.ConfigPath)
	if err != nil {
		return err
	}
	logger, err := initLogger(cfg, opts)
	if err != nil {
		return err
	}
	logging.SetDefault(logger)

	cliCtx := &CLIContext{
		Config:       cfg,
		Logger:       logger,
		ConfigPath:   opts.ConfigPath,
		OutputFormat: opts.OutputFormat,
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cliCtx))
	return nil
}

// initLogger applies the flag overrides on top of cfg.Log.  CLI output goes
// to stdout, so logs default to stderr.
func initLogger(cfg *config.Config, opts *RootOptions) (logging.Logger, error) {
	logCfg := cfg.Log
	switch {
	case opts.Verbose:
		logCfg.Level = logging.LevelDebug
	case opts.LogLevel != "":
		logCfg.Level = strings.ToLower(opts.LogLevel)
	}
	if len(logCfg.OutputPaths) == 0 {
		logCfg.OutputPaths = []string{"stderr"}
	}
	if len(logCfg.ErrorOutputPaths) == 0 {
		logCfg.ErrorOutputPaths = []string{"stderr"}
	}
	cfg.Log = logCfg
	return logging.NewLogger(logCfg)
}

// GetCLIContext extracts the CLIContext stored by the root pre-run hook.
func GetCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, errors.New(errors.CodeInternal, "command context is nil")
	}
	cliCtx, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cliCtx == nil {
		return nil, errors.New(errors.CodeInternal, "CLI context not initialized")
	}
	return cliCtx, nil
}

// Execute runs the command tree and reports a failure on stderr.
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		PrintError(rootCmd, err)
		return err
	}
	return nil
}

// tableProvider is implemented by results that render as a table.
type tableProvider interface {
	TableHeaders() []string
	TableRows() [][]string
}

// PrintResult outputs data in the format selected by --output.
func PrintResult(cmd *cobra.Command, data interface{}) error {
	format := "text"
	if cliCtx, err := GetCLIContext(cmd); err == nil {
		format = strings.ToLower(cliCtx.OutputFormat)
	}
	switch format {
	case "json":
		return printJSON(cmd, data)
	case "table":
		if tp, ok := data.(tableProvider); ok {
			fmt.Fprint(cmd.OutOrStdout(), FormatTable(tp.TableHeaders(), tp.TableRows()))
			return nil
		}
		return printText(cmd, data)
	default:
		return printText(cmd, data)
	}
}

func printJSON(cmd *cobra.Command, data interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func printText(cmd *cobra.Command, data interface{}) error {
	switch v := data.(type) {
	case string:
		fmt.Fprintln(cmd.OutOrStdout(), v)
	case fmt.Stringer:
		fmt.Fprintln(cmd.OutOrStdout(), v.String())
	case tableProvider:
		fmt.Fprint(cmd.OutOrStdout(), FormatTable(v.TableHeaders(), v.TableRows()))
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", v)
	}
	return nil
}

// PrintError writes err to stderr.
func PrintError(cmd *cobra.Command, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())
}

// FormatTable renders headers and rows as an aligned ASCII table.
func FormatTable(headers []string, rows [][]string) string {
	if len(headers) == 0 {
		return ""
	}
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if len(row[i]) > widths[i] {
				widths[i] = len(row[i])
			}
		}
	}

	var sb strings.Builder
	writeRow := func(cells []string) {
		for i := range headers {
			if i > 0 {
				sb.WriteString("  ")
			}
			val := ""
			if i < len(cells) {
				val = cells[i]
			}
			if i == len(headers)-1 {
				sb.WriteString(val)
			} else {
				sb.WriteString(padRight(val, widths[i]))
			}
		}
		sb.WriteString("\n")
	}
	writeRow(headers)
	seps := make([]string, len(widths))
	for i, w := range widths {
		seps[i] = strings.Repeat("-", w)
	}
	writeRow(seps)
	for _, row := range rows {
		writeRow(row)
	}
	return sb.String()
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

