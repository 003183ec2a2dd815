package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molgfn/internal/config"
	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/pkg/errors"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func withOutput(format string) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(context.WithValue(context.Background(), cliContextKey{}, &CLIContext{
		Config:       &config.Config{},
		Logger:       logging.NewNopLogger(),
		OutputFormat: format,
	}))
	return cmd
}

func TestNewRootCommand_Subcommands(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "molgfn", cmd.Use)
	assert.NotEmpty(t, cmd.Short)

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"train", "partition", "serve-proxy", "tail", "migrate", "samples", "fragments", "status", "version"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestNewRootCommand_GlobalFlags(t *testing.T) {
	pf := NewRootCommand().PersistentFlags()
	for _, name := range []string{"config", "log-level", "output", "verbose"} {
		assert.NotNil(t, pf.Lookup(name), name)
	}
	assert.Equal(t, "text", pf.Lookup("output").DefValue)
	assert.Equal(t, "c", pf.Lookup("config").Shorthand)
}

func TestVersionCommand(t *testing.T) {
	old := Version
	Version = "1.2.3"
	defer func() { Version = old }()

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "molgfn 1.2.3")

	out, err = execute(t, "version", "--json")
	require.NoError(t, err)
	var info BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "1.2.3", info.Version)
	assert.NotEmpty(t, info.GoVersion)
}

func TestExecute_UnknownSubcommand(t *testing.T) {
	_, err := execute(t, "frobnicate")
	assert.Error(t, err)
}

func TestGetCLIContext_Missing(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	_, err := GetCLIContext(cmd)
	assert.Error(t, err)
}

func TestInitLogger_Overrides(t *testing.T) {
	cfg := &config.Config{}
	_, err := initLogger(cfg, &RootOptions{LogLevel: "WARN"})
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, []string{"stderr"}, cfg.Log.OutputPaths)

	_, err = initLogger(cfg, &RootOptions{LogLevel: "error", Verbose: true})
	require.NoError(t, err)
	assert.Equal(t, logging.LevelDebug, cfg.Log.Level)
}

func TestFormatTable(t *testing.T) {
	out := FormatTable([]string{"A", "LONG"}, [][]string{{"xyz", "1"}, {"b"}})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "A    LONG", lines[0])
	assert.Equal(t, "---  ----", lines[1])
	assert.Equal(t, "xyz  1", lines[2])
	assert.Equal(t, "b    ", lines[3])

	assert.Empty(t, FormatTable(nil, nil))
}

type fakeTable struct{}

func (fakeTable) TableHeaders() []string { return []string{"K", "V"} }
func (fakeTable) TableRows() [][]string  { return [][]string{{"a", "1"}} }

func TestPrintResult_Formats(t *testing.T) {
	cmd := withOutput("json")
	var out bytes.Buffer
	cmd.SetOut(&out)
	require.NoError(t, PrintResult(cmd, map[string]int{"n": 1}))
	assert.JSONEq(t, `{"n":1}`, out.String())

	cmd = withOutput("table")
	out.Reset()
	cmd.SetOut(&out)
	require.NoError(t, PrintResult(cmd, fakeTable{}))
	assert.Contains(t, out.String(), "K  V")

	cmd = withOutput("text")
	out.Reset()
	cmd.SetOut(&out)
	require.NoError(t, PrintResult(cmd, "hello"))
	assert.Equal(t, "hello\n", out.String())
}

func TestPrintError(t *testing.T) {
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetErr(&out)
	PrintError(cmd, nil)
	assert.Empty(t, out.String())
	PrintError(cmd, errors.InvalidParam("bad"))
	assert.True(t, strings.HasPrefix(out.String(), "Error: "))
}
