package logging

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger() (Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewLoggerFromCore(core), logs
}

func TestNewLogger_Formats(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		l, err := NewLogger(LogConfig{Level: LevelInfo, Format: format})
		require.NoError(t, err, format)
		assert.NotNil(t, l)
	}
}

func TestNewLogger_BadOutputPath(t *testing.T) {
	_, err := NewLogger(LogConfig{OutputPaths: []string{"/nonexistent-dir/for/sure/log.txt"}})
	assert.Error(t, err)
}

func TestFieldsAreForwarded(t *testing.T) {
	l, logs := newObservedLogger()

	l.Info("step",
		Int("step", 3),
		Int64("n", 64),
		Float64("loss", 0.5),
		Float64s("topk", []float64{1, 2}),
		Bool("valid", true),
		String("algo", "TB"),
		Duration("took", time.Second),
		Err(errors.New("boom")),
		Any("shape", []int{4, 1}),
	)

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, int64(3), ctx["step"])
	assert.Equal(t, 0.5, ctx["loss"])
	assert.Equal(t, "TB", ctx["algo"])
	assert.Equal(t, true, ctx["valid"])
	assert.Equal(t, "boom", ctx["error"])
}

func TestErr_Nil(t *testing.T) {
	f := Err(nil)
	assert.Equal(t, "error", f.Key)
	assert.Equal(t, "<nil>", f.Value)
}

func TestWithAndNamed(t *testing.T) {
	l, logs := newObservedLogger()

	child := l.Named("trainer").With(String("run", "abc"))
	child.Warn("slow step")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "trainer", entry.LoggerName)
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Equal(t, "abc", entry.ContextMap()["run"])
}

func TestSetLevel(t *testing.T) {
	l, err := NewLogger(LogConfig{Level: LevelInfo})
	require.NoError(t, err)
	assert.True(t, SetLevel(l, LevelDebug))
	assert.False(t, SetLevel(NewNopLogger(), LevelDebug))
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"WARN":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
		"info":  zapcore.InfoLevel,
		"bogus": zapcore.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.Debug("a")
	l.Info("b")
	l.Warn("c")
	l.Error("d")
	assert.NotNil(t, l.With(String("k", "v")))
	assert.NotNil(t, l.Named("x"))
	assert.NotNil(t, OrNop(nil))
}

func TestDefault(t *testing.T) {
	prev := Default()
	defer SetDefault(prev)

	l, _ := newObservedLogger()
	SetDefault(l)
	assert.Equal(t, l, Default())

	SetDefault(nil)
	assert.Equal(t, l, Default())
}
