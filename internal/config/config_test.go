package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molgfn/internal/config"
	"github.com/turtacn/molgfn/pkg/errors"
)

func validConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Run.LogDir = "/tmp/run"
	cfg.Run.Part = -1
	config.ApplyDefaults(cfg)
	return cfg
}

func TestConfig_Validate_ValidConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestConfig_Validate_Table(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *config.Config)
		code   errors.ErrorCode
	}{
		{"missing log dir", func(c *config.Config) { c.Run.LogDir = "" }, errors.CodeInvalidConfig},
		{"part out of range", func(c *config.Config) { c.Run.TotalParts = 4; c.Run.Part = 4; c.Run.DataDir = "/d" }, errors.CodeInvalidConfig},
		{"sharded without data dir", func(c *config.Config) { c.Run.TotalParts = 4; c.Run.Part = 1 }, errors.CodeInvalidConfig},
		{"unknown tracking", func(c *config.Config) { c.Run.Tracking = []string{"wandb"} }, errors.CodeInvalidConfig},
		{"unknown store", func(c *config.Config) { c.Run.ResultsStore = "mongo" }, errors.CodeInvalidConfig},
		{"remote proxy without endpoint", func(c *config.Config) { c.Proxy.Backend = "grpc" }, errors.CodeInvalidConfig},
		{"bad log level", func(c *config.Config) { c.Log.Level = "trace" }, errors.CodeInvalidConfig},
		{"unknown algo", func(c *config.Config) { c.HPS.Algo = "PPO" }, errors.CodeUnsupportedAlgorithm},
		{"moo algo on single task", func(c *config.Config) { c.HPS.Algo = config.AlgoMOQL }, errors.CodeUnsupportedAlgorithm},
		{"unknown temperature", func(c *config.Config) { c.HPS.TemperatureSampleDist = "cauchy" }, errors.CodeUnsupportedDistribution},
		{"constant with two params", func(c *config.Config) {
			c.HPS.TemperatureSampleDist = config.TemperatureConstant
		}, errors.CodeUnsupportedDistribution},
		{"unknown clip", func(c *config.Config) { c.HPS.ClipGradType = "adaptive" }, errors.CodeUnsupportedClipPolicy},
		{"tau out of range", func(c *config.Config) { c.HPS.SamplingTau = 1 }, errors.CodeInvalidConfig},
		{"bad invalid policy", func(c *config.Config) { c.HPS.InvalidTrajectories = "ignore" }, errors.CodeInvalidConfig},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, tc.code), err.Error())
		})
	}
}

func TestValidateObjectives(t *testing.T) {
	assert.NoError(t, config.ValidateObjectives([]string{"seh", "qed", "sa", "mw"}))
	assert.NoError(t, config.ValidateObjectives([]string{"mw"}))

	for _, bad := range [][]string{nil, {"seh", "seh"}, {"logp"}} {
		err := config.ValidateObjectives(bad)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeInvalidObjectives))
	}
}

func TestValidateTemperature(t *testing.T) {
	assert.NoError(t, config.ValidateTemperature("constant", []float64{32}))
	assert.NoError(t, config.ValidateTemperature("gamma", []float64{2, 1}))
	assert.NoError(t, config.ValidateTemperature("loguniform", []float64{0.5, 32}))
	assert.Error(t, config.ValidateTemperature("loguniform", []float64{0, 32}))
	assert.Error(t, config.ValidateTemperature("beta", []float64{2}))
	assert.Error(t, config.ValidateTemperature("uniform", []float64{0, 0}))
	assert.Error(t, config.ValidateTemperature("uniform", []float64{4, 1}))
	assert.Error(t, config.ValidateTemperature("loguniform", []float64{2, 2}))
}

func TestMultiObjectiveValidation(t *testing.T) {
	cfg := &config.Config{}
	cfg.Run.LogDir = "/tmp/run"
	cfg.Run.Part = -1
	cfg.HPS.Task = config.TaskSEHFragMOO
	config.ApplyDefaults(cfg)
	require.NoError(t, cfg.Validate())

	cfg.HPS.Objectives = []string{"seh", "qed", "seh"}
	assert.True(t, errors.IsCode(cfg.Validate(), errors.CodeInvalidObjectives))

	cfg.HPS.Objectives = []string{"seh"}
	cfg.HPS.PreferenceType = "uniform"
	assert.True(t, errors.IsCode(cfg.Validate(), errors.CodeUnsupportedPreference))
}

func TestNumCondDim(t *testing.T) {
	h := config.DefaultHyperparameters(config.TaskSEHFrag)
	assert.Equal(t, 32, h.NumCondDim())
	assert.Equal(t, 1, h.NumObjectives())

	m := config.DefaultHyperparameters(config.TaskSEHFragMOO)
	assert.Equal(t, 32+4, m.NumCondDim())
	m.UsePrefThermometer = true
	assert.Equal(t, 32*5, m.NumCondDim())
	assert.Equal(t, 4, m.NumObjectives())
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &config.Config{}
	cfg.HPS.LearningRate = 3e-3
	cfg.HPS.Algo = config.AlgoSQL
	config.ApplyDefaults(cfg)

	assert.Equal(t, 3e-3, cfg.HPS.LearningRate)
	assert.Equal(t, config.AlgoSQL, cfg.HPS.Algo)
	assert.Equal(t, 1e-4, cfg.HPS.ZLearningRate)
	assert.Equal(t, "info", cfg.Log.Level)
	config.ApplyDefaults(nil)
}
