package conditioning

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/turtacn/molgfn/internal/config"
	"github.com/turtacn/molgfn/pkg/errors"
)

func TestThermometer(t *testing.T) {
	assert.Equal(t, []float64{1, 1, 0, 0}, Thermometer(0.5, 4, 0, 1))
	assert.Equal(t, []float64{0, 0, 0, 0}, Thermometer(0, 4, 0, 1))
	assert.Equal(t, []float64{1, 1, 1, 1}, Thermometer(1, 4, 0, 1))
	assert.Equal(t, []float64{1, 1, 1, 1}, Thermometer(7, 4, 0, 1))
	assert.InDeltaSlice(t, []float64{1, 0.4, 0}, Thermometer(1.4, 3, 0, 3), 1e-12)
	assert.Equal(t, []float64{0, 0}, Thermometer(-1, 2, 0, 0))
	assert.Equal(t, []float64{1, 1}, Thermometer(0, 2, 0, 0))

	prev := Thermometer(-1, 8, 0, 32)
	for x := 0.0; x <= 40; x += 0.37 {
		cur := Thermometer(x, 8, 0, 32)
		for i := range cur {
			assert.GreaterOrEqual(t, cur[i], prev[i])
			assert.GreaterOrEqual(t, cur[i], 0.0)
			assert.LessOrEqual(t, cur[i], 1.0)
		}
		prev = cur
	}
}

func TestSampler_BetaFamilies(t *testing.T) {
	tests := []struct {
		dist   string
		params []float64
		lo, hi float64
	}{
		{config.TemperatureConstant, []float64{2}, 2, 2},
		{config.TemperatureUniform, []float64{0.5, 32}, 0.5, 32},
		{config.TemperatureLogUniform, []float64{1, 64}, 1, 64},
		{config.TemperatureGamma, []float64{2, 1}, 0, math.Inf(1)},
		{config.TemperatureBeta, []float64{2, 2}, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.dist, func(t *testing.T) {
			s, err := NewSampler(Config{Dist: tt.dist, Params: tt.params, ThermometerDim: 8}, rand.NewSource(1))
			require.NoError(t, err)
			info, err := s.Sample(64)
			require.NoError(t, err)
			require.Len(t, info.Beta, 64)
			r, c := info.Encoding.Dims()
			assert.Equal(t, 64, r)
			assert.Equal(t, 8, c)
			assert.Nil(t, info.Preferences)
			for _, b := range info.Beta {
				assert.False(t, math.IsNaN(b) || math.IsInf(b, 0))
				assert.GreaterOrEqual(t, b, tt.lo-1e-9)
				assert.LessOrEqual(t, b, tt.hi+1e-9)
			}
			if tt.dist == config.TemperatureConstant {
				assert.Equal(t, 0.0, mat.Sum(info.Encoding))
			}
		})
	}
}

func TestSampler_UnsupportedFamily(t *testing.T) {
	_, err := NewSampler(Config{Dist: "cauchy", Params: []float64{1, 2}, ThermometerDim: 4}, rand.NewSource(1))
	assert.True(t, errors.IsCode(err, errors.CodeUnsupportedDistribution))

	_, err = NewSampler(Config{Dist: config.TemperatureUniform, Params: []float64{2, 1}, ThermometerDim: 4}, rand.NewSource(1))
	assert.True(t, errors.IsCode(err, errors.CodeUnsupportedDistribution))
	_, err = NewSampler(Config{Dist: config.TemperatureUniform, Params: []float64{0, 0}, ThermometerDim: 4}, rand.NewSource(1))
	assert.True(t, errors.IsCode(err, errors.CodeUnsupportedDistribution))

	s, err := NewSampler(Config{Dist: config.TemperatureConstant, Params: []float64{1}, ThermometerDim: 4}, rand.NewSource(1))
	require.NoError(t, err)
	_, err = s.Sample(0)
	assert.Error(t, err)
}

func TestSampler_PreferencesOnSimplex(t *testing.T) {
	for _, experimental := range []bool{false, true} {
		for k := 1; k <= 5; k++ {
			cfg := Config{Dist: config.TemperatureUniform, Params: []float64{0.5, 32}, ThermometerDim: 4,
				Objectives: k, ExperimentalDir: experimental}
			s, err := NewSampler(cfg, rand.NewSource(uint64(k)))
			require.NoError(t, err)
			info, err := s.Sample(32)
			require.NoError(t, err)
			require.NotNil(t, info.Preferences)
			_, c := info.Encoding.Dims()
			assert.Equal(t, 4+k, c)
			for i := 0; i < 32; i++ {
				p := info.PreferenceRow(i)
				require.Len(t, p, k)
				assert.InDelta(t, 1.0, floats.Sum(p), 1e-6)
				assert.GreaterOrEqual(t, floats.Min(p), 0.0)
				assert.Equal(t, p, info.EncodingRow(i)[4:])
			}
		}
	}
}

func TestSampler_SeededPreference(t *testing.T) {
	s, err := NewSampler(Config{Dist: config.TemperatureConstant, Params: []float64{1}, ThermometerDim: 2, Objectives: 2}, rand.NewSource(3))
	require.NoError(t, err)
	assert.Error(t, s.SetSeededPreference([]float64{1}))
	require.NoError(t, s.SetSeededPreference([]float64{0.3, 0.7}))
	info, err := s.Sample(5)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		assert.Equal(t, []float64{0.3, 0.7}, info.PreferenceRow(i))
	}
}

func TestSampler_EncodeMatchesTrainingScheme(t *testing.T) {
	cfg := Config{Dist: config.TemperatureUniform, Params: []float64{0.5, 32}, ThermometerDim: 4,
		Objectives: 2, UsePrefThermometer: true}
	s, err := NewSampler(cfg, rand.NewSource(9))
	require.NoError(t, err)
	assert.Equal(t, 12, s.NumCondDim())

	info, err := s.Encode([][]float64{{0.25, 0.75}, {1, 0}})
	require.NoError(t, err)
	assert.Equal(t, []float64{32, 32}, info.Beta)
	row := info.EncodingRow(0)
	assert.Equal(t, []float64{1, 1, 1, 1}, row[:4])
	assert.Equal(t, Thermometer(0.25, 4, 0, 1), row[4:8])
	assert.Equal(t, Thermometer(0.75, 4, 0, 1), row[8:12])

	// β at the upper bound encodes to all ones, as in Encode.
	assert.Equal(t, row[:4], Thermometer(32, 4, 0, 32))

	_, err = s.Encode([][]float64{{1}})
	assert.True(t, errors.IsCode(err, errors.CodeShapeMismatch))
	_, err = s.Encode(nil)
	assert.Error(t, err)
}

func TestSampler_EncodeConstant(t *testing.T) {
	s, err := NewSampler(Config{Dist: config.TemperatureConstant, Params: []float64{4}, ThermometerDim: 3, Objectives: 2}, rand.NewSource(1))
	require.NoError(t, err)
	info, err := s.Encode([][]float64{{0.5, 0.5}})
	require.NoError(t, err)
	assert.Equal(t, []float64{4}, info.Beta)
	assert.Equal(t, []float64{0, 0, 0, 0.5, 0.5}, info.EncodingRow(0))
}

func TestPartitionHypersphere(t *testing.T) {
	rows, err := PartitionHypersphere(2, 3, NormL1, rand.NewSource(1))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.InDeltaSlice(t, []float64{1, 0}, rows[0], 1e-9)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, rows[1], 1e-9)
	assert.InDeltaSlice(t, []float64{0, 1}, rows[2], 1e-9)

	rows, err = PartitionHypersphere(3, 4, NormL1, rand.NewSource(1))
	require.NoError(t, err)
	require.Len(t, rows, 4)
	for _, r := range rows {
		assert.InDelta(t, 1.0, floats.Sum(r), 1e-9)
		assert.GreaterOrEqual(t, floats.Min(r), 0.0)
	}

	rows, err = PartitionHypersphere(2, 2, NormL2, rand.NewSource(1))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, floats.Norm(rows[1], 2), 1e-9)

	_, err = PartitionHypersphere(2, 2, "l7", rand.NewSource(1))
	assert.Error(t, err)
}

func TestValidationPreferences(t *testing.T) {
	none, pinned, err := ValidationPreferences(config.PreferenceNone, 3, 4, 0)
	require.NoError(t, err)
	assert.Nil(t, pinned)
	assert.Equal(t, []float64{1, 1, 1}, none[3])

	many1, _, err := ValidationPreferences(config.PreferenceSeededMany, 3, 5, 7)
	require.NoError(t, err)
	many2, _, err := ValidationPreferences(config.PreferenceSeededMany, 3, 5, 7)
	require.NoError(t, err)
	assert.Equal(t, many1, many2)
	assert.Len(t, many1, 5)

	single, pinned, err := ValidationPreferences(config.PreferenceSeededSingle, 3, 5, 7)
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Equal(t, single[0], pinned)
	assert.Equal(t, many1[0], pinned)

	dir, _, err := ValidationPreferences(config.PreferenceDirichlet, 2, 15, 0)
	require.NoError(t, err)
	assert.Len(t, dir, 15)

	_, _, err = ValidationPreferences("weird", 2, 3, 0)
	assert.True(t, errors.IsCode(err, errors.CodeUnsupportedPreference))
}
