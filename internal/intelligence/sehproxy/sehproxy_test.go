package sehproxy

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molgfn/internal/domain/molecule"
	"github.com/turtacn/molgfn/internal/intelligence/common"
	"github.com/turtacn/molgfn/pkg/errors"
)

// MockModelBackend
type MockModelBackend struct {
	mock.Mock
}

func (m *MockModelBackend) Predict(ctx context.Context, req *common.PredictRequest) (*common.PredictResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*common.PredictResponse), args.Error(1)
}

func (m *MockModelBackend) Healthy(ctx context.Context) error { return nil }
func (m *MockModelBackend) Close() error                      { return nil }

type countingBackend struct {
	*LocalBackend
	calls atomic.Int32
}

func (c *countingBackend) Predict(ctx context.Context, req *common.PredictRequest) (*common.PredictResponse, error) {
	c.calls.Add(1)
	return c.LocalBackend.Predict(ctx, req)
}

func testGraphs(t *testing.T) []*molecule.MolecularGraph {
	t.Helper()
	tk := molecule.NewDescriptorToolkit(nil)
	var out []*molecule.MolecularGraph
	for _, frags := range [][]int{{10, 5}, {10}, {11, 0}, {15, 1}, {10, 7}} {
		g := &molecule.Graph{}
		g.AddNode(frags[0], -1)
		for _, f := range frags[1:] {
			g.AddNode(f, 0)
		}
		mg, err := tk.ToGraph(g)
		require.NoError(t, err)
		out = append(out, mg)
	}
	return out
}

func TestSurrogateScore(t *testing.T) {
	assert.True(t, math.IsNaN(SurrogateScore(nil)))
	assert.True(t, math.IsNaN(SurrogateScore(&molecule.MolecularGraph{})))
	for _, g := range testGraphs(t) {
		s := SurrogateScore(g)
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, surrogateMax)
		assert.Equal(t, s, SurrogateScore(g))
	}
}

func TestScores_NaNSurvivesWire(t *testing.T) {
	b, err := EncodeScores([]float64{1.5, math.NaN()})
	require.NoError(t, err)
	got, err := DecodeScores(&common.PredictResponse{Outputs: map[string][]byte{OutputSEH: b}})
	require.NoError(t, err)
	assert.Equal(t, 1.5, got[0])
	assert.True(t, math.IsNaN(got[1]))

	_, err = DecodeScores(&common.PredictResponse{Outputs: map[string][]byte{}})
	assert.True(t, errors.IsCode(err, errors.CodeProxyPredictionFailed))
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	cfg := DefaultConfig()
	cfg.ModelID = ""
	assert.Error(t, cfg.Validate())
	cfg = DefaultConfig()
	cfg.BatchSize = 0
	assert.Error(t, cfg.Validate())
}

func TestModelState_String(t *testing.T) {
	assert.Equal(t, "READY", ModelStateReady.String())
	assert.Equal(t, "UNKNOWN", ModelState(42).String())
}

func TestManager_PredictInChunks(t *testing.T) {
	backend := &countingBackend{LocalBackend: NewLocalBackend("")}
	cfg := DefaultConfig()
	cfg.BatchSize = 2
	cfg.WarmupOnLoad = false
	metrics := common.NewInMemoryIntelligenceMetrics()
	m, err := NewManager(cfg, backend, nil, metrics)
	require.NoError(t, err)

	_, err = m.Predict(context.Background(), testGraphs(t))
	assert.True(t, errors.IsCode(err, errors.CodeProxyNotReady))

	require.NoError(t, m.Load(context.Background()))
	assert.Equal(t, ModelStateReady, m.State())

	graphs := testGraphs(t)
	scores, err := m.Predict(context.Background(), graphs)
	require.NoError(t, err)
	require.Len(t, scores, len(graphs))
	for i, g := range graphs {
		assert.Equal(t, SurrogateScore(g), scores[i])
	}
	assert.Equal(t, int32(3), backend.calls.Load())
	assert.Equal(t, int64(3), metrics.GetCurrentStats().TotalInferences)

	require.NoError(t, m.Unload(context.Background()))
	assert.Equal(t, ModelStateUnloaded, m.State())
}

func TestManager_LoadFailsOnClosedBackend(t *testing.T) {
	backend := NewLocalBackend("")
	require.NoError(t, backend.Close())
	m, err := NewManager(DefaultConfig(), backend, nil, nil)
	require.NoError(t, err)
	err = m.Load(context.Background())
	assert.True(t, errors.IsCode(err, errors.CodeProxyNotReady))
	assert.Equal(t, ModelStateError, m.State())
	assert.Error(t, m.LastError())
}

func TestManager_WrongScoreCount(t *testing.T) {
	backend := new(MockModelBackend)
	one, _ := EncodeScores([]float64{1})
	backend.On("Predict", mock.Anything, mock.Anything).Return(&common.PredictResponse{
		Outputs: map[string][]byte{OutputSEH: one},
	}, nil)
	cfg := DefaultConfig()
	cfg.WarmupOnLoad = false
	m, err := NewManager(cfg, backend, nil, nil)
	require.NoError(t, err)
	require.NoError(t, m.Load(context.Background()))

	_, err = m.Predict(context.Background(), testGraphs(t)[:2])
	assert.True(t, errors.IsCode(err, errors.CodeProxyPredictionFailed))
	backend.AssertExpectations(t)
}

func TestNewManager_RequiresBackend(t *testing.T) {
	_, err := NewManager(DefaultConfig(), nil, nil, nil)
	assert.Error(t, err)
	_, err = NewManager(nil, NewLocalBackend(""), nil, nil)
	assert.Error(t, err)
}

func TestHTTPBackend_RoundTrip(t *testing.T) {
	local := NewLocalBackend("")
	mux := http.NewServeMux()
	mux.HandleFunc(PredictPath, func(w http.ResponseWriter, r *http.Request) {
		var req common.PredictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp, err := local.Predict(r.Context(), &req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc(HealthPath, func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	backend, err := NewHTTPBackend(srv.URL, 0)
	require.NoError(t, err)
	m, err := NewManager(DefaultConfig(), backend, nil, nil, WithBackendTag(BackendHTTP))
	require.NoError(t, err)
	require.NoError(t, m.Load(context.Background()))

	graphs := testGraphs(t)
	scores, err := m.Predict(context.Background(), graphs)
	require.NoError(t, err)
	for i, g := range graphs {
		assert.InDelta(t, SurrogateScore(g), scores[i], 1e-12)
	}
	require.NoError(t, m.Unload(context.Background()))
}

func TestHTTPBackend_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	backend, err := NewHTTPBackend(srv.URL, 0)
	require.NoError(t, err)
	assert.True(t, errors.IsCode(backend.Healthy(context.Background()), errors.CodeUnavailable))
	_, err = backend.Predict(context.Background(), &common.PredictRequest{ModelName: "x", InputData: []byte("{}")})
	assert.True(t, errors.IsCode(err, errors.CodeUnavailable))
}

type countingProxy struct {
	calls  atomic.Int32
	scores map[string]float64
}

func (p *countingProxy) Predict(_ context.Context, graphs []*molecule.MolecularGraph) ([]float64, error) {
	p.calls.Add(1)
	out := make([]float64, len(graphs))
	for i, g := range graphs {
		v, ok := p.scores[g.Key]
		if !ok {
			v = math.NaN()
		}
		out[i] = v
	}
	return out, nil
}

func TestCachedProxy(t *testing.T) {
	a := &molecule.MolecularGraph{Key: "a"}
	b := &molecule.MolecularGraph{Key: "b"}
	c := &molecule.MolecularGraph{Key: "c"}
	inner := &countingProxy{scores: map[string]float64{"a": 1, "b": 2}}
	cache := NewMemoryScoreCache()
	metrics := common.NewInMemoryIntelligenceMetrics()
	p := NewCachedProxy(inner, cache, "seh", nil, metrics)

	got, err := p.Predict(context.Background(), []*molecule.MolecularGraph{a, b, a})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 1}, got)
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Equal(t, 2, cache.Len())

	got, err = p.Predict(context.Background(), []*molecule.MolecularGraph{b, a})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 1}, got)
	assert.Equal(t, int32(1), inner.calls.Load())

	got, err = p.Predict(context.Background(), []*molecule.MolecularGraph{c})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got[0]))
	assert.Equal(t, 2, cache.Len())
	assert.Greater(t, metrics.GetCurrentStats().CacheHitRate, 0.0)
}
