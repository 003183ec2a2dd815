package sehproxy

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/turtacn/molgfn/internal/domain/molecule"
	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/internal/intelligence/common"
)

// ScoreCache stores proxy scores by canonical molecule key.
type ScoreCache interface {
	GetScores(ctx context.Context, keys []string) (map[string]float64, error)
	SetScores(ctx context.Context, scores map[string]float64) error
}

// CachedProxy consults a ScoreCache before the wrapped proxy.  Concurrent
// calls missing the same key set share one proxy call.  Cache failures are
// logged and never fail a prediction.
type CachedProxy struct {
	inner   Proxy
	cache   ScoreCache
	name    string
	logger  logging.Logger
	metrics common.IntelligenceMetrics
	group   singleflight.Group
}

// NewCachedProxy wraps inner.
func NewCachedProxy(inner Proxy, cache ScoreCache, name string, logger logging.Logger, metrics common.IntelligenceMetrics) *CachedProxy {
	if metrics == nil {
		metrics = common.NewNoopIntelligenceMetrics()
	}
	return &CachedProxy{
		inner:   inner,
		cache:   cache,
		name:    name,
		logger:  logging.OrNop(logger).Named("sehproxy.cache"),
		metrics: metrics,
	}
}

// Predict returns cached scores where available and asks the proxy for the
// rest.  NaN scores are not cached.
func (c *CachedProxy) Predict(ctx context.Context, graphs []*molecule.MolecularGraph) ([]float64, error) {
	keys := make([]string, len(graphs))
	for i, g := range graphs {
		keys[i] = g.Key
	}
	cached, err := c.cache.GetScores(ctx, keys)
	if err != nil {
		c.logger.Warn("score cache read failed", logging.Err(err))
		cached = nil
	}

	out := make([]float64, len(graphs))
	var missIdx []int
	var missGraphs []*molecule.MolecularGraph
	missSeen := make(map[string]int)
	for i, g := range graphs {
		if v, ok := cached[g.Key]; ok && g.Key != "" {
			out[i] = v
			c.metrics.RecordCacheAccess(ctx, true, c.name)
			continue
		}
		c.metrics.RecordCacheAccess(ctx, false, c.name)
		missIdx = append(missIdx, i)
		if _, dup := missSeen[g.Key]; dup && g.Key != "" {
			continue
		}
		missSeen[g.Key] = len(missGraphs)
		missGraphs = append(missGraphs, g)
	}
	if len(missGraphs) == 0 {
		return out, nil
	}

	flightKeys := make([]string, len(missGraphs))
	for i, g := range missGraphs {
		flightKeys[i] = g.Key
	}
	sort.Strings(flightKeys)
	v, err, _ := c.group.Do(strings.Join(flightKeys, ","), func() (interface{}, error) {
		scores, err := c.inner.Predict(ctx, missGraphs)
		if err != nil {
			return nil, err
		}
		byKey := make(map[string]float64, len(scores))
		for i, g := range missGraphs {
			byKey[g.Key] = scores[i]
		}
		return byKey, nil
	})
	if err != nil {
		return nil, err
	}
	byKey := v.(map[string]float64)

	fresh := make(map[string]float64, len(byKey))
	for _, i := range missIdx {
		s, ok := byKey[graphs[i].Key]
		if !ok {
			s = math.NaN()
		}
		out[i] = s
		if graphs[i].Key != "" && !math.IsNaN(s) {
			fresh[graphs[i].Key] = s
		}
	}
	if len(fresh) > 0 {
		if err := c.cache.SetScores(ctx, fresh); err != nil {
			c.logger.Warn("score cache write failed", logging.Err(err))
		}
	}
	return out, nil
}

// MemoryScoreCache is an unbounded in-process ScoreCache.
type MemoryScoreCache struct {
	mu     sync.RWMutex
	scores map[string]float64
}

// NewMemoryScoreCache returns an empty cache.
func NewMemoryScoreCache() *MemoryScoreCache {
	return &MemoryScoreCache{scores: make(map[string]float64)}
}

func (m *MemoryScoreCache) GetScores(_ context.Context, keys []string) (map[string]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64)
	for _, k := range keys {
		if v, ok := m.scores[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *MemoryScoreCache) SetScores(_ context.Context, scores map[string]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range scores {
		m.scores[k] = v
	}
	return nil
}

// Len returns the number of cached scores.
func (m *MemoryScoreCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.scores)
}
