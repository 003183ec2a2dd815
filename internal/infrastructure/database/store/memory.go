package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/turtacn/molgfn/internal/domain/experiment"
	"github.com/turtacn/molgfn/pkg/errors"
)

// MemoryStore keeps runs and their records in process.
type MemoryStore struct {
	mu      sync.RWMutex
	runs    map[uuid.UUID]experiment.Run
	metrics map[uuid.UUID][]experiment.MetricPoint
	samples map[uuid.UUID][]experiment.Sample
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:    make(map[uuid.UUID]experiment.Run),
		metrics: make(map[uuid.UUID][]experiment.MetricPoint),
		samples: make(map[uuid.UUID][]experiment.Sample),
	}
}

var _ experiment.Repository = (*MemoryStore)(nil)

func (s *MemoryStore) CreateRun(_ context.Context, r *experiment.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[r.ID]; ok {
		return errors.Conflict("run already exists").WithDetail(r.ID.String())
	}
	s.runs[r.ID] = cloneRun(r)
	return nil
}

func (s *MemoryStore) UpdateRun(_ context.Context, r *experiment.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[r.ID]; !ok {
		return errors.NotFound("run not found").WithDetail(r.ID.String())
	}
	s.runs[r.ID] = cloneRun(r)
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id uuid.UUID) (*experiment.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, errors.NotFound("run not found").WithDetail(id.String())
	}
	out := cloneRun(&r)
	return &out, nil
}

func (s *MemoryStore) SaveMetrics(_ context.Context, points []experiment.MetricPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		s.metrics[p.RunID] = append(s.metrics[p.RunID], p)
	}
	return nil
}

func (s *MemoryStore) SaveSamples(_ context.Context, samples []experiment.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, smp := range samples {
		s.samples[smp.RunID] = append(s.samples[smp.RunID], smp)
	}
	return nil
}

// TopSamples orders by log reward, earliest insert first on ties.
func (s *MemoryStore) TopSamples(_ context.Context, runID uuid.UUID, limit int) ([]experiment.Sample, error) {
	if limit <= 0 {
		return nil, errors.InvalidParam("limit must be positive")
	}
	s.mu.RLock()
	all := append([]experiment.Sample(nil), s.samples[runID]...)
	s.mu.RUnlock()
	sort.SliceStable(all, func(i, j int) bool { return all[i].LogReward > all[j].LogReward })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Metrics returns the points of runID named name in insertion order.
func (s *MemoryStore) Metrics(runID uuid.UUID, name string) []experiment.MetricPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []experiment.MetricPoint
	for _, p := range s.metrics[runID] {
		if p.Name == name {
			out = append(out, p)
		}
	}
	return out
}

func (s *MemoryStore) Close() error { return nil }

func cloneRun(r *experiment.Run) experiment.Run {
	out := *r
	out.HPS = append([]byte(nil), r.HPS...)
	if r.Part != nil {
		p := *r.Part
		out.Part = &p
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	return out
}
