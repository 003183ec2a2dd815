package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molgfn/internal/config"
	"github.com/turtacn/molgfn/internal/domain/experiment"
	"github.com/turtacn/molgfn/pkg/errors"
)

// exerciseRepository runs the contract shared by every backend.
func exerciseRepository(t *testing.T, repo experiment.Repository) {
	t.Helper()
	ctx := context.Background()

	run, err := experiment.NewRun("seh_frag", "TB", "/tmp/run", []byte(`{"seed":1}`))
	require.NoError(t, err)
	part := 0
	run.Part = &part
	require.NoError(t, repo.CreateRun(ctx, run))

	require.NoError(t, run.Transition(experiment.RunRunning))
	run.Step = 7
	require.NoError(t, repo.UpdateRun(ctx, run))
	require.NoError(t, run.Transition(experiment.RunCompleted))
	require.NoError(t, repo.UpdateRun(ctx, run))

	got, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, experiment.RunCompleted, got.Status)
	assert.Equal(t, 7, got.Step)
	require.NotNil(t, got.Part)
	assert.Equal(t, 0, *got.Part)
	assert.NotNil(t, got.FinishedAt)
	assert.JSONEq(t, `{"seed":1}`, string(got.HPS))

	_, err = repo.GetRun(ctx, uuid.New())
	assert.True(t, errors.IsNotFound(err))
	assert.True(t, errors.IsNotFound(repo.UpdateRun(ctx, &experiment.Run{ID: uuid.New()})))

	require.NoError(t, repo.SaveMetrics(ctx, []experiment.MetricPoint{
		{RunID: run.ID, Step: 1, Name: "loss", Value: 2},
		{RunID: run.ID, Step: 2, Name: "loss", Value: 1},
	}))
	require.NoError(t, repo.SaveSamples(ctx, []experiment.Sample{
		{RunID: run.ID, Step: 2, Key: "low", Fragments: []int{0}, FlatRewards: []float64{0.1}, LogReward: -2},
		{RunID: run.ID, Step: 2, Key: "high", Fragments: []int{10, 1}, FlatRewards: []float64{0.9, 0.4}, LogReward: 3,
			Preference: []float64{0.5, 0.5}, Validation: true},
		{RunID: run.ID, Step: 2, Key: "mid", Fragments: []int{11}, FlatRewards: []float64{0.5}, LogReward: 1},
	}))

	top, err := repo.TopSamples(ctx, run.ID, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "high", top[0].Key)
	assert.Equal(t, "mid", top[1].Key)
	assert.Equal(t, []int{10, 1}, top[0].Fragments)
	assert.Equal(t, []float64{0.5, 0.5}, top[0].Preference)
	assert.True(t, top[0].Validation)
	assert.Nil(t, top[1].Preference)

	_, err = repo.TopSamples(ctx, run.ID, 0)
	assert.Error(t, err)
	require.NoError(t, repo.Close())
}

func TestMemoryStore(t *testing.T) {
	exerciseRepository(t, NewMemoryStore())
}

func TestMemoryStore_DuplicateAndIsolation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	run, err := experiment.NewRun("seh_frag", "TB", "/tmp", []byte("{}"))
	require.NoError(t, err)
	require.NoError(t, s.CreateRun(ctx, run))
	assert.True(t, errors.IsCode(s.CreateRun(ctx, run), errors.CodeConflict))

	run.Step = 99
	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Step)

	require.NoError(t, s.SaveMetrics(ctx, []experiment.MetricPoint{
		{RunID: run.ID, Name: "loss", Value: 1}, {RunID: run.ID, Name: "lr", Value: 2},
	}))
	assert.Len(t, s.Metrics(run.ID, "loss"), 1)
}

func TestNewStore(t *testing.T) {
	ctx := context.Background()

	cfg := &config.Config{Run: config.RunConfig{ResultsStore: config.StoreNone}}
	repo, err := NewStore(ctx, cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, repo)

	cfg.Run.ResultsStore = config.StoreMemory
	repo, err = NewStore(ctx, cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, repo)

	cfg.Run.ResultsStore = "cassandra"
	_, err = NewStore(ctx, cfg, nil)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidConfig))

	cfg.Run.ResultsStore = config.StorePostgres
	_, err = NewStore(ctx, cfg, nil)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidConfig))
}
