package experiment

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists runs and their records.  Implementations live in
// internal/infrastructure/database.
type Repository interface {
	CreateRun(ctx context.Context, r *Run) error
	UpdateRun(ctx context.Context, r *Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	SaveMetrics(ctx context.Context, points []MetricPoint) error
	SaveSamples(ctx context.Context, samples []Sample) error
	// TopSamples returns the limit samples of a run with the highest log reward.
	TopSamples(ctx context.Context, runID uuid.UUID, limit int) ([]Sample, error)
	Close() error
}
