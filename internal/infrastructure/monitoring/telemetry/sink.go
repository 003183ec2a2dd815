// Package telemetry defines the sink through which training components report
// scalars and images, with file, fan-out and no-op implementations.  The
// Prometheus and Kafka sinks live next to their clients.
package telemetry

import (
	"context"
	stdliberrors "errors"
	"time"
)

// Event kinds.
const (
	KindScalars = "scalars"
	KindImage   = "image"
)

// Event is the serialized form of one telemetry record.
type Event struct {
	RunID   string             `json:"run_id,omitempty"`
	Step    int                `json:"step"`
	Kind    string             `json:"kind"`
	Scalars map[string]float64 `json:"scalars,omitempty"`
	Name    string             `json:"name,omitempty"`
	// Path is set by sinks that store image bytes out of line.
	Path string    `json:"path,omitempty"`
	Time time.Time `json:"time"`
}

// Sink receives telemetry.  Implementations must tolerate concurrent use.
type Sink interface {
	LogScalars(ctx context.Context, step int, scalars map[string]float64) error
	// LogImage records a PNG-encoded image.
	LogImage(ctx context.Context, step int, name string, png []byte) error
	Close() error
}

type nopSink struct{}

// Nop returns a sink that discards everything.
func Nop() Sink { return nopSink{} }

func (nopSink) LogScalars(context.Context, int, map[string]float64) error { return nil }
func (nopSink) LogImage(context.Context, int, string, []byte) error       { return nil }
func (nopSink) Close() error                                              { return nil }

// OrNop returns s, or a no-op sink when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop()
	}
	return s
}

type fanout []Sink

// Fanout forwards every record to all sinks and joins their errors.
func Fanout(sinks ...Sink) Sink {
	var out fanout
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return Nop()
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

func (f fanout) LogScalars(ctx context.Context, step int, scalars map[string]float64) error {
	var errs []error
	for _, s := range f {
		errs = append(errs, s.LogScalars(ctx, step, scalars))
	}
	return stdliberrors.Join(errs...)
}

func (f fanout) LogImage(ctx context.Context, step int, name string, png []byte) error {
	var errs []error
	for _, s := range f {
		errs = append(errs, s.LogImage(ctx, step, name, png))
	}
	return stdliberrors.Join(errs...)
}

func (f fanout) Close() error {
	var errs []error
	for _, s := range f {
		errs = append(errs, s.Close())
	}
	return stdliberrors.Join(errs...)
}
