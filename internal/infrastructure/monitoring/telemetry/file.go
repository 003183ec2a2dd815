package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/turtacn/molgfn/pkg/errors"
)

// EventsFile is the JSON-lines file written by FileSink.
const EventsFile = "events.jsonl"

// FileSink appends events to <dir>/events.jsonl and stores images under
// <dir>/images.
type FileSink struct {
	mu    sync.Mutex
	dir   string
	runID string
	f     *os.File
	enc   *json.Encoder
}

// NewFileSink opens (or creates) the events file in dir.
func NewFileSink(dir, runID string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Join(dir, "images"), 0o755); err != nil {
		return nil, errors.Wrap(err, errors.CodeStorageError, "create telemetry dir")
	}
	f, err := os.OpenFile(filepath.Join(dir, EventsFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStorageError, "open events file")
	}
	return &FileSink{dir: dir, runID: runID, f: f, enc: json.NewEncoder(f)}, nil
}

// LogScalars writes one scalars event.
func (s *FileSink) LogScalars(_ context.Context, step int, scalars map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(Event{RunID: s.runID, Step: step, Kind: KindScalars, Scalars: scalars, Time: time.Now().UTC()})
}

// LogImage writes the PNG next to the events file and records its path.
func (s *FileSink) LogImage(_ context.Context, step int, name string, png []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rel := filepath.Join("images", fmt.Sprintf("%s_%d.png", name, step))
	if err := os.WriteFile(filepath.Join(s.dir, rel), png, 0o644); err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "write telemetry image")
	}
	return s.write(Event{RunID: s.runID, Step: step, Kind: KindImage, Name: name, Path: rel, Time: time.Now().UTC()})
}

func (s *FileSink) write(ev Event) error {
	if s.f == nil {
		return errors.New(errors.CodeStorageError, "telemetry file sink is closed")
	}
	if err := s.enc.Encode(ev); err != nil {
		return errors.Wrap(err, errors.CodeSerialization, "encode telemetry event")
	}
	return nil
}

// Close closes the events file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
