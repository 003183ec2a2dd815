// Package common holds what the model-backed parts of molgfn share: the
// ModelBackend contract, inference metrics and the retry helper for remote
// backends.
package common

import (
	"context"
	stdliberrors "errors"
	"fmt"
)

var (
	ErrInvalidInput = stdliberrors.New("invalid input")
	ErrCircuitOpen  = stdliberrors.New("circuit breaker is open")
	ErrClosed       = stdliberrors.New("backend closed")
)

// Format names the encoding of a payload.  Only JSON is produced today.
type Format string

const FormatJSON Format = "json"

func (f Format) String() string {
	if f == "" {
		return "unset"
	}
	return string(f)
}

// ModelBackend scores encoded inputs.  Implementations: the in-process
// surrogate, the HTTP client and the gRPC client of sehproxy.
type ModelBackend interface {
	Predict(ctx context.Context, req *PredictRequest) (*PredictResponse, error)
	Healthy(ctx context.Context) error
	Close() error
}

type PredictRequest struct {
	ModelName    string            `json:"model_name"`
	ModelVersion string            `json:"model_version,omitempty"`
	InputData    []byte            `json:"input_data"`
	InputFormat  Format            `json:"input_format"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Validate rejects requests without a model name or payload.
func (r *PredictRequest) Validate() error {
	switch {
	case r == nil:
		return fmt.Errorf("%w: nil request", ErrInvalidInput)
	case r.ModelName == "":
		return fmt.Errorf("%w: model name missing", ErrInvalidInput)
	case len(r.InputData) == 0:
		return fmt.Errorf("%w: empty payload for model %s", ErrInvalidInput, r.ModelName)
	}
	return nil
}

// PredictResponse maps output names to encoded values.
type PredictResponse struct {
	ModelName       string            `json:"model_name"`
	ModelVersion    string            `json:"model_version"`
	Outputs         map[string][]byte `json:"outputs"`
	OutputFormat    Format            `json:"output_format"`
	InferenceTimeMs int64             `json:"inference_time_ms"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}
