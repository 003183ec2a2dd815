package sehproxy

import (
	"encoding/json"
	"math"

	"github.com/turtacn/molgfn/internal/domain/molecule"
	"github.com/turtacn/molgfn/internal/intelligence/common"
	"github.com/turtacn/molgfn/pkg/errors"
)

// batchInput is the JSON payload of a prediction request.
type batchInput struct {
	Graphs []*molecule.MolecularGraph `json:"graphs"`
}

// EncodeGraphs serializes graphs as a request payload.
func EncodeGraphs(graphs []*molecule.MolecularGraph) ([]byte, error) {
	b, err := json.Marshal(batchInput{Graphs: graphs})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeSerialization, "encode proxy input")
	}
	return b, nil
}

// DecodeGraphs parses a request payload.
func DecodeGraphs(req *common.PredictRequest) ([]*molecule.MolecularGraph, error) {
	if err := req.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidParam, "invalid proxy request")
	}
	if req.InputFormat != common.FormatJSON {
		return nil, errors.InvalidParam("unsupported input format").WithDetail(req.InputFormat.String())
	}
	var in batchInput
	if err := json.Unmarshal(req.InputData, &in); err != nil {
		return nil, errors.Wrap(err, errors.CodeSerialization, "decode proxy input")
	}
	if len(in.Graphs) == 0 {
		return nil, errors.InvalidParam("no graphs in proxy request")
	}
	return in.Graphs, nil
}

// scoreValue keeps NaN representable in JSON.
type scoreValue float64

func (s scoreValue) MarshalJSON() ([]byte, error) {
	if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
		return []byte("null"), nil
	}
	return json.Marshal(float64(s))
}

// EncodeScores builds the Outputs entry for scores.
func EncodeScores(scores []float64) ([]byte, error) {
	vals := make([]scoreValue, len(scores))
	for i, s := range scores {
		vals[i] = scoreValue(s)
	}
	b, err := json.Marshal(vals)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeSerialization, "encode proxy scores")
	}
	return b, nil
}

// DecodeScores extracts the scores from a response.  Null entries decode to
// NaN.
func DecodeScores(resp *common.PredictResponse) ([]float64, error) {
	if resp == nil {
		return nil, errors.New(errors.CodeProxyPredictionFailed, "empty proxy response")
	}
	raw, ok := resp.Outputs[OutputSEH]
	if !ok {
		return nil, errors.New(errors.CodeProxyPredictionFailed, "proxy response lacks output").WithDetail(OutputSEH)
	}
	var vals []*float64
	if err := json.Unmarshal(raw, &vals); err != nil {
		return nil, errors.Wrap(err, errors.CodeSerialization, "decode proxy scores")
	}
	out := make([]float64, len(vals))
	for i, v := range vals {
		if v == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *v
	}
	return out, nil
}
