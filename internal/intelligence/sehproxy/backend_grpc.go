package sehproxy

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/turtacn/molgfn/internal/intelligence/common"
	"github.com/turtacn/molgfn/pkg/errors"
)

// gRPC contract.  Messages are google.protobuf.Struct so that no generated
// code is needed on either side.
const (
	ServiceName        = "molgfn.proxy.v1.ProxyService"
	PredictFullMethod  = "/" + ServiceName + "/Predict"
	fieldModelName     = "model_name"
	fieldModelVersion  = "model_version"
	fieldInputJSON     = "input_json"
	fieldMetadata      = "metadata"
	fieldOutputs       = "outputs"
	fieldInferenceTime = "inference_time_ms"
)

// ProxyServer is implemented by the gRPC proxy service.
type ProxyServer interface {
	Predict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterProxyServer registers srv on s.
func RegisterProxyServer(s grpc.ServiceRegistrar, srv ProxyServer) {
	s.RegisterService(&ProxyServiceDesc, srv)
}

func predictHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProxyServer).Predict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PredictFullMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ProxyServer).Predict(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ProxyServiceDesc describes the proxy service.
var ProxyServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ProxyServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Predict", Handler: predictHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "molgfn/proxy/v1/proxy.proto",
}

// ---------------------------------------------------------------------------
// Struct conversion
// ---------------------------------------------------------------------------

func stringMap(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func fromStringStruct(s *structpb.Struct) map[string]string {
	if s == nil || len(s.GetFields()) == 0 {
		return nil
	}
	out := make(map[string]string, len(s.GetFields()))
	for k, v := range s.GetFields() {
		out[k] = v.GetStringValue()
	}
	return out
}

// RequestToStruct converts a PredictRequest for the wire.
func RequestToStruct(req *common.PredictRequest) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(map[string]interface{}{
		fieldModelName:    req.ModelName,
		fieldModelVersion: req.ModelVersion,
		fieldInputJSON:    string(req.InputData),
		fieldMetadata:     stringMap(req.Metadata),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeSerialization, "encode grpc request")
	}
	return s, nil
}

// StructToRequest is the inverse of RequestToStruct.
func StructToRequest(s *structpb.Struct) *common.PredictRequest {
	f := s.GetFields()
	return &common.PredictRequest{
		ModelName:    f[fieldModelName].GetStringValue(),
		ModelVersion: f[fieldModelVersion].GetStringValue(),
		InputData:    []byte(f[fieldInputJSON].GetStringValue()),
		InputFormat:  common.FormatJSON,
		Metadata:     fromStringStruct(f[fieldMetadata].GetStructValue()),
	}
}

// ResponseToStruct converts a PredictResponse for the wire.
func ResponseToStruct(resp *common.PredictResponse) (*structpb.Struct, error) {
	outputs := make(map[string]interface{}, len(resp.Outputs))
	for k, v := range resp.Outputs {
		outputs[k] = string(v)
	}
	s, err := structpb.NewStruct(map[string]interface{}{
		fieldModelName:     resp.ModelName,
		fieldModelVersion:  resp.ModelVersion,
		fieldOutputs:       outputs,
		fieldInferenceTime: float64(resp.InferenceTimeMs),
		fieldMetadata:      stringMap(resp.Metadata),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeSerialization, "encode grpc response")
	}
	return s, nil
}

// StructToResponse is the inverse of ResponseToStruct.
func StructToResponse(s *structpb.Struct) *common.PredictResponse {
	f := s.GetFields()
	outputs := make(map[string][]byte)
	for k, v := range f[fieldOutputs].GetStructValue().GetFields() {
		outputs[k] = []byte(v.GetStringValue())
	}
	return &common.PredictResponse{
		ModelName:       f[fieldModelName].GetStringValue(),
		ModelVersion:    f[fieldModelVersion].GetStringValue(),
		Outputs:         outputs,
		OutputFormat:    common.FormatJSON,
		InferenceTimeMs: int64(f[fieldInferenceTime].GetNumberValue()),
		Metadata:        fromStringStruct(f[fieldMetadata].GetStructValue()),
	}
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// GRPCBackend calls a remote proxy served by `molgfn serve-proxy`.
type GRPCBackend struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

// NewGRPCBackend dials target.  Without options the connection is
// plaintext.
func NewGRPCBackend(ctx context.Context, target string, opts ...grpc.DialOption) (*GRPCBackend, error) {
	if target == "" {
		return nil, errors.InvalidParam("proxy endpoint is required")
	}
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.DialContext(ctx, target, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUnavailable, "dial proxy").WithDetail(target)
	}
	return &GRPCBackend{conn: conn, health: healthpb.NewHealthClient(conn)}, nil
}

// Predict invokes ProxyService/Predict.
func (b *GRPCBackend) Predict(ctx context.Context, req *common.PredictRequest) (*common.PredictResponse, error) {
	in, err := RequestToStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := b.conn.Invoke(ctx, PredictFullMethod, in, out); err != nil {
		return nil, err
	}
	return StructToResponse(out), nil
}

// Healthy queries the standard health service for ServiceName.
func (b *GRPCBackend) Healthy(ctx context.Context) error {
	resp, err := b.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return errors.Wrap(err, errors.CodeUnavailable, "proxy health check failed")
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return errors.New(errors.CodeUnavailable, "proxy is not serving").WithDetail(resp.GetStatus().String())
	}
	return nil
}

// Close closes the connection.
func (b *GRPCBackend) Close() error {
	return b.conn.Close()
}
