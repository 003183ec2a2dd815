package grpc

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/turtacn/molgfn/internal/intelligence/common"
	"github.com/turtacn/molgfn/internal/intelligence/sehproxy"
	"github.com/turtacn/molgfn/pkg/errors"
)

// ProxyService serves a model backend over the sehproxy wire contract.
type ProxyService struct {
	backend common.ModelBackend
}

var _ sehproxy.ProxyServer = (*ProxyService)(nil)

func NewProxyService(backend common.ModelBackend) *ProxyService {
	return &ProxyService{backend: backend}
}

// Register adds the service to s.
func (p *ProxyService) Register(s *Server) {
	s.RegisterService(&sehproxy.ProxyServiceDesc, p)
}

func (p *ProxyService) Predict(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := sehproxy.StructToRequest(in)
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	resp, err := p.backend.Predict(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := sehproxy.ResponseToStruct(resp)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func toStatus(err error) error {
	switch {
	case errors.IsCode(err, errors.CodeInvalidParam):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.IsCode(err, errors.CodeTimeout):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.IsCode(err, errors.CodeUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	default:
		if _, ok := status.FromError(err); ok {
			return err
		}
		return status.Error(codes.Internal, err.Error())
	}
}
