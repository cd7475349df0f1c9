package wire

import (
	"context"

	"github.com/goccy/go-json"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/webhealth/canary/pkg/types"
)

const (
	// CodecName is the gRPC content-subtype used by the metric service.
	CodecName = "json"

	ServiceName         = "canary.v1.MetricService"
	PutMetricDataMethod = "/canary.v1.MetricService/PutMetricData"
)

func init() {
	encoding.RegisterCodec(Codec{})
}

// Codec marshals gRPC messages as JSON.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (Codec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (Codec) Name() string                       { return CodecName }

// PutMetricDataRequest is one batch of points.
type PutMetricDataRequest struct {
	Points []types.Point `json:"points"`
}

// PutMetricDataResponse acknowledges a batch.
type PutMetricDataResponse struct {
	Ok       bool   `json:"ok"`
	Accepted int    `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// MetricServiceServer is implemented by the metric server's receiver.
type MetricServiceServer interface {
	PutMetricData(context.Context, *PutMetricDataRequest) (*PutMetricDataResponse, error)
}

// MetricServiceClient is the client side of MetricService.
type MetricServiceClient interface {
	PutMetricData(ctx context.Context, in *PutMetricDataRequest, opts ...grpc.CallOption) (*PutMetricDataResponse, error)
}

type metricServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewMetricServiceClient returns a client that sends JSON-encoded calls over cc.
func NewMetricServiceClient(cc grpc.ClientConnInterface) MetricServiceClient {
	return &metricServiceClient{cc: cc}
}

func (c *metricServiceClient) PutMetricData(ctx context.Context, in *PutMetricDataRequest, opts ...grpc.CallOption) (*PutMetricDataResponse, error) {
	out := new(PutMetricDataResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, PutMetricDataMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterMetricServiceServer registers srv on s.
func RegisterMetricServiceServer(s grpc.ServiceRegistrar, srv MetricServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

func putMetricDataHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PutMetricDataRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MetricServiceServer).PutMetricData(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PutMetricDataMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MetricServiceServer).PutMetricData(ctx, req.(*PutMetricDataRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MetricServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PutMetricData", Handler: putMetricDataHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "canary/v1/metric.proto",
}
