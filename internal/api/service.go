package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "leadscoring.v1.LeadScoring"

// Method names of the LeadScoring service.
const (
	MethodPredict              = "Predict"
	MethodTrain                = "Train"
	MethodListRuns             = "ListRuns"
	MethodGetRun               = "GetRun"
	MethodSearchLeads          = "SearchLeads"
	MethodListNotifications    = "ListNotifications"
	MethodMarkNotificationRead = "MarkNotificationRead"
	MethodAnalyze              = "Analyze"
)

// FullMethod returns the invoke path of a LeadScoring method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// LeadScoringServer is the server API of the LeadScoring service. Requests and
// responses are JSON-shaped google.protobuf.Struct payloads.
type LeadScoringServer interface {
	Predict(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Train(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRuns(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SearchLeads(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListNotifications(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkNotificationRead(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Analyze(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedLeadScoringServer returns Unimplemented for every method.
type UnimplementedLeadScoringServer struct{}

func (UnimplementedLeadScoringServer) Predict(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Predict not implemented")
}
func (UnimplementedLeadScoringServer) Train(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Train not implemented")
}
func (UnimplementedLeadScoringServer) ListRuns(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ListRuns not implemented")
}
func (UnimplementedLeadScoringServer) GetRun(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetRun not implemented")
}
func (UnimplementedLeadScoringServer) SearchLeads(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method SearchLeads not implemented")
}
func (UnimplementedLeadScoringServer) ListNotifications(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ListNotifications not implemented")
}
func (UnimplementedLeadScoringServer) MarkNotificationRead(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method MarkNotificationRead not implemented")
}
func (UnimplementedLeadScoringServer) Analyze(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Analyze not implemented")
}

// RegisterLeadScoringServer registers srv on s.
func RegisterLeadScoringServer(s grpc.ServiceRegistrar, srv LeadScoringServer) {
	s.RegisterService(&LeadScoringServiceDesc, srv)
}

type structCall func(LeadScoringServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call structCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LeadScoringServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LeadScoringServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// LeadScoringServiceDesc describes the LeadScoring service for grpc.Server.
var LeadScoringServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LeadScoringServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler(MethodPredict, LeadScoringServer.Predict),
		unaryHandler(MethodTrain, LeadScoringServer.Train),
		unaryHandler(MethodListRuns, LeadScoringServer.ListRuns),
		unaryHandler(MethodGetRun, LeadScoringServer.GetRun),
		unaryHandler(MethodSearchLeads, LeadScoringServer.SearchLeads),
		unaryHandler(MethodListNotifications, LeadScoringServer.ListNotifications),
		unaryHandler(MethodMarkNotificationRead, LeadScoringServer.MarkNotificationRead),
		unaryHandler(MethodAnalyze, LeadScoringServer.Analyze),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "leadscoring/v1/leadscoring.proto",
}

// Client calls the LeadScoring service over a client connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes method with req, decoding the response into out when out is non-nil.
func (c *Client) Call(ctx context.Context, method string, req any, out any, opts ...grpc.CallOption) error {
	in, err := ToStruct(req)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, resp, opts...); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return FromStruct(resp, out)
}
