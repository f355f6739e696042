package fundpoolv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	AggregationService_CreateRequest_FullMethodName = "/fundpool.v1.AggregationService/CreateRequest"
	AggregationService_GetRequest_FullMethodName    = "/fundpool.v1.AggregationService/GetRequest"
	AggregationService_Credit_FullMethodName        = "/fundpool.v1.AggregationService/Credit"
	AggregationService_AcceptPartial_FullMethodName = "/fundpool.v1.AggregationService/AcceptPartial"
	AggregationService_RequestRefund_FullMethodName = "/fundpool.v1.AggregationService/RequestRefund"
)

// AggregationServiceClient is the client API for AggregationService.
type AggregationServiceClient interface {
	CreateRequest(ctx context.Context, in *CreateRequestRequest, opts ...grpc.CallOption) (*CreateRequestResponse, error)
	GetRequest(ctx context.Context, in *GetRequestRequest, opts ...grpc.CallOption) (*GetRequestResponse, error)
	Credit(ctx context.Context, in *CreditRequest, opts ...grpc.CallOption) (*CreditResponse, error)
	AcceptPartial(ctx context.Context, in *AcceptPartialRequest, opts ...grpc.CallOption) (*AcceptPartialResponse, error)
	RequestRefund(ctx context.Context, in *RequestRefundRequest, opts ...grpc.CallOption) (*RequestRefundResponse, error)
}

type aggregationServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewAggregationServiceClient creates a client that always speaks the JSON
// codec.
func NewAggregationServiceClient(cc grpc.ClientConnInterface) AggregationServiceClient {
	return &aggregationServiceClient{cc}
}

func (c *aggregationServiceClient) invoke(ctx context.Context, method string, in, out interface{}, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}

func (c *aggregationServiceClient) CreateRequest(ctx context.Context, in *CreateRequestRequest, opts ...grpc.CallOption) (*CreateRequestResponse, error) {
	out := new(CreateRequestResponse)
	if err := c.invoke(ctx, AggregationService_CreateRequest_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *aggregationServiceClient) GetRequest(ctx context.Context, in *GetRequestRequest, opts ...grpc.CallOption) (*GetRequestResponse, error) {
	out := new(GetRequestResponse)
	if err := c.invoke(ctx, AggregationService_GetRequest_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *aggregationServiceClient) Credit(ctx context.Context, in *CreditRequest, opts ...grpc.CallOption) (*CreditResponse, error) {
	out := new(CreditResponse)
	if err := c.invoke(ctx, AggregationService_Credit_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *aggregationServiceClient) AcceptPartial(ctx context.Context, in *AcceptPartialRequest, opts ...grpc.CallOption) (*AcceptPartialResponse, error) {
	out := new(AcceptPartialResponse)
	if err := c.invoke(ctx, AggregationService_AcceptPartial_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *aggregationServiceClient) RequestRefund(ctx context.Context, in *RequestRefundRequest, opts ...grpc.CallOption) (*RequestRefundResponse, error) {
	out := new(RequestRefundResponse)
	if err := c.invoke(ctx, AggregationService_RequestRefund_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// AggregationServiceServer is the server API for AggregationService.
type AggregationServiceServer interface {
	CreateRequest(context.Context, *CreateRequestRequest) (*CreateRequestResponse, error)
	GetRequest(context.Context, *GetRequestRequest) (*GetRequestResponse, error)
	Credit(context.Context, *CreditRequest) (*CreditResponse, error)
	AcceptPartial(context.Context, *AcceptPartialRequest) (*AcceptPartialResponse, error)
	RequestRefund(context.Context, *RequestRefundRequest) (*RequestRefundResponse, error)
}

// UnimplementedAggregationServiceServer can be embedded to keep servers
// compiling when methods are added.
type UnimplementedAggregationServiceServer struct{}

func (UnimplementedAggregationServiceServer) CreateRequest(context.Context, *CreateRequestRequest) (*CreateRequestResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CreateRequest not implemented")
}
func (UnimplementedAggregationServiceServer) GetRequest(context.Context, *GetRequestRequest) (*GetRequestResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetRequest not implemented")
}
func (UnimplementedAggregationServiceServer) Credit(context.Context, *CreditRequest) (*CreditResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Credit not implemented")
}
func (UnimplementedAggregationServiceServer) AcceptPartial(context.Context, *AcceptPartialRequest) (*AcceptPartialResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method AcceptPartial not implemented")
}
func (UnimplementedAggregationServiceServer) RequestRefund(context.Context, *RequestRefundRequest) (*RequestRefundResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method RequestRefund not implemented")
}

// RegisterAggregationServiceServer registers srv with s.
func RegisterAggregationServiceServer(s grpc.ServiceRegistrar, srv AggregationServiceServer) {
	s.RegisterService(&AggregationService_ServiceDesc, srv)
}

// unaryHandler adapts one typed method to grpc.MethodDesc.
func unaryHandler[Req any, Resp any](fullMethod string, call func(AggregationServiceServer, context.Context, *Req) (*Resp, error)) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AggregationServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(AggregationServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// AggregationService_ServiceDesc is the grpc.ServiceDesc for AggregationService.
var AggregationService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "fundpool.v1.AggregationService",
	HandlerType: (*AggregationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CreateRequest",
			Handler:    unaryHandler(AggregationService_CreateRequest_FullMethodName, AggregationServiceServer.CreateRequest),
		},
		{
			MethodName: "GetRequest",
			Handler:    unaryHandler(AggregationService_GetRequest_FullMethodName, AggregationServiceServer.GetRequest),
		},
		{
			MethodName: "Credit",
			Handler:    unaryHandler(AggregationService_Credit_FullMethodName, AggregationServiceServer.Credit),
		},
		{
			MethodName: "AcceptPartial",
			Handler:    unaryHandler(AggregationService_AcceptPartial_FullMethodName, AggregationServiceServer.AcceptPartial),
		},
		{
			MethodName: "RequestRefund",
			Handler:    unaryHandler(AggregationService_RequestRefund_FullMethodName, AggregationServiceServer.RequestRefund),
		},
	},
	Streams: []grpc.StreamDesc{},
}
