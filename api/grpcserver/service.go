package grpcserver

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "venue.v1.Matching"

// MatchingServer is the server API of venue.v1.Matching.
type MatchingServer interface {
	PlaceOrder(context.Context, *PlaceOrderRequest) (*OrderReply, error)
	CancelOrder(context.Context, *CancelOrderRequest) (*OrderReply, error)
	ModifyOrder(context.Context, *ModifyOrderRequest) (*OrderReply, error)
	GetBook(context.Context, *GetBookRequest) (*GetBookResponse, error)
	ListSymbols(context.Context, *ListSymbolsRequest) (*ListSymbolsResponse, error)
}

func Register(s grpc.ServiceRegistrar, srv MatchingServer) {
	s.RegisterService(&serviceDesc, srv)
}

// unary builds the method handler for one RPC.
func unary[Req any, Resp any, PReq interface {
	*Req
	wireMessage
}](method string, call func(MatchingServer, context.Context, PReq) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := PReq(new(Req))
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(MatchingServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + method,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(MatchingServer), ctx, req.(PReq))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MatchingServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("PlaceOrder", MatchingServer.PlaceOrder),
		unary("CancelOrder", MatchingServer.CancelOrder),
		unary("ModifyOrder", MatchingServer.ModifyOrder),
		unary("GetBook", MatchingServer.GetBook),
		unary("ListSymbols", MatchingServer.ListSymbols),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "venue/v1/matching.proto",
}

// Client is the client API of venue.v1.Matching.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp any](ctx context.Context, c *Client, method string, in wireMessage, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) PlaceOrder(ctx context.Context, in *PlaceOrderRequest, opts ...grpc.CallOption) (*OrderReply, error) {
	return invoke[OrderReply](ctx, c, "PlaceOrder", in, opts)
}

func (c *Client) CancelOrder(ctx context.Context, in *CancelOrderRequest, opts ...grpc.CallOption) (*OrderReply, error) {
	return invoke[OrderReply](ctx, c, "CancelOrder", in, opts)
}

func (c *Client) ModifyOrder(ctx context.Context, in *ModifyOrderRequest, opts ...grpc.CallOption) (*OrderReply, error) {
	return invoke[OrderReply](ctx, c, "ModifyOrder", in, opts)
}

func (c *Client) GetBook(ctx context.Context, in *GetBookRequest, opts ...grpc.CallOption) (*GetBookResponse, error) {
	return invoke[GetBookResponse](ctx, c, "GetBook", in, opts)
}

func (c *Client) ListSymbols(ctx context.Context, in *ListSymbolsRequest, opts ...grpc.CallOption) (*ListSymbolsResponse, error) {
	return invoke[ListSymbolsResponse](ctx, c, "ListSymbols", in, opts)
}
