package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ServiceName is the fully qualified gRPC service name of a worker.
const ServiceName = "orchard.worker.v1.Worker"

// WorkerServer is implemented by every language backend. Any process serving
// this contract on the port it was given can act as a sidecar.
type WorkerServer interface {
	Ping(context.Context, *PingRequest) (*PingResponse, error)
	GetAstNodeInfo(context.Context, *NodeRequest) (*NodeInfoResponse, error)
	GetAstNodeInfoByPosition(context.Context, *PositionRequest) (*NodeInfoResponse, error)
	GetSourceText(context.Context, *NodeRequest) (*TextResponse, error)
	GetDocumentation(context.Context, *NodeRequest) (*TextResponse, error)
	GetProperties(context.Context, *NodeRequest) (*PropertiesResponse, error)
	GetReferenceTypes(context.Context, *NodeRequest) (*KindsResponse, error)
	GetReferenceCount(context.Context, *ReferenceRequest) (*CountResponse, error)
	GetReferences(context.Context, *ReferenceRequest) (*NodeListResponse, error)
	GetFileReferenceTypes(context.Context, *FileRequest) (*KindsResponse, error)
	GetFileReferenceCount(context.Context, *FileRequest) (*CountResponse, error)
	GetFileReferences(context.Context, *FileRequest) (*NodeListResponse, error)
	GetDiagramTypes(context.Context, *NodeRequest) (*KindsResponse, error)
	GetDiagram(context.Context, *DiagramRequest) (*BytesResponse, error)
	GetDiagramLegend(context.Context, *LegendRequest) (*BytesResponse, error)
	GetSyntaxHighlight(context.Context, *HighlightRequest) (*HighlightResponse, error)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// unary adapts a WorkerServer method to a grpc.MethodHandler.
func unary[Req, Resp any](name string, call func(WorkerServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(WorkerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(WorkerServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes the worker contract to grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*WorkerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Ping", WorkerServer.Ping),
		unary("GetAstNodeInfo", WorkerServer.GetAstNodeInfo),
		unary("GetAstNodeInfoByPosition", WorkerServer.GetAstNodeInfoByPosition),
		unary("GetSourceText", WorkerServer.GetSourceText),
		unary("GetDocumentation", WorkerServer.GetDocumentation),
		unary("GetProperties", WorkerServer.GetProperties),
		unary("GetReferenceTypes", WorkerServer.GetReferenceTypes),
		unary("GetReferenceCount", WorkerServer.GetReferenceCount),
		unary("GetReferences", WorkerServer.GetReferences),
		unary("GetFileReferenceTypes", WorkerServer.GetFileReferenceTypes),
		unary("GetFileReferenceCount", WorkerServer.GetFileReferenceCount),
		unary("GetFileReferences", WorkerServer.GetFileReferences),
		unary("GetDiagramTypes", WorkerServer.GetDiagramTypes),
		unary("GetDiagram", WorkerServer.GetDiagram),
		unary("GetDiagramLegend", WorkerServer.GetDiagramLegend),
		unary("GetSyntaxHighlight", WorkerServer.GetSyntaxHighlight),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "orchard/worker.v1",
}

// NewServer returns a gRPC server with impl registered.
func NewServer(impl WorkerServer, opts ...grpc.ServerOption) *grpc.Server {
	s := grpc.NewServer(opts...)
	s.RegisterService(&ServiceDesc, impl)
	return s
}

// Dial creates a client connection to a worker at addr. The connection is
// lazy; the first call establishes it.
func Dial(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}
	return grpc.NewClient(addr, append(base, opts...)...)
}

// Client is the typed caller side of WorkerServer.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Compile-time check: *Client satisfies WorkerServer so bridges and
// in-process workers are interchangeable.
var _ WorkerServer = (*Client)(nil)

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, name string, in any) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, fullMethod(name), in, out, grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Ping(ctx context.Context, in *PingRequest) (*PingResponse, error) {
	return invoke[PingResponse](ctx, c.cc, "Ping", in)
}

func (c *Client) GetAstNodeInfo(ctx context.Context, in *NodeRequest) (*NodeInfoResponse, error) {
	return invoke[NodeInfoResponse](ctx, c.cc, "GetAstNodeInfo", in)
}

func (c *Client) GetAstNodeInfoByPosition(ctx context.Context, in *PositionRequest) (*NodeInfoResponse, error) {
	return invoke[NodeInfoResponse](ctx, c.cc, "GetAstNodeInfoByPosition", in)
}

func (c *Client) GetSourceText(ctx context.Context, in *NodeRequest) (*TextResponse, error) {
	return invoke[TextResponse](ctx, c.cc, "GetSourceText", in)
}

func (c *Client) GetDocumentation(ctx context.Context, in *NodeRequest) (*TextResponse, error) {
	return invoke[TextResponse](ctx, c.cc, "GetDocumentation", in)
}

func (c *Client) GetProperties(ctx context.Context, in *NodeRequest) (*PropertiesResponse, error) {
	return invoke[PropertiesResponse](ctx, c.cc, "GetProperties", in)
}

func (c *Client) GetReferenceTypes(ctx context.Context, in *NodeRequest) (*KindsResponse, error) {
	return invoke[KindsResponse](ctx, c.cc, "GetReferenceTypes", in)
}

func (c *Client) GetReferenceCount(ctx context.Context, in *ReferenceRequest) (*CountResponse, error) {
	return invoke[CountResponse](ctx, c.cc, "GetReferenceCount", in)
}

func (c *Client) GetReferences(ctx context.Context, in *ReferenceRequest) (*NodeListResponse, error) {
	return invoke[NodeListResponse](ctx, c.cc, "GetReferences", in)
}

func (c *Client) GetFileReferenceTypes(ctx context.Context, in *FileRequest) (*KindsResponse, error) {
	return invoke[KindsResponse](ctx, c.cc, "GetFileReferenceTypes", in)
}

func (c *Client) GetFileReferenceCount(ctx context.Context, in *FileRequest) (*CountResponse, error) {
	return invoke[CountResponse](ctx, c.cc, "GetFileReferenceCount", in)
}

func (c *Client) GetFileReferences(ctx context.Context, in *FileRequest) (*NodeListResponse, error) {
	return invoke[NodeListResponse](ctx, c.cc, "GetFileReferences", in)
}

func (c *Client) GetDiagramTypes(ctx context.Context, in *NodeRequest) (*KindsResponse, error) {
	return invoke[KindsResponse](ctx, c.cc, "GetDiagramTypes", in)
}

func (c *Client) GetDiagram(ctx context.Context, in *DiagramRequest) (*BytesResponse, error) {
	return invoke[BytesResponse](ctx, c.cc, "GetDiagram", in)
}

func (c *Client) GetDiagramLegend(ctx context.Context, in *LegendRequest) (*BytesResponse, error) {
	return invoke[BytesResponse](ctx, c.cc, "GetDiagramLegend", in)
}

func (c *Client) GetSyntaxHighlight(ctx context.Context, in *HighlightRequest) (*HighlightResponse, error) {
	return invoke[HighlightResponse](ctx, c.cc, "GetSyntaxHighlight", in)
}
