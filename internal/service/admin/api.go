package admin

import (
	"context"

	"google.golang.org/grpc"

	"github.com/oggyb/chaperone/internal/db"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "chaperone.admin.v1.AdminService"

type ValidateConnectionRequest struct {
	ConnectionID uint64 `json:"connection_id"`
	Notes        string `json:"notes,omitempty"`
}

type RejectConnectionRequest struct {
	ConnectionID uint64 `json:"connection_id"`
	Reason       string `json:"reason,omitempty"`
}

type ListPendingConnectionsRequest struct {
	Limit int `json:"limit,omitempty"`
}

// Connection is the wire form of db.Connection. Timestamps are unix millis.
type Connection struct {
	ID                  uint64  `json:"id"`
	PrincipalAID        uint64  `json:"principal_a_id"`
	PrincipalBID        uint64  `json:"principal_b_id"`
	Status              string  `json:"status"`
	GroupConversationID *uint64 `json:"group_conversation_id,omitempty"`
	ValidatedBy         *uint64 `json:"validated_by,omitempty"`
	ValidatedAt         int64   `json:"validated_at,omitempty"`
	ValidationNotes     string  `json:"validation_notes,omitempty"`
	CreatedAt           int64   `json:"created_at"`
}

type ConnectionReply struct {
	Connection Connection `json:"connection"`
}

type ListPendingConnectionsReply struct {
	Connections []Connection `json:"connections"`
}

func toConnection(c *db.Connection) Connection {
	out := Connection{
		ID:                  c.ID,
		PrincipalAID:        c.PrincipalAID,
		PrincipalBID:        c.PrincipalBID,
		Status:              string(c.Status),
		GroupConversationID: c.GroupConversationID,
		ValidatedBy:         c.ValidatedBy,
		ValidationNotes:     c.ValidationNotes,
		CreatedAt:           c.CreatedAt.UnixMilli(),
	}
	if c.ValidatedAt != nil {
		out.ValidatedAt = c.ValidatedAt.UnixMilli()
	}
	return out
}

// AdminServer is the server API of the admin validation gate.
type AdminServer interface {
	ValidateConnection(context.Context, *ValidateConnectionRequest) (*ConnectionReply, error)
	RejectConnection(context.Context, *RejectConnectionRequest) (*ConnectionReply, error)
	ListPendingConnections(context.Context, *ListPendingConnectionsRequest) (*ListPendingConnectionsReply, error)
}

// unary adapts a typed method to grpc.MethodDesc.Handler.
func unary[Req any, Resp any](method string, call func(AdminServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AdminServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + method,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(AdminServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes AdminService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("ValidateConnection", AdminServer.ValidateConnection),
		unary("RejectConnection", AdminServer.RejectConnection),
		unary("ListPendingConnections", AdminServer.ListPendingConnections),
	},
	Streams: []grpc.StreamDesc{},
}

// Client calls AdminService with the JSON codec.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...)
}

func (c *Client) ValidateConnection(ctx context.Context, in *ValidateConnectionRequest, opts ...grpc.CallOption) (*ConnectionReply, error) {
	out := new(ConnectionReply)
	if err := c.invoke(ctx, "ValidateConnection", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) RejectConnection(ctx context.Context, in *RejectConnectionRequest, opts ...grpc.CallOption) (*ConnectionReply, error) {
	out := new(ConnectionReply)
	if err := c.invoke(ctx, "RejectConnection", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListPendingConnections(ctx context.Context, in *ListPendingConnectionsRequest, opts ...grpc.CallOption) (*ListPendingConnectionsReply, error) {
	out := new(ListPendingConnectionsReply)
	if err := c.invoke(ctx, "ListPendingConnections", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}
