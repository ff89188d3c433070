package admin

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/oggyb/chaperone/internal/app"
	"github.com/oggyb/chaperone/internal/auth"
	svcErr "github.com/oggyb/chaperone/internal/errors"
	"github.com/oggyb/chaperone/internal/service/matching"
)

// Service implements the admin validation gate over gRPC.
// Callers authenticate with an "authorization: Bearer <token>" metadata
// entry; the matching service checks that the account is an admin.
type Service struct {
	appCtx   *app.AppContext
	matching *matching.Service
	tokens   *auth.Tokens
}

// NewAdminService creates the gRPC admin API on top of the matching service.
func NewAdminService(appCtx *app.AppContext, matching *matching.Service, tokens *auth.Tokens) *Service {
	return &Service{appCtx: appCtx, matching: matching, tokens: tokens}
}

// caller resolves the account id from the bearer token in the metadata.
func (s *Service) caller(ctx context.Context) (uint64, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get("authorization")
	if len(values) == 0 {
		return 0, status.Error(codes.Unauthenticated, "missing authorization metadata")
	}
	raw := strings.TrimSpace(values[0])
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		raw = strings.TrimSpace(raw[7:])
	}

	claims, err := s.tokens.Parse(raw)
	if err != nil {
		return 0, status.Error(codes.Unauthenticated, "invalid or expired token")
	}
	id, err := claims.UserID()
	if err != nil {
		return 0, status.Error(codes.Unauthenticated, "invalid token subject")
	}
	return id, nil
}

// ValidateConnection approves a connection awaiting validation and
// provisions its group conversation.
func (s *Service) ValidateConnection(ctx context.Context, req *ValidateConnectionRequest) (*ConnectionReply, error) {
	s.appCtx.Logger.Debug("ValidateConnection called", "connection", req.ConnectionID)

	adminID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	if req.ConnectionID == 0 {
		return nil, svcErr.InvalidArgument("connection_id is required")
	}

	conn, err := s.matching.Validate(ctx, req.ConnectionID, adminID, req.Notes)
	if err != nil {
		s.appCtx.Logger.Warn("Validate failed", "connection", req.ConnectionID, "err", err)
		return nil, svcErr.Map(err)
	}
	return &ConnectionReply{Connection: toConnection(conn)}, nil
}

// RejectConnection closes a connection awaiting validation for good.
func (s *Service) RejectConnection(ctx context.Context, req *RejectConnectionRequest) (*ConnectionReply, error) {
	s.appCtx.Logger.Debug("RejectConnection called", "connection", req.ConnectionID)

	adminID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	if req.ConnectionID == 0 {
		return nil, svcErr.InvalidArgument("connection_id is required")
	}

	conn, err := s.matching.Reject(ctx, req.ConnectionID, adminID, req.Reason)
	if err != nil {
		s.appCtx.Logger.Warn("Reject failed", "connection", req.ConnectionID, "err", err)
		return nil, svcErr.Map(err)
	}
	return &ConnectionReply{Connection: toConnection(conn)}, nil
}

// ListPendingConnections returns the validation queue, oldest first.
func (s *Service) ListPendingConnections(ctx context.Context, req *ListPendingConnectionsRequest) (*ListPendingConnectionsReply, error) {
	adminID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}

	conns, err := s.matching.ListPending(ctx, adminID, req.Limit)
	if err != nil {
		return nil, svcErr.Map(err)
	}

	resp := &ListPendingConnectionsReply{Connections: make([]Connection, 0, len(conns))}
	for i := range conns {
		resp.Connections = append(resp.Connections, toConnection(&conns[i]))
	}
	s.appCtx.Logger.Debug("ListPendingConnections result", "count", len(resp.Connections))
	return resp, nil
}

// Registrar ties the admin service into the gRPC server.
type Registrar struct {
	appCtx   *app.AppContext
	matching *matching.Service
	tokens   *auth.Tokens
}

// NewRegistrar creates a new Registrar for the admin service.
func NewRegistrar(appCtx *app.AppContext, matching *matching.Service, tokens *auth.Tokens) *Registrar {
	return &Registrar{appCtx: appCtx, matching: matching, tokens: tokens}
}

// Register attaches the admin service implementation to the gRPC server.
func (r *Registrar) Register(s *grpc.Server) {
	s.RegisterService(&ServiceDesc, NewAdminService(r.appCtx, r.matching, r.tokens))
}
