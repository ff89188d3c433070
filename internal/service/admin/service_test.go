package admin_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/oggyb/chaperone/internal/app"
	"github.com/oggyb/chaperone/internal/app/apptest"
	"github.com/oggyb/chaperone/internal/auth"
	"github.com/oggyb/chaperone/internal/db"
	"github.com/oggyb/chaperone/internal/db/dbtest"
	svcErr "github.com/oggyb/chaperone/internal/errors"
	"github.com/oggyb/chaperone/internal/logger"
	"github.com/oggyb/chaperone/internal/server"
	"github.com/oggyb/chaperone/internal/service/admin"
	"github.com/oggyb/chaperone/internal/service/conversation"
	"github.com/oggyb/chaperone/internal/service/discovery"
	"github.com/oggyb/chaperone/internal/service/matching"
)

//
// Test helpers
//

type env struct {
	appCtx    *app.AppContext
	client    *admin.Client
	tokens    *auth.Tokens
	discovery *discovery.Service
}

// setup serves the admin API over an in-memory listener.
func setup(t *testing.T) *env {
	t.Helper()
	appCtx, _ := apptest.New(t)
	tokens := auth.NewTokens("secret", time.Hour)
	m := matching.NewMatchingService(appCtx, conversation.NewConversationService(appCtx))

	lis := bufconn.Listen(1 << 20)
	srv, _ := server.NewGRPCServer(logger.Discard(), admin.NewRegistrar(appCtx, m, tokens))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })

	return &env{
		appCtx:    appCtx,
		client:    admin.NewClient(cc),
		tokens:    tokens,
		discovery: discovery.NewDiscoveryService(appCtx),
	}
}

func (e *env) as(t *testing.T, u *db.User) context.Context {
	t.Helper()
	raw, _, err := e.tokens.Issue(u.ID, u.Role)
	require.NoError(t, err)
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+raw)
}

func (e *env) pending(t *testing.T, x, y *db.User) uint64 {
	t.Helper()
	ctx := context.Background()
	_, err := e.discovery.Like(ctx, x.ID, y.ID)
	require.NoError(t, err)
	res, err := e.discovery.Like(ctx, y.ID, x.ID)
	require.NoError(t, err)
	return res.Connection.ID
}

//
// Tests
//

func TestValidateConnection(t *testing.T) {
	e := setup(t)
	gdb := e.appCtx.DB
	x := dbtest.CreateUser(t, gdb, "x", "male")
	y := dbtest.CreateUser(t, gdb, "y", "female")
	boss := dbtest.CreateUser(t, gdb, "boss", "", dbtest.WithRole(db.RoleAdmin))
	connID := e.pending(t, x, y)

	list, err := e.client.ListPendingConnections(e.as(t, boss), &admin.ListPendingConnectionsRequest{})
	require.NoError(t, err)
	require.Len(t, list.Connections, 1)
	assert.Equal(t, connID, list.Connections[0].ID)
	assert.Equal(t, string(db.StatusPendingAdminValidation), list.Connections[0].Status)

	reply, err := e.client.ValidateConnection(e.as(t, boss), &admin.ValidateConnectionRequest{
		ConnectionID: connID,
		Notes:        "ok",
	})
	require.NoError(t, err)
	assert.Equal(t, string(db.StatusValidated), reply.Connection.Status)
	assert.NotNil(t, reply.Connection.GroupConversationID)
	require.NotNil(t, reply.Connection.ValidatedBy)
	assert.Equal(t, boss.ID, *reply.Connection.ValidatedBy)
	assert.NotZero(t, reply.Connection.ValidatedAt)

	// second validation is a state error
	_, err = e.client.ValidateConnection(e.as(t, boss), &admin.ValidateConnectionRequest{ConnectionID: connID})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.Equal(t, svcErr.KindInvalidState, svcErr.ReasonOf(err))

	list, err = e.client.ListPendingConnections(e.as(t, boss), &admin.ListPendingConnectionsRequest{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, list.Connections)
}

func TestRejectConnection(t *testing.T) {
	e := setup(t)
	gdb := e.appCtx.DB
	x := dbtest.CreateUser(t, gdb, "x", "male")
	y := dbtest.CreateUser(t, gdb, "y", "female")
	boss := dbtest.CreateUser(t, gdb, "boss", "", dbtest.WithRole(db.RoleAdmin))
	connID := e.pending(t, x, y)

	reply, err := e.client.RejectConnection(e.as(t, boss), &admin.RejectConnectionRequest{
		ConnectionID: connID,
		Reason:       "incomplete profile",
	})
	require.NoError(t, err)
	assert.Equal(t, string(db.StatusRejected), reply.Connection.Status)
	assert.Nil(t, reply.Connection.GroupConversationID)
	assert.Equal(t, "incomplete profile", reply.Connection.ValidationNotes)
	assert.Zero(t, reply.Connection.ValidatedAt)
}

func TestAdminGuards(t *testing.T) {
	e := setup(t)
	gdb := e.appCtx.DB
	x := dbtest.CreateUser(t, gdb, "x", "male")
	y := dbtest.CreateUser(t, gdb, "y", "female")
	boss := dbtest.CreateUser(t, gdb, "boss", "", dbtest.WithRole(db.RoleAdmin))
	connID := e.pending(t, x, y)

	_, err := e.client.ValidateConnection(context.Background(), &admin.ValidateConnectionRequest{ConnectionID: connID})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	bad := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer junk")
	_, err = e.client.ListPendingConnections(bad, &admin.ListPendingConnectionsRequest{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	// principals cannot validate their own match
	_, err = e.client.ValidateConnection(e.as(t, x), &admin.ValidateConnectionRequest{ConnectionID: connID})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
	assert.Equal(t, svcErr.KindForbidden, svcErr.ReasonOf(err))

	_, err = e.client.ValidateConnection(e.as(t, boss), &admin.ValidateConnectionRequest{ConnectionID: 999})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = e.client.RejectConnection(e.as(t, boss), &admin.RejectConnectionRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
