package realtime_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/chaperone/internal/app"
	"github.com/oggyb/chaperone/internal/app/apptest"
	"github.com/oggyb/chaperone/internal/db"
	"github.com/oggyb/chaperone/internal/db/dbtest"
	svcErr "github.com/oggyb/chaperone/internal/errors"
	"github.com/oggyb/chaperone/internal/realtime"
	"github.com/oggyb/chaperone/internal/service/conversation"
	"github.com/oggyb/chaperone/internal/service/discovery"
	"github.com/oggyb/chaperone/internal/service/matching"
)

type fixture struct {
	appCtx        *app.AppContext
	gateway       *realtime.Gateway
	conversations *conversation.Service
	a, b, g       *db.User
	conn          *db.Connection
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	appCtx, _ := apptest.New(t)
	gdb := appCtx.DB

	f := &fixture{appCtx: appCtx}
	f.conversations = conversation.NewConversationService(appCtx)
	m := matching.NewMatchingService(appCtx, f.conversations)
	f.gateway = realtime.NewGateway(appCtx, m, f.conversations)

	f.a = dbtest.CreateUser(t, gdb, "a", "male")
	f.b = dbtest.CreateUser(t, gdb, "b", "female")
	f.g = dbtest.CreateUser(t, gdb, "g", "", dbtest.WithRole(db.RoleGuardian))
	admin := dbtest.CreateUser(t, gdb, "admin", "", dbtest.WithRole(db.RoleAdmin))
	require.NoError(t, gdb.Create(&db.GuardianLink{
		PrincipalID:       f.a.ID,
		GuardianAccountID: &f.g.ID,
		Name:              "g",
		ContactEmail:      f.g.Email,
		Status:            db.GuardianActive,
		InviteToken:       uuid.NewString(),
	}).Error)

	d := discovery.NewDiscoveryService(appCtx)
	_, err := d.Like(ctx, f.a.ID, f.b.ID)
	require.NoError(t, err)
	res, err := d.Like(ctx, f.b.ID, f.a.ID)
	require.NoError(t, err)

	f.conn, err = m.Validate(ctx, res.Connection.ID, admin.ID, "")
	require.NoError(t, err)
	return f
}

func TestAuthorizeConnection(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	outsider := dbtest.CreateUser(t, f.appCtx.DB, "o", "female")

	assert.NoError(t, f.gateway.AuthorizeConnection(ctx, f.conn.ID, f.a.ID))
	assert.NoError(t, f.gateway.AuthorizeConnection(ctx, f.conn.ID, f.b.ID))
	assert.NoError(t, f.gateway.AuthorizeConnection(ctx, f.conn.ID, f.g.ID))

	// read-only guardians keep watching
	require.NoError(t, f.conversations.Leave(ctx, *f.conn.GroupConversationID, f.g.ID))
	assert.NoError(t, f.gateway.AuthorizeConnection(ctx, f.conn.ID, f.g.ID))

	assert.ErrorIs(t, f.gateway.AuthorizeConnection(ctx, f.conn.ID, outsider.ID), svcErr.ErrForbidden)
	assert.ErrorIs(t, f.gateway.AuthorizeConnection(ctx, 999, f.a.ID), svcErr.ErrNotFound)
}

func TestStreamRelaysMessages(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := f.gateway.Stream(w, r, f.gateway.ConnectionChannel(f.conn.ID)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer ws.Close()

	// the subscription is confirmed before the upgrade completes
	msg, err := f.conversations.PostMessage(ctx, conversation.ByConnection(f.conn.ID), f.g.ID, "hello both", nil)
	require.NoError(t, err)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := ws.ReadMessage()
	require.NoError(t, err)

	var ev conversation.MessageEvent
	require.NoError(t, json.Unmarshal(payload, &ev))
	assert.Equal(t, msg.ID, ev.ID)
	assert.Equal(t, db.SenderGuardian, ev.SenderRole)
	assert.Equal(t, "hello both", ev.Text)
}

func TestStreamRejectsForeignOrigins(t *testing.T) {
	f := setup(t)
	f.appCtx.Config.HTTP.AllowedOrigins = []string{"https://app.example.com"}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = f.gateway.Stream(w, r, f.gateway.UserChannel(f.a.ID))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
