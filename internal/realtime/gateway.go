// Package realtime streams Redis pub/sub channels to websocket clients.
package realtime

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/oggyb/chaperone/internal/app"
	svcErr "github.com/oggyb/chaperone/internal/errors"
	"github.com/oggyb/chaperone/internal/logger"
	"github.com/oggyb/chaperone/internal/service/conversation"
	"github.com/oggyb/chaperone/internal/service/matching"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10
	maxReadSize = 4 * 1024
)

// Gateway upgrades authorized requests and relays published events.
// Clients only receive; anything they send is discarded.
type Gateway struct {
	appCtx        *app.AppContext
	matching      *matching.Service
	conversations *conversation.Service
	upgrader      websocket.Upgrader
}

func NewGateway(appCtx *app.AppContext, matching *matching.Service, conversations *conversation.Service) *Gateway {
	g := &Gateway{
		appCtx:        appCtx,
		matching:      matching,
		conversations: conversations,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range g.appCtx.Config.HTTP.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// AuthorizeConnection allows the principals of a validated connection and
// the members of its group conversation, read-only members included.
func (g *Gateway) AuthorizeConnection(ctx context.Context, connectionID, accountID uint64) error {
	conn, err := g.matching.Get(ctx, connectionID)
	if err != nil {
		return err
	}
	if !conn.IsActive() {
		return fmt.Errorf("connection %d is %s: %w", conn.ID, conn.Status, svcErr.ErrForbidden)
	}
	if conn.HasPrincipal(accountID) {
		return nil
	}
	if conn.GroupConversationID == nil {
		return fmt.Errorf("account %d is not part of connection %d: %w", accountID, conn.ID, svcErr.ErrForbidden)
	}
	return g.conversations.AuthorizeRead(ctx, *conn.GroupConversationID, accountID)
}

// ConnectionChannel is the channel new messages of a connection are published on.
func (g *Gateway) ConnectionChannel(connectionID uint64) string {
	return g.appCtx.RedisCache.ChannelForConnection(connectionID)
}

// UserChannel is the channel notifications of a user are published on.
func (g *Gateway) UserChannel(userID uint64) string {
	return g.appCtx.RedisCache.ChannelForUser(userID)
}

// Stream subscribes to channels, upgrades the request and blocks until the
// client goes away. An error is returned only when nothing was written to w.
func (g *Gateway) Stream(w http.ResponseWriter, r *http.Request, channels ...string) error {
	log := logger.FromContext(r.Context(), g.appCtx.Logger).With("channels", channels)

	// the stream outlives any request timeout
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	sub, err := g.appCtx.RedisCache.Subscribe(ctx, channels...)
	if err != nil {
		return err
	}
	defer sub.Close()

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied
		log.Warn("websocket upgrade failed", "err", err)
		return nil
	}
	defer ws.Close()

	log.Debug("stream opened")
	go readPump(ws, cancel)
	writePump(ctx, ws, sub)
	log.Debug("stream closed")
	return nil
}

// readPump keeps the read deadline alive with pongs and cancels the stream
// when the client disconnects.
func readPump(ws *websocket.Conn, done context.CancelFunc) {
	defer done()
	ws.SetReadLimit(maxReadSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only writer on ws.
func writePump(ctx context.Context, ws *websocket.Conn, sub *redis.PubSub) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	events := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, []byte(ev.Payload)); err != nil {
				return
			}

		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
