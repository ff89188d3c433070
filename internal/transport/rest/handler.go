// Package rest is the JSON/HTTP surface of the service, built on gin.
package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oggyb/chaperone/internal/app"
	"github.com/oggyb/chaperone/internal/auth"
	svcErr "github.com/oggyb/chaperone/internal/errors"
	"github.com/oggyb/chaperone/internal/logger"
	"github.com/oggyb/chaperone/internal/middleware"
	"github.com/oggyb/chaperone/internal/realtime"
	"github.com/oggyb/chaperone/internal/service/conversation"
	"github.com/oggyb/chaperone/internal/service/discovery"
	"github.com/oggyb/chaperone/internal/service/guardian"
	"github.com/oggyb/chaperone/internal/service/matching"
)

// Services groups everything the handlers delegate to.
type Services struct {
	Tokens        *auth.Tokens
	Auth          *auth.Service
	Discovery     *discovery.Service
	Matching      *matching.Service
	Conversations *conversation.Service
	Guardians     *guardian.Service
	Realtime      *realtime.Gateway
}

// Handler holds the HTTP handlers. Business rules live in the services;
// handlers only bind, delegate and render.
type Handler struct {
	appCtx *app.AppContext
	svc    Services
}

func NewHandler(appCtx *app.AppContext, svc Services) *Handler {
	return &Handler{appCtx: appCtx, svc: svc}
}

// NewRouter builds the gin engine with the middleware chain and every route.
func NewRouter(appCtx *app.AppContext, svc Services) *gin.Engine {
	h := NewHandler(appCtx, svc)

	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.Logger(appCtx.Logger),
		middleware.Timeout(appCtx.Config.HTTP.RequestTimeout),
	)
	h.Routes(r)
	return r
}

// Routes registers the /v1 API on r.
func (h *Handler) Routes(r gin.IRouter) {
	v1 := r.Group("/v1")

	// public
	v1.GET("/health", h.Health)
	v1.POST("/auth/login", h.Login)
	v1.POST("/guardians/invitations/:token/accept", h.AcceptInvitation)

	api := v1.Group("")
	api.Use(middleware.Auth(h.svc.Tokens))

	api.GET("/candidates", h.ListCandidates)
	api.PUT("/preferences", h.SavePreferences)
	api.POST("/likes/:targetId", h.Like)
	api.POST("/skips/:targetId", h.Skip)
	api.GET("/likes/received", h.ListLikesReceived)
	api.GET("/likes/received/count", h.CountLikesReceived)
	api.POST("/blocks/:targetId", h.Block)
	api.DELETE("/blocks/:targetId", h.Unblock)

	api.GET("/connections", h.ListConnections)
	api.GET("/connections/:id/profile", h.MatchProfile)
	api.POST("/connections/:id/messages", h.PostConnectionMessage)
	api.GET("/connections/:id/messages", h.ListConnectionMessages)
	api.GET("/connections/:id/stream", h.StreamConnection)

	api.POST("/conversations/:id/messages", h.PostConversationMessage)
	api.GET("/conversations/:id/messages", h.ListConversationMessages)
	api.POST("/conversations/:id/guardians", h.AddGuardian)
	api.POST("/conversations/:id/leave", h.LeaveConversation)
	api.GET("/messages/unread/count", h.UnreadCount)

	api.POST("/guardians/invitations", h.InviteGuardian)
	api.GET("/guardians", h.ListGuardians)

	api.POST("/attachments/presign", h.PresignAttachment)

	api.GET("/notifications", h.ListNotifications)
	api.POST("/notifications/read", h.MarkNotificationsRead)
	api.GET("/notifications/stream", h.StreamNotifications)
}

// Health handles GET /v1/health. It pings the database and Redis.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{"db": "ok", "redis": "ok"}

	if sqlDB, err := h.appCtx.DB.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		checks["db"] = "unavailable"
		status = http.StatusServiceUnavailable
	}
	if err := h.appCtx.RedisCache.Ping(ctx); err != nil {
		checks["redis"] = "unavailable"
		status = http.StatusServiceUnavailable
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}

//
// Rendering helpers
//

// fail renders err with the status its kind maps to. Infrastructure errors
// are logged and hidden behind a generic message.
func (h *Handler) fail(c *gin.Context, err error) {
	if errors.Is(err, auth.ErrBadCredentials) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error(), "code": "UNAUTHENTICATED"})
		return
	}

	status, kind := svcErr.HTTPStatus(err)
	msg := err.Error()
	if kind == svcErr.KindInternal {
		logger.FromContext(c.Request.Context(), h.appCtx.Logger).Error("request failed", "err", err)
		msg = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "code": kind})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "code": svcErr.KindInvalidArgument})
}

// pathID parses a numeric path parameter, rendering 400 on failure.
func pathID(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

// queryLimit reads ?limit=; absent means 0 so the service default applies.
func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		badRequest(c, "invalid 'limit' parameter")
		return 0, false
	}
	return limit, true
}

func pageToken(c *gin.Context) *string {
	if tok := c.Query("page_token"); tok != "" {
		return &tok
	}
	return nil
}
