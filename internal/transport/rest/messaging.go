package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/oggyb/chaperone/internal/db"
	"github.com/oggyb/chaperone/internal/middleware"
	"github.com/oggyb/chaperone/internal/service/conversation"
)

// ListConnections handles GET /v1/connections
func (h *Handler) ListConnections(c *gin.Context) {
	conns, err := h.svc.Matching.ListForPrincipal(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]connectionResponse, 0, len(conns))
	for i := range conns {
		out = append(out, toConnection(&conns[i]))
	}
	c.JSON(http.StatusOK, gin.H{"connections": out})
}

// MatchProfile handles GET /v1/connections/:id/profile
func (h *Handler) MatchProfile(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	u, err := h.svc.Matching.ViewMatchProfile(c.Request.Context(), id, middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toProfile(u))
}

type postMessageRequest struct {
	Text        string   `json:"text"`
	Attachments []string `json:"attachments" binding:"max=10"`
}

// PostConnectionMessage handles POST /v1/connections/:id/messages
func (h *Handler) PostConnectionMessage(c *gin.Context) {
	if id, ok := pathID(c, "id"); ok {
		h.postMessage(c, conversation.ByConnection(id))
	}
}

// PostConversationMessage handles POST /v1/conversations/:id/messages
func (h *Handler) PostConversationMessage(c *gin.Context) {
	if id, ok := pathID(c, "id"); ok {
		h.postMessage(c, conversation.ByConversation(id))
	}
}

func (h *Handler) postMessage(c *gin.Context, target conversation.Target) {
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()
	msg, err := h.svc.Conversations.PostMessage(ctx, target, middleware.UserID(c), req.Text, req.Attachments)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toMessage(ctx, h.appCtx.Storage, msg))
}

// ListConnectionMessages handles GET /v1/connections/:id/messages?page_token=&limit=
func (h *Handler) ListConnectionMessages(c *gin.Context) {
	if id, ok := pathID(c, "id"); ok {
		h.listMessages(c, conversation.ByConnection(id))
	}
}

// ListConversationMessages handles GET /v1/conversations/:id/messages?page_token=&limit=
func (h *Handler) ListConversationMessages(c *gin.Context) {
	if id, ok := pathID(c, "id"); ok {
		h.listMessages(c, conversation.ByConversation(id))
	}
}

// listMessages marks the stream read for the caller as a side effect.
func (h *Handler) listMessages(c *gin.Context, target conversation.Target) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	msgs, next, err := h.svc.Conversations.ListMessages(ctx, target, middleware.UserID(c), pageToken(c), limit)
	if err != nil {
		h.fail(c, err)
		return
	}

	out := make([]messageResponse, 0, len(msgs))
	for i := range msgs {
		out = append(out, toMessage(ctx, h.appCtx.Storage, &msgs[i]))
	}
	resp := gin.H{"messages": out}
	if next != nil {
		resp["next_page_token"] = *next
	}
	c.JSON(http.StatusOK, resp)
}

// UnreadCount handles GET /v1/messages/unread/count
func (h *Handler) UnreadCount(c *gin.Context) {
	n, err := h.svc.Conversations.UnreadCount(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

type addGuardianRequest struct {
	AccountID uint64 `json:"account_id" binding:"required"`
}

// AddGuardian handles POST /v1/conversations/:id/guardians
func (h *Handler) AddGuardian(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req addGuardianRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.svc.Conversations.AddGuardian(c.Request.Context(), id, middleware.UserID(c), req.AccountID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// LeaveConversation handles POST /v1/conversations/:id/leave. Guardians only;
// the caller keeps read access.
func (h *Handler) LeaveConversation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Conversations.Leave(c.Request.Context(), id, middleware.UserID(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": db.MemberReadOnly})
}

// StreamConnection handles GET /v1/connections/:id/stream (websocket).
func (h *Handler) StreamConnection(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Realtime.AuthorizeConnection(c.Request.Context(), id, middleware.UserID(c)); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.svc.Realtime.Stream(c.Writer, c.Request, h.svc.Realtime.ConnectionChannel(id)); err != nil {
		h.fail(c, err)
	}
}
