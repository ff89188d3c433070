package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/oggyb/chaperone/internal/middleware"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login handles POST /v1/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	session, err := h.svc.Auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      session.Token,
		"expires_at": session.ExpiresAt,
		"account":    toAccount(session.User),
	})
}

type acceptInvitationRequest struct {
	Username string `json:"username"`
	Password string `json:"password" binding:"required"`
}

// AcceptInvitation handles POST /v1/guardians/invitations/:token/accept.
// An invited email that already has a guardian account only needs its password.
func (h *Handler) AcceptInvitation(c *gin.Context) {
	var req acceptInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	u, err := h.svc.Guardians.Accept(c.Request.Context(), c.Param("token"), req.Username, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"account": toAccount(u)})
}

type inviteGuardianRequest struct {
	Name         string `json:"name" binding:"required"`
	Email        string `json:"email" binding:"required"`
	Relationship string `json:"relationship"`
}

// InviteGuardian handles POST /v1/guardians/invitations
func (h *Handler) InviteGuardian(c *gin.Context) {
	var req inviteGuardianRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	link, err := h.svc.Guardians.Invite(c.Request.Context(), middleware.UserID(c), req.Name, req.Email, req.Relationship)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toGuardianLink(link))
}

// ListGuardians handles GET /v1/guardians
func (h *Handler) ListGuardians(c *gin.Context) {
	links, err := h.svc.Guardians.ListForPrincipal(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]guardianLinkResponse, 0, len(links))
	for i := range links {
		out = append(out, toGuardianLink(&links[i]))
	}
	c.JSON(http.StatusOK, gin.H{"guardians": out})
}

type presignRequest struct {
	FileName    string `json:"file_name" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
}

// PresignAttachment handles POST /v1/attachments/presign. The returned key
// is what clients send back in a message's attachments.
func (h *Handler) PresignAttachment(c *gin.Context) {
	if h.appCtx.Storage == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "attachments are disabled", "code": "UNAVAILABLE"})
		return
	}
	var req presignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	url, key, err := h.appCtx.Storage.UploadURL(c.Request.Context(), middleware.UserID(c), req.FileName, req.ContentType)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"upload_url": url, "key": key})
}

// ListNotifications handles GET /v1/notifications?limit=
func (h *Handler) ListNotifications(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	list, err := h.appCtx.Notifier.List(c.Request.Context(), middleware.UserID(c), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]notificationResponse, 0, len(list))
	for _, n := range list {
		out = append(out, notificationResponse{
			ID:        n.ID,
			Kind:      n.Kind,
			Title:     n.Title,
			Body:      n.Body,
			IsRead:    n.IsRead,
			CreatedAt: n.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"notifications": out})
}

// MarkNotificationsRead handles POST /v1/notifications/read
func (h *Handler) MarkNotificationsRead(c *gin.Context) {
	n, err := h.appCtx.Notifier.MarkAllRead(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": n})
}

// StreamNotifications handles GET /v1/notifications/stream (websocket).
func (h *Handler) StreamNotifications(c *gin.Context) {
	userID := middleware.UserID(c)
	if err := h.svc.Realtime.Stream(c.Writer, c.Request, h.svc.Realtime.UserChannel(userID)); err != nil {
		h.fail(c, err)
	}
}
