package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/oggyb/chaperone/internal/db"
	"github.com/oggyb/chaperone/internal/middleware"
)

// ListCandidates handles GET /v1/candidates?limit=20
func (h *Handler) ListCandidates(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	users, err := h.svc.Discovery.ListCandidates(c.Request.Context(), middleware.UserID(c), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": toProfiles(users)})
}

type preferencesRequest struct {
	MinHeightCm *int   `json:"min_height_cm"`
	MaxHeightCm *int   `json:"max_height_cm"`
	Smoker      *bool  `json:"smoker"`
	Halal       *bool  `json:"halal"`
	Alcohol     *bool  `json:"alcohol"`
	City        string `json:"city"`
	Country     string `json:"country"`
}

// SavePreferences handles PUT /v1/preferences
func (h *Handler) SavePreferences(c *gin.Context) {
	var req preferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	err := h.svc.Discovery.SavePreferences(c.Request.Context(), middleware.UserID(c), &db.SearchPreference{
		MinHeightCm: req.MinHeightCm,
		MaxHeightCm: req.MaxHeightCm,
		Smoker:      req.Smoker,
		Halal:       req.Halal,
		Alcohol:     req.Alcohol,
		City:        req.City,
		Country:     req.Country,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Like handles POST /v1/likes/:targetId
//
// reciprocal is true when this like completed a mutual pair; the connection
// then awaits admin validation.
func (h *Handler) Like(c *gin.Context) {
	targetID, ok := pathID(c, "targetId")
	if !ok {
		return
	}
	res, err := h.svc.Discovery.Like(c.Request.Context(), middleware.UserID(c), targetID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"reciprocal": res.Reciprocal,
		"connection": toConnection(res.Connection),
	})
}

// Skip handles POST /v1/skips/:targetId
func (h *Handler) Skip(c *gin.Context) {
	targetID, ok := pathID(c, "targetId")
	if !ok {
		return
	}
	if err := h.svc.Discovery.Skip(c.Request.Context(), middleware.UserID(c), targetID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListLikesReceived handles GET /v1/likes/received?page_token=&limit=
func (h *Handler) ListLikesReceived(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	likes, next, err := h.svc.Discovery.ListLikesReceived(c.Request.Context(), middleware.UserID(c), pageToken(c), limit)
	if err != nil {
		h.fail(c, err)
		return
	}

	likers := make([]likerResponse, 0, len(likes))
	for _, l := range likes {
		likers = append(likers, likerResponse{UserID: l.FromID, UnixTimestamp: l.CreatedAt.UnixMilli()})
	}
	resp := gin.H{"likers": likers}
	if next != nil {
		resp["next_page_token"] = *next
	}
	c.JSON(http.StatusOK, resp)
}

// CountLikesReceived handles GET /v1/likes/received/count
func (h *Handler) CountLikesReceived(c *gin.Context) {
	n, err := h.svc.Discovery.CountLikesReceived(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

type blockRequest struct {
	Reason string `json:"reason" binding:"max=64"`
	Notes  string `json:"notes"`
}

// Block handles POST /v1/blocks/:targetId. The body is optional.
func (h *Handler) Block(c *gin.Context) {
	targetID, ok := pathID(c, "targetId")
	if !ok {
		return
	}
	var req blockRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	if err := h.svc.Discovery.Block(c.Request.Context(), middleware.UserID(c), targetID, req.Reason, req.Notes); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Unblock handles DELETE /v1/blocks/:targetId
func (h *Handler) Unblock(c *gin.Context) {
	targetID, ok := pathID(c, "targetId")
	if !ok {
		return
	}
	if err := h.svc.Discovery.Unblock(c.Request.Context(), middleware.UserID(c), targetID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
