package rest

import (
	"context"
	"time"

	"github.com/oggyb/chaperone/internal/db"
	"github.com/oggyb/chaperone/internal/storage"
)

type profileResponse struct {
	ID            uint64 `json:"id"`
	DisplayName   string `json:"display_name"`
	Gender        string `json:"gender"`
	HeightCm      int    `json:"height_cm,omitempty"`
	Smoker        bool   `json:"smoker"`
	Halal         bool   `json:"halal"`
	DrinksAlcohol bool   `json:"drinks_alcohol"`
	City          string `json:"city,omitempty"`
	Country       string `json:"country,omitempty"`
}

func toProfile(u *db.User) profileResponse {
	return profileResponse{
		ID:            u.ID,
		DisplayName:   u.DisplayName,
		Gender:        u.Gender,
		HeightCm:      u.HeightCm,
		Smoker:        u.Smoker,
		Halal:         u.Halal,
		DrinksAlcohol: u.DrinksAlcohol,
		City:          u.City,
		Country:       u.Country,
	}
}

func toProfiles(users []db.User) []profileResponse {
	out := make([]profileResponse, 0, len(users))
	for i := range users {
		out = append(out, toProfile(&users[i]))
	}
	return out
}

type accountResponse struct {
	ID          uint64 `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
	Verified    bool   `json:"verified"`
}

func toAccount(u *db.User) accountResponse {
	return accountResponse{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		Role:        u.Role,
		DisplayName: u.DisplayName,
		Verified:    u.Verified(),
	}
}

type connectionResponse struct {
	ID                  uint64     `json:"id"`
	PrincipalAID        uint64     `json:"principal_a_id"`
	PrincipalBID        uint64     `json:"principal_b_id"`
	Status              string     `json:"status"`
	IsActive            bool       `json:"is_active"`
	GroupConversationID *uint64    `json:"group_conversation_id,omitempty"`
	ValidatedAt         *time.Time `json:"validated_at,omitempty"`
	LastMessageAt       *time.Time `json:"last_message_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

func toConnection(c *db.Connection) connectionResponse {
	return connectionResponse{
		ID:                  c.ID,
		PrincipalAID:        c.PrincipalAID,
		PrincipalBID:        c.PrincipalBID,
		Status:              string(c.Status),
		IsActive:            c.IsActive(),
		GroupConversationID: c.GroupConversationID,
		ValidatedAt:         c.ValidatedAt,
		LastMessageAt:       c.LastMessageAt,
		CreatedAt:           c.CreatedAt,
	}
}

type likerResponse struct {
	UserID        uint64 `json:"user_id"`
	UnixTimestamp int64  `json:"unix_timestamp"`
}

type attachmentResponse struct {
	Key string `json:"key"`
	URL string `json:"url,omitempty"`
}

type messageResponse struct {
	ID             uint64               `json:"id"`
	ConnectionID   uint64               `json:"connection_id"`
	ConversationID *uint64              `json:"conversation_id,omitempty"`
	SenderID       uint64               `json:"sender_id"`
	SenderRole     string               `json:"sender_role"`
	Text           string               `json:"text"`
	Attachments    []attachmentResponse `json:"attachments,omitempty"`
	IsRead         bool                 `json:"is_read"`
	CreatedAt      time.Time            `json:"created_at"`
}

// toMessage signs read URLs for attachments when an object store is configured.
func toMessage(ctx context.Context, p *storage.Presigner, m *db.Message) messageResponse {
	resp := messageResponse{
		ID:             m.ID,
		ConnectionID:   m.ConnectionID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderRole:     m.SenderRole,
		Text:           m.Text,
		IsRead:         m.IsRead,
		CreatedAt:      m.CreatedAt,
	}
	for _, key := range m.Attachments {
		a := attachmentResponse{Key: key}
		if p != nil {
			if url, err := p.ReadURL(ctx, key); err == nil {
				a.URL = url
			}
		}
		resp.Attachments = append(resp.Attachments, a)
	}
	return resp
}

type guardianLinkResponse struct {
	ID                uint64     `json:"id"`
	Name              string     `json:"name"`
	ContactEmail      string     `json:"contact_email"`
	Relationship      string     `json:"relationship,omitempty"`
	Status            string     `json:"status"`
	GuardianAccountID *uint64    `json:"guardian_account_id,omitempty"`
	ActivatedAt       *time.Time `json:"activated_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

func toGuardianLink(l *db.GuardianLink) guardianLinkResponse {
	return guardianLinkResponse{
		ID:                l.ID,
		Name:              l.Name,
		ContactEmail:      l.ContactEmail,
		Relationship:      l.Relationship,
		Status:            l.Status,
		GuardianAccountID: l.GuardianAccountID,
		ActivatedAt:       l.ActivatedAt,
		CreatedAt:         l.CreatedAt,
	}
}

type notificationResponse struct {
	ID        uint64    `json:"id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}
