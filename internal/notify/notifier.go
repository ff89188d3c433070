// Package notify is the fire-and-forget notification sink. Every failure is
// logged and swallowed so a notification can never fail the transition that
// raised it.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/oggyb/chaperone/internal/cache"
	"github.com/oggyb/chaperone/internal/db"
	"github.com/oggyb/chaperone/internal/repository"
	"github.com/oggyb/chaperone/internal/utils/pagination"
)

// Notification kinds.
const (
	KindLikeReceived           = "like_received"
	KindMatchPendingValidation = "match_pending_validation"
	KindConnectionValidated    = "connection_validated"
	KindConnectionRejected     = "connection_rejected"
	KindGuardianAdded          = "guardian_added"
	KindGuardianActivated      = "guardian_activated"
)

// Event is the payload pushed on the user's pub/sub channel.
type Event struct {
	ID        uint64    `json:"id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier persists a notification row and publishes it on Redis.
type Notifier struct {
	repo   *repository.NotificationRepository
	cache  *cache.RedisCache
	logger *slog.Logger
}

// New creates a Notifier. cache may be nil, in which case nothing is published.
func New(database *gorm.DB, rc *cache.RedisCache, logger *slog.Logger) *Notifier {
	return &Notifier{
		repo:   repository.NewNotificationRepository(database),
		cache:  rc,
		logger: logger,
	}
}

// Notify delivers one notification. It never returns an error.
func (n *Notifier) Notify(ctx context.Context, userID uint64, kind, title, body string) {
	// the triggering request may already be finished
	ctx = context.WithoutCancel(ctx)

	row := &db.Notification{UserID: userID, Kind: kind, Title: title, Body: body}
	if err := n.repo.Create(ctx, row); err != nil {
		n.logger.Warn("notification not stored", "user", userID, "kind", kind, "err", err)
		return
	}

	if n.cache == nil {
		return
	}
	payload, err := json.Marshal(Event{
		ID:        row.ID,
		Kind:      kind,
		Title:     title,
		Body:      body,
		CreatedAt: row.CreatedAt,
	})
	if err != nil {
		n.logger.Warn("notification not encoded", "user", userID, "err", err)
		return
	}
	if err := n.cache.Publish(ctx, n.cache.ChannelForUser(userID), payload); err != nil {
		n.logger.Warn("notification not published", "user", userID, "kind", kind, "err", err)
	}
}

// NotifyMany sends the same notification to every user in userIDs.
func (n *Notifier) NotifyMany(ctx context.Context, userIDs []uint64, kind, title, body string) {
	for _, id := range userIDs {
		n.Notify(ctx, id, kind, title, body)
	}
}

// List returns the latest notifications of a user. Non-positive limits get
// the default page size.
func (n *Notifier) List(ctx context.Context, userID uint64, limit int) ([]db.Notification, error) {
	return n.repo.ListForUser(ctx, userID, pagination.ClampLimit(limit, 50, 200))
}

// MarkAllRead acknowledges every notification of a user.
func (n *Notifier) MarkAllRead(ctx context.Context, userID uint64) (int64, error) {
	return n.repo.MarkAllRead(ctx, userID)
}
