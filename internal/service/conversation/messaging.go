package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/oggyb/chaperone/internal/db"
	svcErr "github.com/oggyb/chaperone/internal/errors"
	"github.com/oggyb/chaperone/internal/repository"
	"github.com/oggyb/chaperone/internal/storage"
	"github.com/oggyb/chaperone/internal/utils/pagination"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Target addresses a message stream either by connection or by group
// conversation. Exactly one of the two IDs is set.
type Target struct {
	ConnectionID   uint64
	ConversationID uint64
}

// ByConnection targets the stream of a connection: its group conversation
// when provisioned, the legacy direct channel otherwise.
func ByConnection(id uint64) Target { return Target{ConnectionID: id} }

// ByConversation targets a group conversation directly.
func ByConversation(id uint64) Target { return Target{ConversationID: id} }

// MessageEvent is the realtime payload published for every new message.
type MessageEvent struct {
	ID             uint64    `json:"id"`
	ConnectionID   uint64    `json:"connection_id"`
	ConversationID *uint64   `json:"conversation_id,omitempty"`
	SenderID       uint64    `json:"sender_id"`
	SenderRole     string    `json:"sender_role"`
	Text           string    `json:"text"`
	Attachments    []string  `json:"attachments,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// resolve loads the connection behind t and the scope its messages live in.
func (s *Service) resolve(ctx context.Context, t Target) (*db.Connection, repository.Scope, error) {
	if t.ConversationID != 0 {
		conv, err := s.conversations.GetByID(ctx, t.ConversationID)
		if err != nil {
			return nil, repository.Scope{}, err
		}
		conn, err := s.conns.GetByID(ctx, conv.ConnectionID)
		if err != nil {
			return nil, repository.Scope{}, err
		}
		return conn, repository.Scope{ConnectionID: conn.ID, ConversationID: &conv.ID}, nil
	}

	conn, err := s.conns.GetByID(ctx, t.ConnectionID)
	if err != nil {
		return nil, repository.Scope{}, err
	}
	return conn, repository.Scope{ConnectionID: conn.ID, ConversationID: conn.GroupConversationID}, nil
}

// senderRole authorizes a write and returns the role stamped on the message.
func (s *Service) senderRole(ctx context.Context, conn *db.Connection, scope repository.Scope, senderID uint64) (string, error) {
	if scope.ConversationID == nil {
		// legacy direct channel: principals only
		switch senderID {
		case conn.PrincipalAID:
			return db.SenderPrincipalA, nil
		case conn.PrincipalBID:
			return db.SenderPrincipalB, nil
		}
		return "", fmt.Errorf("account %d is not part of connection %d: %w", senderID, conn.ID, svcErr.ErrForbidden)
	}

	m, err := s.member(ctx, *scope.ConversationID, senderID)
	if err != nil {
		return "", err
	}
	if m.State != db.MemberActive {
		return "", svcErr.ErrReadOnly
	}
	switch {
	case senderID == conn.PrincipalAID:
		return db.SenderPrincipalA, nil
	case senderID == conn.PrincipalBID:
		return db.SenderPrincipalB, nil
	}
	return db.SenderGuardian, nil
}

// authorizeList checks read access to the stream.
func (s *Service) authorizeList(ctx context.Context, conn *db.Connection, scope repository.Scope, accountID uint64) error {
	if scope.ConversationID == nil {
		if !conn.HasPrincipal(accountID) {
			return fmt.Errorf("account %d is not part of connection %d: %w", accountID, conn.ID, svcErr.ErrForbidden)
		}
		return nil
	}
	return s.AuthorizeRead(ctx, *scope.ConversationID, accountID)
}

// PostMessage appends a message to the target stream.
//
// Behavior:
//   - ErrEmptyMessage when text and attachments are both empty;
//     ErrInvalidArgument for attachment keys not issued by storage.
//   - ErrForbidden unless the connection is validated and the sender may
//     write; ErrReadOnly for read-only members.
//   - ErrBlocked when the two principals have blocked each other, whatever
//     the sender's membership.
//   - Stamps the sender's role, bumps the connection's last message time,
//     drops the unread counters of the other readers and publishes the
//     message on the connection's channel.
func (s *Service) PostMessage(ctx context.Context, t Target, senderID uint64, text string, attachments []string) (*db.Message, error) {
	log := s.appCtx.Logger.With("connection", t.ConnectionID, "conversation", t.ConversationID, "sender", senderID)
	log.Debug("PostMessage called")

	text = strings.TrimSpace(text)
	keys := make([]string, 0, len(attachments))
	for _, a := range attachments {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if owner, ok := storage.OwnerOf(a); !ok || owner != senderID {
			return nil, fmt.Errorf("attachment %q: %w", a, svcErr.ErrInvalidArgument)
		}
		keys = append(keys, a)
	}
	if text == "" && len(keys) == 0 {
		return nil, svcErr.ErrEmptyMessage
	}

	conn, scope, err := s.resolve(ctx, t)
	if err != nil {
		return nil, err
	}
	if !conn.IsActive() {
		return nil, fmt.Errorf("connection %d is %s: %w", conn.ID, conn.Status, svcErr.ErrForbidden)
	}

	role, err := s.senderRole(ctx, conn, scope, senderID)
	if err != nil {
		return nil, err
	}

	blocked, err := s.blocks.Between(ctx, conn.PrincipalAID, conn.PrincipalBID)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, svcErr.ErrBlocked
	}

	msg := &db.Message{
		ConnectionID:   conn.ID,
		ConversationID: scope.ConversationID,
		SenderID:       senderID,
		SenderRole:     role,
		Text:           text,
	}
	if len(keys) > 0 {
		msg.Attachments = keys
	}

	err = s.appCtx.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.messages.WithTx(tx).Create(ctx, msg); err != nil {
			return err
		}
		return s.conns.WithTx(tx).TouchLastMessage(ctx, conn.ID, msg.CreatedAt)
	})
	if err != nil {
		return nil, err
	}

	readers, err := s.readers(ctx, conn, scope)
	if err != nil {
		log.Warn("unread counters not invalidated", "err", err)
	} else {
		s.invalidateUnread(ctx, without(readers, senderID)...)
	}
	s.publish(ctx, msg)

	log.Debug("message posted", "id", msg.ID, "role", role)
	return msg, nil
}

// ListMessages returns the target stream in creation order.
//
// Listing is also the read receipt: every message of the stream the requester
// did not write is marked read, not only the returned page.
func (s *Service) ListMessages(
	ctx context.Context,
	t Target,
	requesterID uint64,
	paginationToken *string,
	limit int,
) ([]db.Message, *string, error) {
	conn, scope, err := s.resolve(ctx, t)
	if err != nil {
		return nil, nil, err
	}
	if !conn.IsActive() {
		return nil, nil, fmt.Errorf("connection %d is %s: %w", conn.ID, conn.Status, svcErr.ErrForbidden)
	}
	if err := s.authorizeList(ctx, conn, scope, requesterID); err != nil {
		return nil, nil, err
	}

	msgs, next, err := s.messages.List(ctx, scope, paginationToken, pagination.ClampLimit(limit, defaultPageSize, maxPageSize))
	if err != nil {
		return nil, nil, err
	}

	marked, err := s.messages.MarkRead(ctx, scope, requesterID, time.Now().UTC())
	if err != nil {
		return nil, nil, err
	}
	if marked > 0 {
		// the read flag is shared, so every reader's counter may have moved
		if readers, err := s.readers(ctx, conn, scope); err == nil {
			s.invalidateUnread(ctx, readers...)
		}
	}
	return msgs, next, nil
}

// UnreadCount returns how many conversations hold at least one unread message
// the account did not write. Cache-first with a 1h TTL.
func (s *Service) UnreadCount(ctx context.Context, accountID uint64) (int64, error) {
	key := s.appCtx.RedisCache.KeyForUnread(accountID)
	return s.appCtx.RedisCache.Counter(ctx, key, func(ctx context.Context) (int64, error) {
		return s.messages.CountUnreadConversations(ctx, accountID)
	})
}

// readers lists every account that can read the stream.
func (s *Service) readers(ctx context.Context, conn *db.Connection, scope repository.Scope) ([]uint64, error) {
	ids := []uint64{conn.PrincipalAID, conn.PrincipalBID}
	if scope.ConversationID == nil {
		return ids, nil
	}
	members, err := s.conversations.ListMembers(ctx, *scope.ConversationID)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		if m.Role == db.MemberRoleGuardian {
			ids = append(ids, m.AccountID)
		}
	}
	return ids, nil
}

func (s *Service) invalidateUnread(ctx context.Context, accountIDs ...uint64) {
	keys := make([]string, 0, len(accountIDs))
	for _, id := range accountIDs {
		keys = append(keys, s.appCtx.RedisCache.KeyForUnread(id))
	}
	if err := s.appCtx.RedisCache.Invalidate(ctx, keys...); err != nil {
		s.appCtx.Logger.Warn("unread counters not invalidated", "accounts", accountIDs, "err", err)
	}
}

func (s *Service) publish(ctx context.Context, msg *db.Message) {
	payload, err := json.Marshal(MessageEvent{
		ID:             msg.ID,
		ConnectionID:   msg.ConnectionID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		SenderRole:     msg.SenderRole,
		Text:           msg.Text,
		Attachments:    msg.Attachments,
		CreatedAt:      msg.CreatedAt,
	})
	if err != nil {
		s.appCtx.Logger.Warn("message event not encoded", "id", msg.ID, "err", err)
		return
	}
	channel := s.appCtx.RedisCache.ChannelForConnection(msg.ConnectionID)
	if err := s.appCtx.RedisCache.Publish(context.WithoutCancel(ctx), channel, payload); err != nil {
		s.appCtx.Logger.Warn("message event not published", "id", msg.ID, "err", err)
	}
}

func without(ids []uint64, drop uint64) []uint64 {
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
