package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/oggyb/chaperone/internal/db"
	svcErr "github.com/oggyb/chaperone/internal/errors"
	"github.com/oggyb/chaperone/internal/utils/pagination"
)

// Scope identifies one message stream: the group conversation of a connection,
// or its legacy direct channel when ConversationID is nil.
type Scope struct {
	ConnectionID   uint64
	ConversationID *uint64
}

// MessageRepository stores the append-only message log.
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new repository bound to the given DB connection.
func NewMessageRepository(database *gorm.DB) *MessageRepository {
	return &MessageRepository{db: database}
}

// WithTx returns a copy of the repository bound to tx.
func (r *MessageRepository) WithTx(tx *gorm.DB) *MessageRepository {
	return &MessageRepository{db: tx}
}

func (r *MessageRepository) scoped(ctx context.Context, s Scope) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&db.Message{})
	if s.ConversationID != nil {
		return q.Where("conversation_id = ?", *s.ConversationID)
	}
	return q.Where("connection_id = ? AND conversation_id IS NULL", s.ConnectionID)
}

// Create appends a message.
func (r *MessageRepository) Create(ctx context.Context, m *db.Message) error {
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

// List returns messages of the scope in creation order.
//
// Behavior:
//   - Ordered by id ASC, which is the insertion order.
//   - The cursor carries the last returned id; the next page starts after it.
//
// Example:
//
//	repo.List(ctx, Scope{ConnectionID: 7}, nil, 50)
func (r *MessageRepository) List(
	ctx context.Context,
	s Scope,
	paginationToken *string,
	limit int,
) ([]db.Message, *string, error) {
	var msgs []db.Message

	cursor, err := pagination.Decode(pagination.Deref(paginationToken))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", err.Error(), svcErr.ErrInvalidArgument)
	}

	query := r.scoped(ctx, s).Order("id ASC").Limit(limit + 1)
	if cursor.ID > 0 {
		query = query.Where("id > ?", cursor.ID)
	}
	if err := query.Find(&msgs).Error; err != nil {
		return nil, nil, fmt.Errorf("list messages: %w", err)
	}

	var nextToken *string
	if len(msgs) > limit {
		token, _ := pagination.Encode(pagination.Cursor{ID: msgs[limit-1].ID})
		nextToken = &token
		msgs = msgs[:limit]
	}
	return msgs, nextToken, nil
}

// MarkRead flags every unread message of the scope not authored by readerID.
// Returns the number of messages flipped.
func (r *MessageRepository) MarkRead(ctx context.Context, s Scope, readerID uint64, at time.Time) (int64, error) {
	res := r.scoped(ctx, s).
		Where("is_read = ? AND sender_id <> ?", false, readerID).
		Updates(map[string]any{"is_read": true, "read_at": at})
	if res.Error != nil {
		return 0, fmt.Errorf("mark read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CountUnreadConversations counts distinct conversations visible to the
// account that hold at least one unread message it did not write.
//
// A principal sees the streams of its own connections; a guardian sees the
// group conversations it is a member of. Streams are keyed by connection,
// which has at most one conversation.
func (r *MessageRepository) CountUnreadConversations(ctx context.Context, accountID uint64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Table("messages m").
		Where("m.is_read = ? AND m.sender_id <> ?", false, accountID).
		Where(`(
			m.connection_id IN (
				SELECT c.id FROM connections c
				WHERE c.principal_a_id = ? OR c.principal_b_id = ?
			)
			OR m.conversation_id IN (
				SELECT cm.conversation_id FROM conversation_members cm
				WHERE cm.account_id = ?
			)
		)`, accountID, accountID, accountID).
		Distinct("m.connection_id").
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count unread conversations: %w", err)
	}
	return count, nil
}
