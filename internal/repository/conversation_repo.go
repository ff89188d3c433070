package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/oggyb/chaperone/internal/db"
	svcErr "github.com/oggyb/chaperone/internal/errors"
)

// ConversationRepository stores supervised group conversations and their members.
type ConversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository creates a new repository bound to the given DB connection.
func NewConversationRepository(database *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: database}
}

// WithTx returns a copy of the repository bound to tx.
func (r *ConversationRepository) WithTx(tx *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: tx}
}

// Create inserts the conversation together with its initial members.
// The unique connection_id turns a second provisioning into svcErr.ErrDuplicate.
func (r *ConversationRepository) Create(ctx context.Context, conv *db.GroupConversation) error {
	err := r.db.WithContext(ctx).Create(conv).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("conversation for connection %d: %w", conv.ConnectionID, svcErr.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

// GetByID returns the conversation or svcErr.ErrNotFound. Members are not loaded.
func (r *ConversationRepository) GetByID(ctx context.Context, id uint64) (*db.GroupConversation, error) {
	var conv db.GroupConversation
	err := r.db.WithContext(ctx).First(&conv, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("conversation %d: %w", id, svcErr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &conv, nil
}

// GetMember returns the membership of accountID, or nil when the account was
// never a member.
func (r *ConversationRepository) GetMember(ctx context.Context, conversationID, accountID uint64) (*db.ConversationMember, error) {
	var m db.ConversationMember
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND account_id = ?", conversationID, accountID).
		Limit(1).
		Find(&m).Error
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	if m.ConversationID == 0 {
		return nil, nil
	}
	return &m, nil
}

// ListMembers returns every membership of the conversation.
func (r *ConversationRepository) ListMembers(ctx context.Context, conversationID uint64) ([]db.ConversationMember, error) {
	var members []db.ConversationMember
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("joined_at ASC, account_id ASC").
		Find(&members).Error
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

// AddMember inserts a new active membership. An account that is already a
// member, in any state, yields svcErr.ErrAlreadyMember.
func (r *ConversationRepository) AddMember(ctx context.Context, m *db.ConversationMember) error {
	m.State = db.MemberActive
	err := r.db.WithContext(ctx).Create(m).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("account %d in conversation %d: %w", m.AccountID, m.ConversationID, svcErr.ErrAlreadyMember)
	}
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// MarkReadOnly moves an active guardian to read-only in one guarded UPDATE.
// Returns false when nothing matched (not active, not a guardian, or absent).
func (r *ConversationRepository) MarkReadOnly(ctx context.Context, conversationID, accountID uint64, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&db.ConversationMember{}).
		Where("conversation_id = ? AND account_id = ? AND state = ? AND role = ?",
			conversationID, accountID, db.MemberActive, db.MemberRoleGuardian).
		Updates(map[string]any{"state": db.MemberReadOnly, "left_at": at})
	if res.Error != nil {
		return false, fmt.Errorf("mark read-only: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}
