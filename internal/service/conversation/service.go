package conversation

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/oggyb/chaperone/internal/app"
	"github.com/oggyb/chaperone/internal/db"
	svcErr "github.com/oggyb/chaperone/internal/errors"
	"github.com/oggyb/chaperone/internal/notify"
	"github.com/oggyb/chaperone/internal/repository"
)

// Service owns supervised group conversations: provisioning, membership and
// the messages posted in them.
type Service struct {
	appCtx        *app.AppContext
	users         *repository.UserRepository
	conns         *repository.ConnectionRepository
	conversations *repository.ConversationRepository
	messages      *repository.MessageRepository
	guardians     *repository.GuardianRepository
	blocks        *repository.BlockRepository
}

// NewConversationService creates a new conversation service with dependencies from AppContext.
func NewConversationService(appCtx *app.AppContext) *Service {
	return &Service{
		appCtx:        appCtx,
		users:         repository.NewUserRepository(appCtx.DB),
		conns:         repository.NewConnectionRepository(appCtx.DB),
		conversations: repository.NewConversationRepository(appCtx.DB),
		messages:      repository.NewMessageRepository(appCtx.DB),
		guardians:     repository.NewGuardianRepository(appCtx.DB),
		blocks:        repository.NewBlockRepository(appCtx.DB),
	}
}

// Provision creates the group conversation of a freshly validated connection
// inside the caller's transaction and links it to the connection.
//
// Members are both principals plus guardianIDs, all active. Duplicates in
// guardianIDs and principals listed as guardians are ignored.
func (s *Service) Provision(ctx context.Context, tx *gorm.DB, conn *db.Connection, guardianIDs []uint64) (*db.GroupConversation, error) {
	if conn.GroupConversationID != nil {
		return nil, fmt.Errorf("connection %d already provisioned: %w", conn.ID, svcErr.ErrInvalidState)
	}

	conv := &db.GroupConversation{ConnectionID: conn.ID}
	seen := map[uint64]bool{}
	add := func(id uint64, role string) {
		if seen[id] {
			return
		}
		seen[id] = true
		conv.Members = append(conv.Members, db.ConversationMember{AccountID: id, State: db.MemberActive, Role: role})
	}
	add(conn.PrincipalAID, db.MemberRolePrincipal)
	add(conn.PrincipalBID, db.MemberRolePrincipal)
	for _, id := range guardianIDs {
		add(id, db.MemberRoleGuardian)
	}

	if err := s.conversations.WithTx(tx).Create(ctx, conv); err != nil {
		return nil, err
	}
	if err := s.conns.WithTx(tx).SetGroupConversation(ctx, conn.ID, conv.ID); err != nil {
		return nil, err
	}
	conn.GroupConversationID = &conv.ID
	return conv, nil
}

// Get returns the conversation with its members.
func (s *Service) Get(ctx context.Context, conversationID uint64) (*db.GroupConversation, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	conv.Members, err = s.conversations.ListMembers(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// AddGuardian lets a principal bring one of their own active guardians into
// the conversation.
//
// Behavior:
//   - ErrForbidden unless the requester is a principal of the conversation and
//     the account is linked as an active guardian of that same principal.
//   - ErrNotFound if the guardian account no longer exists.
//   - ErrAlreadyMember if the account is already in the conversation, active or read-only.
func (s *Service) AddGuardian(ctx context.Context, conversationID, requesterID, guardianAccountID uint64) error {
	log := s.appCtx.Logger.With("conversation", conversationID, "requester", requesterID, "guardian", guardianAccountID)
	log.Debug("AddGuardian called")

	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	conn, err := s.conns.GetByID(ctx, conv.ConnectionID)
	if err != nil {
		return err
	}
	if !conn.HasPrincipal(requesterID) {
		return fmt.Errorf("account %d is not a principal of conversation %d: %w", requesterID, conversationID, svcErr.ErrForbidden)
	}

	linked, err := s.guardians.IsActiveGuardianOf(ctx, requesterID, guardianAccountID)
	if err != nil {
		return err
	}
	if !linked {
		return fmt.Errorf("account %d is not an active guardian of %d: %w", guardianAccountID, requesterID, svcErr.ErrForbidden)
	}

	if _, err := s.users.GetByID(ctx, guardianAccountID); err != nil {
		return err
	}

	if err := s.conversations.AddMember(ctx, &db.ConversationMember{
		ConversationID: conversationID,
		AccountID:      guardianAccountID,
		Role:           db.MemberRoleGuardian,
	}); err != nil {
		return err
	}

	s.invalidateUnread(ctx, guardianAccountID)
	s.appCtx.Notifier.Notify(ctx, guardianAccountID, notify.KindGuardianAdded,
		"You joined a conversation", fmt.Sprintf("you now supervise conversation %d", conversationID))

	log.Info("guardian added")
	return nil
}

// Leave moves a guardian to read-only. Principals can never leave.
// There is no way back to active.
func (s *Service) Leave(ctx context.Context, conversationID, accountID uint64) error {
	log := s.appCtx.Logger.With("conversation", conversationID, "account", accountID)
	log.Debug("Leave called")

	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	conn, err := s.conns.GetByID(ctx, conv.ConnectionID)
	if err != nil {
		return err
	}
	if conn.HasPrincipal(accountID) {
		return fmt.Errorf("principals cannot leave: %w", svcErr.ErrForbidden)
	}

	moved, err := s.conversations.MarkReadOnly(ctx, conversationID, accountID, time.Now().UTC())
	if err != nil {
		return err
	}
	if !moved {
		return fmt.Errorf("account %d in conversation %d: %w", accountID, conversationID, svcErr.ErrNotAMember)
	}

	log.Info("member moved to read-only")
	return nil
}

// AuthorizeRead allows active and read-only members.
func (s *Service) AuthorizeRead(ctx context.Context, conversationID, accountID uint64) error {
	_, err := s.member(ctx, conversationID, accountID)
	return err
}

// AuthorizeWrite allows active members only. Read-only members get
// ErrReadOnly so the caller can explain why.
func (s *Service) AuthorizeWrite(ctx context.Context, conversationID, accountID uint64) error {
	m, err := s.member(ctx, conversationID, accountID)
	if err != nil {
		return err
	}
	if m.State != db.MemberActive {
		return svcErr.ErrReadOnly
	}
	return nil
}

func (s *Service) member(ctx context.Context, conversationID, accountID uint64) (*db.ConversationMember, error) {
	m, err := s.conversations.GetMember(ctx, conversationID, accountID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("account %d is not in conversation %d: %w", accountID, conversationID, svcErr.ErrForbidden)
	}
	return m, nil
}
