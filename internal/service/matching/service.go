package matching

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
	"github.com/oggyb/chaperone/internal/service/conversation"
	"github.com/oggyb/chaperone/internal/utils/pagination"
)

// Service drives the admin side of the connection lifecycle:
//
//	pending_admin_validation --validate--> validated  (provisions the group conversation)
//	pending_admin_validation --reject----> rejected   (terminal)
type Service struct {
	appCtx        *app.AppContext
	users         *repository.UserRepository
	conns         *repository.ConnectionRepository
	guardians     *repository.GuardianRepository
	conversations *conversation.Service
}

// NewMatchingService creates a new matching service with dependencies from AppContext.
func NewMatchingService(appCtx *app.AppContext, conversations *conversation.Service) *Service {
	return &Service{
		appCtx:        appCtx,
		users:         repository.NewUserRepository(appCtx.DB),
		conns:         repository.NewConnectionRepository(appCtx.DB),
		guardians:     repository.NewGuardianRepository(appCtx.DB),
		conversations: conversations,
	}
}

func (s *Service) requireAdmin(ctx context.Context, adminID uint64) error {
	admin, err := s.users.GetByID(ctx, adminID)
	if err != nil {
		return fmt.Errorf("admin %d: %w", adminID, svcErr.ErrForbidden)
	}
	if admin.Role != db.RoleAdmin || !admin.Active {
		return fmt.Errorf("account %d is not an admin: %w", adminID, svcErr.ErrForbidden)
	}
	return nil
}

// Validate approves a connection awaiting validation.
//
// Behavior:
//   - ErrNotFound for an unknown connection, ErrInvalidState unless it is
//     pending_admin_validation (no double validation).
//   - In one transaction: guarded transition to validated, stamp of the
//     validator, provisioning of the group conversation seeded with both
//     principals and every active guardian of either that has an account.
//   - Both principals are notified after commit.
func (s *Service) Validate(ctx context.Context, connectionID, adminID uint64, notes string) (*db.Connection, error) {
	log := s.appCtx.Logger.With("connection", connectionID, "admin", adminID)
	log.Debug("Validate called")

	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}

	var conn *db.Connection
	err := s.appCtx.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conns := s.conns.WithTx(tx)

		var err error
		conn, err = conns.LockByID(ctx, connectionID)
		if err != nil {
			return err
		}
		if conn.Status != db.StatusPendingAdminValidation {
			return fmt.Errorf("connection %d is %s: %w", conn.ID, conn.Status, svcErr.ErrInvalidState)
		}

		now := time.Now().UTC()
		if err := conns.Transition(ctx, conn, db.StatusValidated, map[string]any{
			"validated_at":     now,
			"validated_by":     adminID,
			"validation_notes": notes,
		}); err != nil {
			return err
		}
		conn.ValidatedAt = &now
		conn.ValidatedBy = &adminID
		conn.ValidationNotes = notes

		guardianIDs, err := s.guardiansOf(ctx, tx, conn.PrincipalAID, conn.PrincipalBID)
		if err != nil {
			return err
		}

		if conn.GroupConversationID == nil {
			if _, err := s.conversations.Provision(ctx, tx, conn, guardianIDs); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.appCtx.Notifier.NotifyMany(ctx, []uint64{conn.PrincipalAID, conn.PrincipalBID},
		notify.KindConnectionValidated, "Your match was approved", "you can now start talking")

	log.Info("connection validated", "conversation", *conn.GroupConversationID)
	return conn, nil
}

func (s *Service) guardiansOf(ctx context.Context, tx *gorm.DB, principalIDs ...uint64) ([]uint64, error) {
	repo := s.guardians.WithTx(tx)
	var out []uint64
	for _, id := range principalIDs {
		ids, err := repo.ListActiveWithAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, ids...)
	}
	return out, nil
}

// Reject closes a connection awaiting validation for good. No conversation is
// created and the ledger never moves it again.
func (s *Service) Reject(ctx context.Context, connectionID, adminID uint64, reason string) (*db.Connection, error) {
	log := s.appCtx.Logger.With("connection", connectionID, "admin", adminID)
	log.Debug("Reject called")

	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}

	var conn *db.Connection
	err := s.appCtx.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conns := s.conns.WithTx(tx)

		var err error
		conn, err = conns.LockByID(ctx, connectionID)
		if err != nil {
			return err
		}
		if conn.Status != db.StatusPendingAdminValidation {
			return fmt.Errorf("connection %d is %s: %w", conn.ID, conn.Status, svcErr.ErrInvalidState)
		}

		if err := conns.Transition(ctx, conn, db.StatusRejected, map[string]any{
			"validated_by":     adminID,
			"validation_notes": reason,
		}); err != nil {
			return err
		}
		conn.ValidatedBy = &adminID
		conn.ValidationNotes = reason
		return nil
	})
	if err != nil {
		return nil, err
	}

	body := "your match was not approved"
	if reason != "" {
		body = fmt.Sprintf("%s: %s", body, reason)
	}
	s.appCtx.Notifier.NotifyMany(ctx, []uint64{conn.PrincipalAID, conn.PrincipalBID},
		notify.KindConnectionRejected, "Match not approved", body)

	log.Info("connection rejected")
	return conn, nil
}

// ListPending returns connections waiting for an admin decision, oldest first.
func (s *Service) ListPending(ctx context.Context, adminID uint64, limit int) ([]db.Connection, error) {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	return s.conns.ListPending(ctx, pagination.ClampLimit(limit, 50, 500))
}

// Get returns a connection by id.
func (s *Service) Get(ctx context.Context, connectionID uint64) (*db.Connection, error) {
	return s.conns.GetByID(ctx, connectionID)
}

// RequireValidated returns the connection when accountID is one of its
// principals and it is validated; ErrForbidden otherwise.
func (s *Service) RequireValidated(ctx context.Context, connectionID, accountID uint64) (*db.Connection, error) {
	conn, err := s.conns.GetByID(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if !conn.HasPrincipal(accountID) {
		return nil, fmt.Errorf("account %d is not part of connection %d: %w", accountID, connectionID, svcErr.ErrForbidden)
	}
	if !conn.IsActive() {
		return nil, fmt.Errorf("connection %d is %s: %w", connectionID, conn.Status, svcErr.ErrForbidden)
	}
	return conn, nil
}

// ViewMatchProfile returns the other principal's profile, only once the
// connection is validated.
func (s *Service) ViewMatchProfile(ctx context.Context, connectionID, viewerID uint64) (*db.User, error) {
	conn, err := s.RequireValidated(ctx, connectionID, viewerID)
	if err != nil {
		return nil, err
	}
	otherID, _ := conn.Other(viewerID)
	return s.users.GetByID(ctx, otherID)
}

// ListForPrincipal returns every connection principalID takes part in.
func (s *Service) ListForPrincipal(ctx context.Context, principalID uint64) ([]db.Connection, error) {
	return s.conns.ListForPrincipal(ctx, principalID)
}
