package guardian

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/oggyb/chaperone/internal/app"
	"github.com/oggyb/chaperone/internal/db"
	svcErr "github.com/oggyb/chaperone/internal/errors"
	"github.com/oggyb/chaperone/internal/notify"
	"github.com/oggyb/chaperone/internal/repository"
)

const minPasswordLen = 8

// Service manages the guardians a principal invites to supervise them.
type Service struct {
	appCtx    *app.AppContext
	users     *repository.UserRepository
	guardians *repository.GuardianRepository
}

// NewGuardianService creates a new guardian service with dependencies from AppContext.
func NewGuardianService(appCtx *app.AppContext) *Service {
	return &Service{
		appCtx:    appCtx,
		users:     repository.NewUserRepository(appCtx.DB),
		guardians: repository.NewGuardianRepository(appCtx.DB),
	}
}

// Invite creates an invited link for principalID and mails the token to the
// guardian. Mail delivery is best-effort.
func (s *Service) Invite(ctx context.Context, principalID uint64, name, email, relationship string) (*db.GuardianLink, error) {
	log := s.appCtx.Logger.With("principal", principalID)
	log.Debug("Invite called")

	principal, err := s.users.GetByID(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if principal.Role != db.RolePrincipal {
		return nil, fmt.Errorf("only principals invite guardians: %w", svcErr.ErrForbidden)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("guardian name is required: %w", svcErr.ErrInvalidArgument)
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return nil, fmt.Errorf("guardian email %q: %w", email, svcErr.ErrInvalidArgument)
	}

	link := &db.GuardianLink{
		PrincipalID:  principalID,
		Name:         name,
		ContactEmail: strings.ToLower(addr.Address),
		Relationship: strings.TrimSpace(relationship),
		Status:       db.GuardianInvited,
		InviteToken:  uuid.NewString(),
	}
	if err := s.guardians.Create(ctx, link); err != nil {
		return nil, err
	}

	body := fmt.Sprintf("%s invited you to supervise their conversations. Your invitation code: %s",
		principal.DisplayName, link.InviteToken)
	if err := s.appCtx.Mailer.Send(ctx, link.ContactEmail, "Guardian invitation", body); err != nil {
		log.Warn("invitation mail not sent", "link", link.ID, "err", err)
	}

	log.Info("guardian invited", "link", link.ID)
	return link, nil
}

// Accept redeems an invitation token and activates the link.
//
// Behavior:
//   - A new guardian account is created for the invited email.
//   - When a guardian account already exists for that email (a guardian
//     supervising several principals), the password must match it and the
//     link is bound to that account instead.
//   - Existing conversations are joined separately through AddGuardian.
func (s *Service) Accept(ctx context.Context, token, username, password string) (*db.User, error) {
	link, err := s.guardians.GetByToken(ctx, strings.TrimSpace(token))
	if err != nil {
		return nil, err
	}
	if link.Status != db.GuardianInvited {
		return nil, fmt.Errorf("invitation already accepted: %w", svcErr.ErrDuplicate)
	}

	account, err := s.existingGuardian(ctx, link.ContactEmail, password)
	if err != nil {
		return nil, err
	}

	err = s.appCtx.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if account == nil {
			account, err = newGuardianAccount(link, username, password)
			if err != nil {
				return err
			}
			if err := s.users.WithTx(tx).Create(ctx, account); err != nil {
				return err
			}
		}
		return s.guardians.WithTx(tx).Activate(ctx, link.ID, account.ID, time.Now().UTC())
	})
	if err != nil {
		return nil, err
	}

	s.appCtx.Notifier.Notify(ctx, link.PrincipalID, notify.KindGuardianActivated,
		"Guardian joined", fmt.Sprintf("%s accepted your invitation", link.Name))
	s.appCtx.Logger.Info("guardian link activated", "link", link.ID, "account", account.ID)
	return account, nil
}

// existingGuardian returns the guardian account already registered for email,
// or nil when there is none.
func (s *Service) existingGuardian(ctx context.Context, email, password string) (*db.User, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, svcErr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if u.Role != db.RoleGuardian {
		return nil, fmt.Errorf("email %s belongs to another account: %w", email, svcErr.ErrDuplicate)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, fmt.Errorf("password does not match the existing guardian account: %w", svcErr.ErrForbidden)
	}
	return u, nil
}

func newGuardianAccount(link *db.GuardianLink, username, password string) (*db.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("username is required: %w", svcErr.ErrInvalidArgument)
	}
	if len(password) < minPasswordLen {
		return nil, fmt.Errorf("password must be at least %d characters: %w", minPasswordLen, svcErr.ErrInvalidArgument)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return &db.User{
		Username:      username,
		Email:         link.ContactEmail,
		PasswordHash:  string(hash),
		Role:          db.RoleGuardian,
		Active:        true,
		IsVerified:    true,
		ProfileStatus: db.ProfileValidated,
		DisplayName:   link.Name,
	}, nil
}

// ListActiveWithAccount returns the account IDs of principalID's active guardians.
func (s *Service) ListActiveWithAccount(ctx context.Context, principalID uint64) ([]uint64, error) {
	return s.guardians.ListActiveWithAccount(ctx, principalID)
}

// ListForPrincipal returns every guardian link of principalID.
func (s *Service) ListForPrincipal(ctx context.Context, principalID uint64) ([]db.GuardianLink, error) {
	return s.guardians.ListForPrincipal(ctx, principalID)
}
