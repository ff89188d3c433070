package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/oggyb/chaperone/internal/app"
	"github.com/oggyb/chaperone/internal/db"
	svcErr "github.com/oggyb/chaperone/internal/errors"
	"github.com/oggyb/chaperone/internal/repository"
)

// ErrBadCredentials hides whether the email or the password was wrong.
var ErrBadCredentials = errors.New("invalid email or password")

// Session is what a successful login hands back to the client.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      *db.User
}

// Service authenticates accounts against their bcrypt hashes.
type Service struct {
	appCtx *app.AppContext
	users  *repository.UserRepository
	tokens *Tokens
}

func NewAuthService(appCtx *app.AppContext, tokens *Tokens) *Service {
	return &Service{
		appCtx: appCtx,
		users:  repository.NewUserRepository(appCtx.DB),
		tokens: tokens,
	}
}

// Login checks the credentials and issues an access token.
// Deactivated accounts cannot log in.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, svcErr.ErrNotFound) {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrBadCredentials
	}
	if !u.Active {
		return nil, fmt.Errorf("account %d is deactivated: %w", u.ID, svcErr.ErrForbidden)
	}

	token, exp, err := s.tokens.Issue(u.ID, u.Role)
	if err != nil {
		return nil, err
	}

	if err := s.users.TouchLastLogin(ctx, u.ID, time.Now().UTC()); err != nil {
		s.appCtx.Logger.Warn("last login not recorded", "user", u.ID, "err", err)
	}

	s.appCtx.Logger.Info("login", "user", u.ID, "role", u.Role)
	return &Session{Token: token, ExpiresAt: exp, User: u}, nil
}
