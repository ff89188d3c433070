package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/oggyb/chaperone/internal/db"
	svcErr "github.com/oggyb/chaperone/internal/errors"
)

// UserRepository is the principal directory: accounts, profiles and the
// discovery query over them.
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new repository bound to the given DB connection.
func NewUserRepository(database *gorm.DB) *UserRepository {
	return &UserRepository{db: database}
}

// WithTx returns a copy of the repository bound to tx.
func (r *UserRepository) WithTx(tx *gorm.DB) *UserRepository {
	return &UserRepository{db: tx}
}

// GetByID returns the user or svcErr.ErrNotFound.
func (r *UserRepository) GetByID(ctx context.Context, id uint64) (*db.User, error) {
	var u db.User
	err := r.db.WithContext(ctx).First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %d: %w", id, svcErr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetByEmail looks up an account by email, used for login.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*db.User, error) {
	var u db.User
	err := r.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %q: %w", email, svcErr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

// Create inserts a new account. Unique username/email clashes surface as
// svcErr.ErrDuplicate.
func (r *UserRepository) Create(ctx context.Context, u *db.User) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	err := r.db.WithContext(ctx).Create(u).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("user %q: %w", u.Username, svcErr.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// ListAdmins returns every active admin account.
func (r *UserRepository) ListAdmins(ctx context.Context) ([]db.User, error) {
	var admins []db.User
	err := r.db.WithContext(ctx).
		Where("role = ? AND active = ?", db.RoleAdmin, true).
		Order("id").
		Find(&admins).Error
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	return admins, nil
}

// TouchLastLogin stamps the login time.
func (r *UserRepository) TouchLastLogin(ctx context.Context, id uint64, at time.Time) error {
	return r.db.WithContext(ctx).Model(&db.User{}).Where("id = ?", id).Update("last_login_at", at).Error
}

// GetPreferences returns the saved search filters, or nil when none exist.
func (r *UserRepository) GetPreferences(ctx context.Context, userID uint64) (*db.SearchPreference, error) {
	var p db.SearchPreference
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&p).Error
	if err != nil {
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	if p.UserID == 0 {
		return nil, nil
	}
	return &p, nil
}

// SavePreferences upserts the search filters of a principal.
func (r *UserRepository) SavePreferences(ctx context.Context, p *db.SearchPreference) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			UpdateAll: true,
		}).
		Create(p).Error
}

// ListCandidates returns principals the actor may be shown in discovery.
//
// Behavior:
//   - Only verified, active principals whose gender is the one the actor seeks.
//   - Excludes the actor, anyone the actor liked or skipped, anyone blocked in
//     either direction, and anyone sharing a validated or rejected connection
//     with the actor.
//   - Applies saved search preferences when prefs is non-nil.
//   - Ordered by id; result order carries no ranking meaning.
func (r *UserRepository) ListCandidates(
	ctx context.Context,
	actor *db.User,
	prefs *db.SearchPreference,
	limit int,
) ([]db.User, error) {
	var users []db.User

	query := r.db.WithContext(ctx).
		Table("users u").
		Where("u.role = ? AND u.active = ? AND u.is_verified = ? AND u.profile_status = ?",
			db.RolePrincipal, true, true, db.ProfileValidated).
		Where("u.gender = ?", actor.Seeking()).
		Where("u.id <> ?", actor.ID).
		Where("NOT EXISTS (SELECT 1 FROM likes l WHERE l.from_id = ? AND l.to_id = u.id)", actor.ID).
		Where("NOT EXISTS (SELECT 1 FROM skips s WHERE s.from_id = ? AND s.to_id = u.id)", actor.ID).
		Where(`NOT EXISTS (
			SELECT 1 FROM blocks b
			WHERE (b.blocker_id = ? AND b.blocked_id = u.id)
			   OR (b.blocker_id = u.id AND b.blocked_id = ?)
		)`, actor.ID, actor.ID).
		Where(`NOT EXISTS (
			SELECT 1 FROM connections c
			WHERE ((c.principal_a_id = ? AND c.principal_b_id = u.id)
			    OR (c.principal_a_id = u.id AND c.principal_b_id = ?))
			  AND c.status IN ?
		)`, actor.ID, actor.ID, []db.ConnectionStatus{db.StatusValidated, db.StatusRejected})

	if prefs != nil {
		query = applyPreferences(query, prefs)
	}

	err := query.Select("u.*").Order("u.id").Limit(limit).Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	return users, nil
}

func applyPreferences(q *gorm.DB, p *db.SearchPreference) *gorm.DB {
	if p.MinHeightCm != nil {
		q = q.Where("u.height_cm >= ?", *p.MinHeightCm)
	}
	if p.MaxHeightCm != nil {
		q = q.Where("u.height_cm <= ?", *p.MaxHeightCm)
	}
	if p.Smoker != nil {
		q = q.Where("u.smoker = ?", *p.Smoker)
	}
	if p.Halal != nil {
		q = q.Where("u.halal = ?", *p.Halal)
	}
	if p.Alcohol != nil {
		q = q.Where("u.drinks_alcohol = ?", *p.Alcohol)
	}
	if city := strings.TrimSpace(p.City); city != "" {
		q = q.Where("LOWER(u.city) LIKE ?", "%"+strings.ToLower(city)+"%")
	}
	if country := strings.TrimSpace(p.Country); country != "" {
		q = q.Where("LOWER(u.country) LIKE ?", "%"+strings.ToLower(country)+"%")
	}
	return q
}
