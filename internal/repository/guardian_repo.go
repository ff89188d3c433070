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

// GuardianRepository is the guardian link directory.
type GuardianRepository struct {
	db *gorm.DB
}

// NewGuardianRepository creates a new repository bound to the given DB connection.
func NewGuardianRepository(database *gorm.DB) *GuardianRepository {
	return &GuardianRepository{db: database}
}

// WithTx returns a copy of the repository bound to tx.
func (r *GuardianRepository) WithTx(tx *gorm.DB) *GuardianRepository {
	return &GuardianRepository{db: tx}
}

// Create inserts an invitation.
func (r *GuardianRepository) Create(ctx context.Context, link *db.GuardianLink) error {
	if err := r.db.WithContext(ctx).Create(link).Error; err != nil {
		return fmt.Errorf("create guardian link: %w", err)
	}
	return nil
}

// GetByToken returns the link owning the invitation token.
func (r *GuardianRepository) GetByToken(ctx context.Context, token string) (*db.GuardianLink, error) {
	var link db.GuardianLink
	err := r.db.WithContext(ctx).Where("invite_token = ?", token).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("invitation: %w", svcErr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get guardian link: %w", err)
	}
	return &link, nil
}

// Activate binds the guardian account to an invited link. A link that is not
// in the invited state is left alone and svcErr.ErrDuplicate is returned.
func (r *GuardianRepository) Activate(ctx context.Context, linkID, accountID uint64, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&db.GuardianLink{}).
		Where("id = ? AND status = ?", linkID, db.GuardianInvited).
		Updates(map[string]any{
			"status":              db.GuardianActive,
			"guardian_account_id": accountID,
			"activated_at":        at,
		})
	if res.Error != nil {
		return fmt.Errorf("activate guardian link: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("guardian link %d already accepted: %w", linkID, svcErr.ErrDuplicate)
	}
	return nil
}

// ListActiveWithAccount returns the account IDs of the principal's active
// guardians whose account still exists and is active.
func (r *GuardianRepository) ListActiveWithAccount(ctx context.Context, principalID uint64) ([]uint64, error) {
	var ids []uint64
	err := r.db.WithContext(ctx).
		Table("guardian_links g").
		Joins("JOIN users u ON u.id = g.guardian_account_id").
		Where("g.principal_id = ? AND g.status = ? AND u.active = ?", principalID, db.GuardianActive, true).
		Order("g.id").
		Pluck("g.guardian_account_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list active guardians: %w", err)
	}
	return ids, nil
}

// IsActiveGuardianOf reports whether accountID is an active guardian of principalID.
func (r *GuardianRepository) IsActiveGuardianOf(ctx context.Context, principalID, accountID uint64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.GuardianLink{}).
		Where("principal_id = ? AND guardian_account_id = ? AND status = ?", principalID, accountID, db.GuardianActive).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check guardian link: %w", err)
	}
	return count > 0, nil
}

// ListForPrincipal returns every link of the principal, invited and active.
func (r *GuardianRepository) ListForPrincipal(ctx context.Context, principalID uint64) ([]db.GuardianLink, error) {
	var links []db.GuardianLink
	err := r.db.WithContext(ctx).
		Where("principal_id = ?", principalID).
		Order("id").
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("list guardian links: %w", err)
	}
	return links, nil
}
