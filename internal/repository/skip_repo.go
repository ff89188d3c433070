package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/oggyb/chaperone/internal/db"
)

// SkipRepository stores permanent passes.
type SkipRepository struct {
	db *gorm.DB
}

// NewSkipRepository creates a new repository bound to the given DB connection.
func NewSkipRepository(database *gorm.DB) *SkipRepository {
	return &SkipRepository{db: database}
}

// Create records that from passed on to. Repeating it is a no-op.
// Returns whether a new row was written.
func (r *SkipRepository) Create(ctx context.Context, fromID, toID uint64) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&db.Skip{FromID: fromID, ToID: toID})
	if res.Error != nil {
		return false, fmt.Errorf("create skip: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Exists checks whether from has skipped to.
func (r *SkipRepository) Exists(ctx context.Context, fromID, toID uint64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.Skip{}).
		Where("from_id = ? AND to_id = ?", fromID, toID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check skip: %w", err)
	}
	return count > 0, nil
}
