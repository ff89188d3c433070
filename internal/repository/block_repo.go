package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/oggyb/chaperone/internal/db"
	svcErr "github.com/oggyb/chaperone/internal/errors"
)

// BlockRepository stores blocks between principals.
type BlockRepository struct {
	db *gorm.DB
}

// NewBlockRepository creates a new repository bound to the given DB connection.
func NewBlockRepository(database *gorm.DB) *BlockRepository {
	return &BlockRepository{db: database}
}

// WithTx returns a copy of the repository bound to tx.
func (r *BlockRepository) WithTx(tx *gorm.DB) *BlockRepository {
	return &BlockRepository{db: tx}
}

// Create inserts a block. Blocking the same principal twice returns
// svcErr.ErrDuplicate.
func (r *BlockRepository) Create(ctx context.Context, b *db.Block) error {
	err := r.db.WithContext(ctx).Create(b).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("block %d->%d: %w", b.BlockerID, b.BlockedID, svcErr.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create block: %w", err)
	}
	return nil
}

// Delete removes the blocker's block on blocked, or returns svcErr.ErrNotFound.
func (r *BlockRepository) Delete(ctx context.Context, blockerID, blockedID uint64) error {
	res := r.db.WithContext(ctx).
		Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
		Delete(&db.Block{})
	if res.Error != nil {
		return fmt.Errorf("delete block: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("block %d->%d: %w", blockerID, blockedID, svcErr.ErrNotFound)
	}
	return nil
}

// Between reports whether a block exists between a and b in either direction.
func (r *BlockRepository) Between(ctx context.Context, a, b uint64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.Block{}).
		Where("(blocker_id = ? AND blocked_id = ?) OR (blocker_id = ? AND blocked_id = ?)", a, b, b, a).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check block: %w", err)
	}
	return count > 0, nil
}
