package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/oggyb/chaperone/internal/db"
	svcErr "github.com/oggyb/chaperone/internal/errors"
	"github.com/oggyb/chaperone/internal/utils/pagination"
)

// LikeRepository provides data access methods for the Like model.
// It encapsulates all queries related to one-directional likes between principals.
type LikeRepository struct {
	db *gorm.DB
}

// NewLikeRepository creates a new repository bound to the given DB connection.
func NewLikeRepository(database *gorm.DB) *LikeRepository {
	return &LikeRepository{db: database}
}

// WithTx returns a copy of the repository bound to tx.
func (r *LikeRepository) WithTx(tx *gorm.DB) *LikeRepository {
	return &LikeRepository{db: tx}
}

// Create inserts a like from -> to.
//
// Behavior:
//   - Composite PK (from_id, to_id) allows one like per ordered pair.
//   - A second like for the same pair returns svcErr.ErrDuplicate.
//
// Example:
//
//	repo.Create(ctx, 1, 2) // user 1 liked user 2
func (r *LikeRepository) Create(ctx context.Context, fromID, toID uint64) (*db.Like, error) {
	like := &db.Like{FromID: fromID, ToID: toID}
	err := r.db.WithContext(ctx).Create(like).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, fmt.Errorf("like %d->%d: %w", fromID, toID, svcErr.ErrDuplicate)
	}
	if err != nil {
		return nil, fmt.Errorf("create like: %w", err)
	}
	return like, nil
}

// Exists checks whether from has liked to.
//
// Example:
//
//	repo.Exists(ctx, 1, 2) // -> true if user 1 liked user 2
func (r *LikeRepository) Exists(ctx context.Context, fromID, toID uint64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.Like{}).
		Where("from_id = ? AND to_id = ?", fromID, toID).
		Count(&count).Error
	return count > 0, err
}

// ExistsLocked is Exists as a locking read. Inside a transaction it sees the
// latest committed like even under REPEATABLE READ, which the mirror check of
// concurrent likes depends on.
func (r *LikeRepository) ExistsLocked(ctx context.Context, fromID, toID uint64) (bool, error) {
	var likes []db.Like
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "SHARE"}).
		Where("from_id = ? AND to_id = ?", fromID, toID).
		Limit(1).
		Find(&likes).Error
	return len(likes) > 0, err
}

// MarkReciprocal flips the reciprocity flag on both directions of the pair.
func (r *LikeRepository) MarkReciprocal(ctx context.Context, a, b uint64, at time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&db.Like{}).
		Where("(from_id = ? AND to_id = ?) OR (from_id = ? AND to_id = ?)", a, b, b, a).
		Updates(map[string]any{"is_reciprocal": true, "matched_at": at}).Error
	if err != nil {
		return fmt.Errorf("mark reciprocal: %w", err)
	}
	return nil
}

// receivedQuery is the shared filter behind ListReceived and CountReceived:
// non-reciprocal likes to the recipient from likers the recipient has neither
// skipped nor blocked (in either direction).
func (r *LikeRepository) receivedQuery(ctx context.Context, recipientID uint64) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("likes l").
		Where("l.to_id = ? AND l.is_reciprocal = ?", recipientID, false).
		Where("NOT EXISTS (SELECT 1 FROM skips s WHERE s.from_id = ? AND s.to_id = l.from_id)", recipientID).
		Where(`NOT EXISTS (
			SELECT 1 FROM blocks b
			WHERE (b.blocker_id = ? AND b.blocked_id = l.from_id)
			   OR (b.blocker_id = l.from_id AND b.blocked_id = ?)
		)`, recipientID, recipientID)
}

// ListReceived returns principals who liked the recipient and still await an answer.
//
// Behavior:
//   - Reciprocal likes are excluded, the pair no longer needs action.
//   - Likers the recipient skipped or blocked are excluded.
//   - Ordered by created_at DESC, from_id DESC.
//   - Supports cursor-based pagination via paginationToken.
//
// Example:
//
//	repo.ListReceived(ctx, 42, nil, 20) // first 20 pending likes for user 42
func (r *LikeRepository) ListReceived(
	ctx context.Context,
	recipientID uint64,
	paginationToken *string,
	limit int,
) ([]db.Like, *string, error) {
	var likes []db.Like

	cursor, err := pagination.Decode(pagination.Deref(paginationToken))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", err.Error(), svcErr.ErrInvalidArgument)
	}

	query := r.receivedQuery(ctx, recipientID).
		Select("l.*").
		Order("l.created_at DESC, l.from_id DESC").
		Limit(limit + 1)

	// apply cursor
	if cursor.ID > 0 && cursor.CreatedUnix > 0 {
		ts := time.UnixMilli(cursor.CreatedUnix).UTC()
		query = query.Where(
			"(l.created_at < ? OR (l.created_at = ? AND l.from_id < ?))",
			ts, ts, cursor.ID,
		)
	}

	if err := query.Find(&likes).Error; err != nil {
		return nil, nil, fmt.Errorf("list received likes: %w", err)
	}

	// pagination: build next cursor if needed
	var nextToken *string
	if len(likes) > limit {
		last := likes[limit-1]
		token, _ := pagination.Encode(pagination.Cursor{
			ID:          last.FromID,
			CreatedUnix: last.CreatedAt.UnixMilli(),
		})
		nextToken = &token
		likes = likes[:limit]
	}

	return likes, nextToken, nil
}

// CountReceived returns the size of the ListReceived set.
// Used in conjunction with the Redis counter (DB is fallback).
func (r *LikeRepository) CountReceived(ctx context.Context, recipientID uint64) (int64, error) {
	var count int64
	if err := r.receivedQuery(ctx, recipientID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count received likes: %w", err)
	}
	return count, nil
}
