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
)

// ConnectionRepository owns the connection rows and their guarded transitions.
type ConnectionRepository struct {
	db *gorm.DB
}

// NewConnectionRepository creates a new repository bound to the given DB connection.
func NewConnectionRepository(database *gorm.DB) *ConnectionRepository {
	return &ConnectionRepository{db: database}
}

// WithTx returns a copy of the repository bound to tx.
func (r *ConnectionRepository) WithTx(tx *gorm.DB) *ConnectionRepository {
	return &ConnectionRepository{db: tx}
}

// FindOrCreate returns the connection for the unordered pair {firstID, secondID},
// creating it in pending_reciprocal_like with firstID as principal A when absent.
//
// Behavior:
//   - The insert is ON CONFLICT DO NOTHING against idx_connection_pair, so two
//     concurrent callers converge on the same row.
//   - The row is always re-read after the insert attempt.
//   - created reports whether this call inserted the row.
func (r *ConnectionRepository) FindOrCreate(ctx context.Context, firstID, secondID uint64) (*db.Connection, bool, error) {
	low, high := db.PairKey(firstID, secondID)
	candidate := &db.Connection{
		PrincipalAID: firstID,
		PrincipalBID: secondID,
		UserLowID:    low,
		UserHighID:   high,
		Status:       db.StatusPendingReciprocalLike,
		Version:      1,
	}

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_low_id"}, {Name: "user_high_id"}},
			DoNothing: true,
		}).
		Create(candidate)
	if res.Error != nil {
		return nil, false, fmt.Errorf("create connection: %w", res.Error)
	}

	conn, err := r.GetByPair(ctx, firstID, secondID)
	if err != nil {
		return nil, false, err
	}
	return conn, res.RowsAffected > 0, nil
}

// GetByID returns the connection or svcErr.ErrNotFound.
func (r *ConnectionRepository) GetByID(ctx context.Context, id uint64) (*db.Connection, error) {
	var c db.Connection
	err := r.db.WithContext(ctx).First(&c, id).Error
	return r.found(&c, err, "connection %d", id)
}

// LockByID reads the connection with SELECT ... FOR UPDATE. Must run inside a
// transaction; SQLite ignores the locking clause.
func (r *ConnectionRepository) LockByID(ctx context.Context, id uint64) (*db.Connection, error) {
	var c db.Connection
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&c, id).Error
	return r.found(&c, err, "connection %d", id)
}

// GetByPair looks a connection up by its unordered pair.
func (r *ConnectionRepository) GetByPair(ctx context.Context, a, b uint64) (*db.Connection, error) {
	low, high := db.PairKey(a, b)
	var c db.Connection
	err := r.db.WithContext(ctx).
		Where("user_low_id = ? AND user_high_id = ?", low, high).
		First(&c).Error
	return r.found(&c, err, "connection {%d,%d}", a, b)
}

func (r *ConnectionRepository) found(c *db.Connection, err error, format string, args ...any) (*db.Connection, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf(format+": %w", append(args, svcErr.ErrNotFound)...)
	}
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	return c, nil
}

// Transition moves c from its current status to `to` and applies the extra
// column updates in the same statement.
//
// Behavior:
//   - The UPDATE is guarded by the status and version c was read with.
//   - Zero affected rows means someone else moved the connection first:
//     svcErr.ErrInvalidState is returned and c is left untouched.
//   - On success c reflects the new status and version.
func (r *ConnectionRepository) Transition(
	ctx context.Context,
	c *db.Connection,
	to db.ConnectionStatus,
	extra map[string]any,
) error {
	updates := map[string]any{
		"status":  to,
		"version": gorm.Expr("version + 1"),
	}
	for k, v := range extra {
		updates[k] = v
	}

	res := r.db.WithContext(ctx).
		Model(&db.Connection{}).
		Where("id = ? AND status = ? AND version = ?", c.ID, c.Status, c.Version).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("transition connection: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("connection %d is no longer %s: %w", c.ID, c.Status, svcErr.ErrInvalidState)
	}

	c.Status = to
	c.Version++
	return nil
}

// SetGroupConversation links a provisioned conversation. It only ever
// succeeds once per connection.
func (r *ConnectionRepository) SetGroupConversation(ctx context.Context, connectionID, conversationID uint64) error {
	res := r.db.WithContext(ctx).
		Model(&db.Connection{}).
		Where("id = ? AND group_conversation_id IS NULL", connectionID).
		Update("group_conversation_id", conversationID)
	if res.Error != nil {
		return fmt.Errorf("link conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("connection %d already has a conversation: %w", connectionID, svcErr.ErrInvalidState)
	}
	return nil
}

// TouchLastMessage stamps the time of the latest message.
func (r *ConnectionRepository) TouchLastMessage(ctx context.Context, connectionID uint64, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&db.Connection{}).
		Where("id = ?", connectionID).
		UpdateColumn("last_message_at", at).Error
}

// ListPending returns connections waiting for an admin decision, oldest first.
func (r *ConnectionRepository) ListPending(ctx context.Context, limit int) ([]db.Connection, error) {
	var conns []db.Connection
	err := r.db.WithContext(ctx).
		Where("status = ?", db.StatusPendingAdminValidation).
		Order("updated_at ASC, id ASC").
		Limit(limit).
		Find(&conns).Error
	if err != nil {
		return nil, fmt.Errorf("list pending connections: %w", err)
	}
	return conns, nil
}

// ListForPrincipal returns every connection the principal is part of, most
// recently active first.
func (r *ConnectionRepository) ListForPrincipal(ctx context.Context, principalID uint64) ([]db.Connection, error) {
	var conns []db.Connection
	err := r.db.WithContext(ctx).
		Where("principal_a_id = ? OR principal_b_id = ?", principalID, principalID).
		Order("last_message_at DESC, id DESC").
		Find(&conns).Error
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return conns, nil
}
