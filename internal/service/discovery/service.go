package discovery

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/oggyb/chaperone/internal/app"
	"github.com/oggyb/chaperone/internal/db"
	svcErr "github.com/oggyb/chaperone/internal/errors"
	"github.com/oggyb/chaperone/internal/notify"
	"github.com/oggyb/chaperone/internal/repository"
	"github.com/oggyb/chaperone/internal/utils/pagination"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Service is the like/skip ledger and the discovery feed built on it.
type Service struct {
	appCtx *app.AppContext
	users  *repository.UserRepository
	likes  *repository.LikeRepository
	skips  *repository.SkipRepository
	blocks *repository.BlockRepository
	conns  *repository.ConnectionRepository
}

// NewDiscoveryService creates a new discovery service with dependencies from AppContext.
func NewDiscoveryService(appCtx *app.AppContext) *Service {
	return &Service{
		appCtx: appCtx,
		users:  repository.NewUserRepository(appCtx.DB),
		likes:  repository.NewLikeRepository(appCtx.DB),
		skips:  repository.NewSkipRepository(appCtx.DB),
		blocks: repository.NewBlockRepository(appCtx.DB),
		conns:  repository.NewConnectionRepository(appCtx.DB),
	}
}

// LikeResult is the outcome of a like.
type LikeResult struct {
	Reciprocal bool
	Connection *db.Connection
}

// principal loads a principal snapshot. Guardians and admins are not
// principals and read as not found.
func (s *Service) principal(ctx context.Context, id uint64) (*db.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Role != db.RolePrincipal || !u.Active {
		return nil, fmt.Errorf("principal %d: %w", id, svcErr.ErrNotFound)
	}
	return u, nil
}

// Like records actor's like on target and advances the pair's connection.
//
// Behavior:
//   - Rejects self likes, unverified parties, blocked pairs and repeated likes,
//     in that order.
//   - In one transaction: find-or-create the connection of the pair, lock it,
//     insert the like, and when the mirror like exists mark both reciprocal
//     and move a pending_reciprocal_like connection to pending_admin_validation.
//   - After commit: the target is notified, and every admin when the pair
//     now awaits validation.
//
// Example:
//
//	svc.Like(ctx, 1, 2) // -> {Reciprocal: false, Connection: pending_reciprocal_like}
func (s *Service) Like(ctx context.Context, actorID, targetID uint64) (*LikeResult, error) {
	log := s.appCtx.Logger.With("actor", actorID, "target", targetID)
	log.Debug("Like called")

	if actorID == targetID {
		return nil, svcErr.ErrSelfAction
	}

	actor, err := s.principal(ctx, actorID)
	if err != nil {
		return nil, err
	}
	target, err := s.principal(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if !actor.Verified() || !target.Verified() {
		return nil, svcErr.ErrNotVerified
	}

	blocked, err := s.blocks.Between(ctx, actorID, targetID)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, svcErr.ErrBlocked
	}

	liked, err := s.likes.Exists(ctx, actorID, targetID)
	if err != nil {
		return nil, err
	}
	if liked {
		return nil, fmt.Errorf("like %d->%d: %w", actorID, targetID, svcErr.ErrDuplicate)
	}

	result := &LikeResult{}
	movedToValidation := false

	err = s.appCtx.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conns := s.conns.WithTx(tx)
		likes := s.likes.WithTx(tx)

		conn, _, err := conns.FindOrCreate(ctx, actorID, targetID)
		if err != nil {
			return err
		}
		// serializes mirror likes of the same pair
		conn, err = conns.LockByID(ctx, conn.ID)
		if err != nil {
			return err
		}

		like, err := likes.Create(ctx, actorID, targetID)
		if err != nil {
			return err
		}

		mirror, err := likes.ExistsLocked(ctx, targetID, actorID)
		if err != nil {
			return err
		}
		if mirror {
			result.Reciprocal = true
			if err := likes.MarkReciprocal(ctx, actorID, targetID, like.CreatedAt); err != nil {
				return err
			}
			// validated and rejected are never moved by the ledger
			if conn.Status == db.StatusPendingReciprocalLike {
				if err := conns.Transition(ctx, conn, db.StatusPendingAdminValidation, nil); err != nil {
					return err
				}
				movedToValidation = true
			}
		}

		result.Connection = conn
		return nil
	})
	if err != nil {
		log.Debug("Like failed", "err", err)
		return nil, err
	}

	s.invalidateLikeCounters(ctx, actorID, targetID)

	s.appCtx.Notifier.Notify(ctx, targetID, notify.KindLikeReceived,
		"Someone likes you", fmt.Sprintf("%s liked your profile", actor.DisplayName))

	if movedToValidation {
		s.notifyAdmins(ctx, result.Connection)
	}

	log.Info("like recorded", "reciprocal", result.Reciprocal, "connection", result.Connection.ID, "status", result.Connection.Status)
	return result, nil
}

func (s *Service) notifyAdmins(ctx context.Context, conn *db.Connection) {
	admins, err := s.users.ListAdmins(ctx)
	if err != nil {
		s.appCtx.Logger.Warn("admins not notified", "connection", conn.ID, "err", err)
		return
	}
	ids := make([]uint64, 0, len(admins))
	for _, a := range admins {
		ids = append(ids, a.ID)
	}
	s.appCtx.Notifier.NotifyMany(ctx, ids, notify.KindMatchPendingValidation,
		"Match awaiting validation",
		fmt.Sprintf("connection %d between %d and %d needs a decision", conn.ID, conn.PrincipalAID, conn.PrincipalBID))
}

// Skip permanently hides target from actor's feed. Repeating it is a no-op.
func (s *Service) Skip(ctx context.Context, actorID, targetID uint64) error {
	s.appCtx.Logger.Debug("Skip called", "actor", actorID, "target", targetID)

	if actorID == targetID {
		return svcErr.ErrSelfAction
	}
	skipped, err := s.skips.Exists(ctx, actorID, targetID)
	if err != nil {
		return err
	}
	if skipped {
		return nil
	}
	if _, err := s.principal(ctx, targetID); err != nil {
		return err
	}

	created, err := s.skips.Create(ctx, actorID, targetID)
	if err != nil {
		return err
	}
	if created {
		// a skipped liker leaves the actor's likes-received list
		s.invalidateLikeCounters(ctx, actorID)
	}
	return nil
}

// ListCandidates returns the discovery feed of actor, filtered by the actor's
// saved search preferences when present.
func (s *Service) ListCandidates(ctx context.Context, actorID uint64, limit int) ([]db.User, error) {
	actor, err := s.principal(ctx, actorID)
	if err != nil {
		return nil, err
	}
	prefs, err := s.users.GetPreferences(ctx, actorID)
	if err != nil {
		return nil, err
	}
	return s.users.ListCandidates(ctx, actor, prefs, pagination.ClampLimit(limit, defaultPageSize, maxPageSize))
}

// ListLikesReceived returns pending likes for recipient, newest first.
func (s *Service) ListLikesReceived(
	ctx context.Context,
	recipientID uint64,
	paginationToken *string,
	limit int,
) ([]db.Like, *string, error) {
	return s.likes.ListReceived(ctx, recipientID, paginationToken, pagination.ClampLimit(limit, defaultPageSize, maxPageSize))
}

// CountLikesReceived returns how many likes await an answer from recipient.
// Cache-first: Redis (likes:received:count:userID), DB on miss, 1h TTL.
func (s *Service) CountLikesReceived(ctx context.Context, recipientID uint64) (int64, error) {
	key := s.appCtx.RedisCache.KeyForLikesReceived(recipientID)
	return s.appCtx.RedisCache.Counter(ctx, key, func(ctx context.Context) (int64, error) {
		return s.likes.CountReceived(ctx, recipientID)
	})
}

// SavePreferences stores actor's discovery filters, replacing previous ones.
func (s *Service) SavePreferences(ctx context.Context, actorID uint64, prefs *db.SearchPreference) error {
	if _, err := s.principal(ctx, actorID); err != nil {
		return err
	}
	if prefs.MinHeightCm != nil && prefs.MaxHeightCm != nil && *prefs.MinHeightCm > *prefs.MaxHeightCm {
		return fmt.Errorf("min height above max height: %w", svcErr.ErrInvalidArgument)
	}
	prefs.UserID = actorID
	return s.users.SavePreferences(ctx, prefs)
}

// Block stops likes and messages between actor and target, both directions.
func (s *Service) Block(ctx context.Context, actorID, targetID uint64, reason, notes string) error {
	s.appCtx.Logger.Debug("Block called", "actor", actorID, "target", targetID, "reason", reason)

	if actorID == targetID {
		return svcErr.ErrSelfAction
	}
	if _, err := s.users.GetByID(ctx, targetID); err != nil {
		return err
	}
	if err := s.blocks.Create(ctx, &db.Block{
		BlockerID: actorID,
		BlockedID: targetID,
		Reason:    reason,
		Notes:     notes,
	}); err != nil {
		return err
	}
	s.invalidateLikeCounters(ctx, actorID, targetID)
	return nil
}

// Unblock lifts actor's block on target.
func (s *Service) Unblock(ctx context.Context, actorID, targetID uint64) error {
	if err := s.blocks.Delete(ctx, actorID, targetID); err != nil {
		return err
	}
	s.invalidateLikeCounters(ctx, actorID, targetID)
	return nil
}

func (s *Service) invalidateLikeCounters(ctx context.Context, userIDs ...uint64) {
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, s.appCtx.RedisCache.KeyForLikesReceived(id))
	}
	if err := s.appCtx.RedisCache.Invalidate(ctx, keys...); err != nil {
		s.appCtx.Logger.Warn("like counters not invalidated", "users", userIDs, "err", err)
	}
}
