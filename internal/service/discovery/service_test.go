package discovery_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/oggyb/chaperone/internal/app"
	"github.com/oggyb/chaperone/internal/app/apptest"
	"github.com/oggyb/chaperone/internal/db"
	"github.com/oggyb/chaperone/internal/db/dbtest"
	svcErr "github.com/oggyb/chaperone/internal/errors"
	"github.com/oggyb/chaperone/internal/notify"
	"github.com/oggyb/chaperone/internal/service/discovery"
)

//
// Test helpers
//

func setupService(t *testing.T) (*discovery.Service, *app.AppContext) {
	t.Helper()
	appCtx, _ := apptest.New(t)
	return discovery.NewDiscoveryService(appCtx), appCtx
}

func notifications(t *testing.T, gdb *gorm.DB, userID uint64, kind string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, gdb.Model(&db.Notification{}).Where("user_id = ? AND kind = ?", userID, kind).Count(&n).Error)
	return n
}

func connectionsBetween(t *testing.T, gdb *gorm.DB, a, b uint64) []db.Connection {
	t.Helper()
	low, high := db.PairKey(a, b)
	var conns []db.Connection
	require.NoError(t, gdb.Where("user_low_id = ? AND user_high_id = ?", low, high).Find(&conns).Error)
	return conns
}

func candidateIDs(t *testing.T, svc *discovery.Service, actorID uint64) []uint64 {
	t.Helper()
	users, err := svc.ListCandidates(context.Background(), actorID, 100)
	require.NoError(t, err)
	out := make([]uint64, 0, len(users))
	for _, u := range users {
		out = append(out, u.ID)
	}
	return out
}

//
// Tests
//

func TestLikeOneWay(t *testing.T) {
	ctx := context.Background()
	svc, appCtx := setupService(t)
	x := dbtest.CreateUser(t, appCtx.DB, "x", "male")
	y := dbtest.CreateUser(t, appCtx.DB, "y", "female")

	res, err := svc.Like(ctx, x.ID, y.ID)
	require.NoError(t, err)
	assert.False(t, res.Reciprocal)
	assert.Equal(t, db.StatusPendingReciprocalLike, res.Connection.Status)
	assert.Equal(t, x.ID, res.Connection.PrincipalAID)

	// X no longer sees Y, Y sees X as a pending like
	assert.NotContains(t, candidateIDs(t, svc, x.ID), y.ID)

	likes, _, err := svc.ListLikesReceived(ctx, y.ID, nil, 10)
	require.NoError(t, err)
	require.Len(t, likes, 1)
	assert.Equal(t, x.ID, likes[0].FromID)

	assert.Equal(t, int64(1), notifications(t, appCtx.DB, y.ID, notify.KindLikeReceived))
}

func TestLikeReciprocalMovesToValidation(t *testing.T) {
	ctx := context.Background()
	svc, appCtx := setupService(t)
	x := dbtest.CreateUser(t, appCtx.DB, "x", "male")
	y := dbtest.CreateUser(t, appCtx.DB, "y", "female")
	admin := dbtest.CreateUser(t, appCtx.DB, "admin", "", dbtest.WithRole(db.RoleAdmin))

	_, err := svc.Like(ctx, x.ID, y.ID)
	require.NoError(t, err)
	res, err := svc.Like(ctx, y.ID, x.ID)
	require.NoError(t, err)

	assert.True(t, res.Reciprocal)
	assert.Equal(t, db.StatusPendingAdminValidation, res.Connection.Status)
	assert.Len(t, connectionsBetween(t, appCtx.DB, x.ID, y.ID), 1)

	var likes []db.Like
	require.NoError(t, appCtx.DB.Find(&likes).Error)
	for _, l := range likes {
		assert.True(t, l.IsReciprocal)
		assert.NotNil(t, l.MatchedAt)
	}

	// neither side has anything left to answer
	pending, _, err := svc.ListLikesReceived(ctx, x.ID, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.Equal(t, int64(1), notifications(t, appCtx.DB, admin.ID, notify.KindMatchPendingValidation))
}

func TestMatchIsSymmetric(t *testing.T) {
	ctx := context.Background()
	svc, appCtx := setupService(t)

	for i, reversed := range []bool{false, true} {
		x := dbtest.CreateUser(t, appCtx.DB, fmt.Sprintf("x%d", i), "male")
		y := dbtest.CreateUser(t, appCtx.DB, fmt.Sprintf("y%d", i), "female")
		first, second := x.ID, y.ID
		if reversed {
			first, second = second, first
		}

		_, err := svc.Like(ctx, first, second)
		require.NoError(t, err)
		_, err = svc.Like(ctx, second, first)
		require.NoError(t, err)

		conns := connectionsBetween(t, appCtx.DB, x.ID, y.ID)
		require.Len(t, conns, 1)
		assert.Equal(t, db.StatusPendingAdminValidation, conns[0].Status)
	}
}

func TestConcurrentMirrorLikes(t *testing.T) {
	ctx := context.Background()
	svc, appCtx := setupService(t)
	x := dbtest.CreateUser(t, appCtx.DB, "x", "male")
	y := dbtest.CreateUser(t, appCtx.DB, "y", "female")

	var wg sync.WaitGroup
	results := make([]*discovery.LikeResult, 2)
	errs := make([]error, 2)
	for i, pair := range [][2]uint64{{x.ID, y.ID}, {y.ID, x.ID}} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = svc.Like(ctx, pair[0], pair[1])
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.True(t, results[0].Reciprocal != results[1].Reciprocal, "exactly one like observes the mirror")

	conns := connectionsBetween(t, appCtx.DB, x.ID, y.ID)
	require.Len(t, conns, 1)
	assert.Equal(t, db.StatusPendingAdminValidation, conns[0].Status)
}

func TestLikeGuards(t *testing.T) {
	ctx := context.Background()
	svc, appCtx := setupService(t)
	x := dbtest.CreateUser(t, appCtx.DB, "x", "male")
	y := dbtest.CreateUser(t, appCtx.DB, "y", "female")
	pending := dbtest.CreateUser(t, appCtx.DB, "pending", "female", dbtest.Unverified)
	blocker := dbtest.CreateUser(t, appCtx.DB, "blocker", "female")
	guardian := dbtest.CreateUser(t, appCtx.DB, "guardian", "female", dbtest.WithRole(db.RoleGuardian))

	_, err := svc.Like(ctx, x.ID, x.ID)
	assert.ErrorIs(t, err, svcErr.ErrSelfAction)

	_, err = svc.Like(ctx, x.ID, 9999)
	assert.ErrorIs(t, err, svcErr.ErrNotFound)

	_, err = svc.Like(ctx, x.ID, guardian.ID)
	assert.ErrorIs(t, err, svcErr.ErrNotFound)

	_, err = svc.Like(ctx, x.ID, pending.ID)
	assert.ErrorIs(t, err, svcErr.ErrNotVerified)
	_, err = svc.Like(ctx, pending.ID, x.ID)
	assert.ErrorIs(t, err, svcErr.ErrNotVerified)

	require.NoError(t, svc.Block(ctx, blocker.ID, x.ID, "rude", ""))
	_, err = svc.Like(ctx, x.ID, blocker.ID)
	assert.ErrorIs(t, err, svcErr.ErrBlocked)

	_, err = svc.Like(ctx, x.ID, y.ID)
	require.NoError(t, err)
	_, err = svc.Like(ctx, x.ID, y.ID)
	assert.ErrorIs(t, err, svcErr.ErrDuplicate)

	// nothing leaked from the failed attempts
	var likes, conns int64
	require.NoError(t, appCtx.DB.Model(&db.Like{}).Count(&likes).Error)
	require.NoError(t, appCtx.DB.Model(&db.Connection{}).Count(&conns).Error)
	assert.Equal(t, int64(1), likes)
	assert.Equal(t, int64(1), conns)
}

func TestRejectedConnectionIsNeverMoved(t *testing.T) {
	ctx := context.Background()
	svc, appCtx := setupService(t)
	x := dbtest.CreateUser(t, appCtx.DB, "x", "male")
	y := dbtest.CreateUser(t, appCtx.DB, "y", "female")

	_, err := svc.Like(ctx, x.ID, y.ID)
	require.NoError(t, err)
	conns := connectionsBetween(t, appCtx.DB, x.ID, y.ID)
	require.NoError(t, appCtx.DB.Model(&conns[0]).Update("status", db.StatusRejected).Error)

	res, err := svc.Like(ctx, y.ID, x.ID)
	require.NoError(t, err)
	assert.True(t, res.Reciprocal)
	assert.Equal(t, db.StatusRejected, res.Connection.Status)

	// the rejected pair stays out of both feeds
	assert.NotContains(t, candidateIDs(t, svc, x.ID), y.ID)
	assert.NotContains(t, candidateIDs(t, svc, y.ID), x.ID)
}

func TestSkipIsPermanentAndIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, appCtx := setupService(t)
	x := dbtest.CreateUser(t, appCtx.DB, "x", "male")
	y := dbtest.CreateUser(t, appCtx.DB, "y", "female")
	z := dbtest.CreateUser(t, appCtx.DB, "z", "female")

	assert.ElementsMatch(t, []uint64{y.ID, z.ID}, candidateIDs(t, svc, x.ID))

	require.NoError(t, svc.Skip(ctx, x.ID, y.ID))
	require.NoError(t, svc.Skip(ctx, x.ID, y.ID))
	assert.ErrorIs(t, svc.Skip(ctx, x.ID, x.ID), svcErr.ErrSelfAction)

	// later activity does not bring Y back
	_, err := svc.Like(ctx, y.ID, x.ID)
	require.NoError(t, err)
	require.NoError(t, svc.Block(ctx, x.ID, z.ID, "", ""))
	require.NoError(t, svc.Unblock(ctx, x.ID, z.ID))

	assert.Equal(t, []uint64{z.ID}, candidateIDs(t, svc, x.ID))

	// a skipped liker is not pending either
	count, err := svc.CountLikesReceived(ctx, x.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestRepeatSkipAfterTargetDeactivated(t *testing.T) {
	ctx := context.Background()
	svc, appCtx := setupService(t)
	x := dbtest.CreateUser(t, appCtx.DB, "x", "male")
	y := dbtest.CreateUser(t, appCtx.DB, "y", "female")

	require.NoError(t, svc.Skip(ctx, x.ID, y.ID))
	require.NoError(t, appCtx.DB.Model(&db.User{}).Where("id = ?", y.ID).Update("active", false).Error)

	assert.NoError(t, svc.Skip(ctx, x.ID, y.ID))

	// a first skip on an unknown account still fails
	assert.ErrorIs(t, svc.Skip(ctx, x.ID, 9999), svcErr.ErrNotFound)
}

func TestCountLikesReceivedCache(t *testing.T) {
	ctx := context.Background()
	appCtx, mr := apptest.New(t)
	svc := discovery.NewDiscoveryService(appCtx)
	x := dbtest.CreateUser(t, appCtx.DB, "x", "male")
	y := dbtest.CreateUser(t, appCtx.DB, "y", "female")
	z := dbtest.CreateUser(t, appCtx.DB, "z", "female")

	_, err := svc.Like(ctx, y.ID, x.ID)
	require.NoError(t, err)

	count, err := svc.CountLikesReceived(ctx, x.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	key := appCtx.RedisCache.KeyForLikesReceived(x.ID)
	cached, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "1", cached)

	// a new like invalidates the recipient's counter
	_, err = svc.Like(ctx, z.ID, x.ID)
	require.NoError(t, err)
	assert.False(t, mr.Exists(key))

	count, err = svc.CountLikesReceived(ctx, x.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestPreferencesAndBlocks(t *testing.T) {
	ctx := context.Background()
	svc, appCtx := setupService(t)
	x := dbtest.CreateUser(t, appCtx.DB, "x", "female")
	tall := dbtest.CreateUser(t, appCtx.DB, "tall", "male", dbtest.WithProfile(190, false, true, false, "Leeds", "UK"))
	short := dbtest.CreateUser(t, appCtx.DB, "short", "male", dbtest.WithProfile(165, false, true, false, "Leeds", "UK"))

	minH, maxH := 180, 170
	err := svc.SavePreferences(ctx, x.ID, &db.SearchPreference{MinHeightCm: &minH, MaxHeightCm: &maxH})
	assert.ErrorIs(t, err, svcErr.ErrInvalidArgument)

	maxH = 200
	require.NoError(t, svc.SavePreferences(ctx, x.ID, &db.SearchPreference{MinHeightCm: &minH, MaxHeightCm: &maxH}))
	assert.Equal(t, []uint64{tall.ID}, candidateIDs(t, svc, x.ID))

	require.NoError(t, svc.SavePreferences(ctx, x.ID, &db.SearchPreference{}))
	assert.ElementsMatch(t, []uint64{tall.ID, short.ID}, candidateIDs(t, svc, x.ID))

	// blocks hide in both directions
	require.NoError(t, svc.Block(ctx, short.ID, x.ID, "", ""))
	assert.Equal(t, []uint64{tall.ID}, candidateIDs(t, svc, x.ID))
	assert.ErrorIs(t, svc.Block(ctx, short.ID, x.ID, "", ""), svcErr.ErrDuplicate)
	assert.ErrorIs(t, svc.Block(ctx, x.ID, x.ID, "", ""), svcErr.ErrSelfAction)
	assert.ErrorIs(t, svc.Unblock(ctx, x.ID, short.ID), svcErr.ErrNotFound)
	require.NoError(t, svc.Unblock(ctx, short.ID, x.ID))
	assert.Len(t, candidateIDs(t, svc, x.ID), 2)
}
