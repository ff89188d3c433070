package repository_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/chaperone/internal/db"
	"github.com/oggyb/chaperone/internal/db/dbtest"
	svcErr "github.com/oggyb/chaperone/internal/errors"
	"github.com/oggyb/chaperone/internal/repository"
)

func ids(users []db.User) []uint64 {
	out := make([]uint64, 0, len(users))
	for _, u := range users {
		out = append(out, u.ID)
	}
	return out
}

func TestListCandidatesExclusions(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.Open(t)
	repo := repository.NewUserRepository(gdb)

	actor := dbtest.CreateUser(t, gdb, "actor", "male")
	liked := dbtest.CreateUser(t, gdb, "liked", "female")
	skipped := dbtest.CreateUser(t, gdb, "skipped", "female")
	blocker := dbtest.CreateUser(t, gdb, "blocker", "female")
	rejected := dbtest.CreateUser(t, gdb, "rejected", "female")
	validated := dbtest.CreateUser(t, gdb, "validated", "female")
	admirer := dbtest.CreateUser(t, gdb, "admirer", "female")
	fresh := dbtest.CreateUser(t, gdb, "fresh", "female")
	dbtest.CreateUser(t, gdb, "unverified", "female", dbtest.Unverified)
	dbtest.CreateUser(t, gdb, "inactive", "female", dbtest.Inactive)
	dbtest.CreateUser(t, gdb, "guardian", "female", dbtest.WithRole(db.RoleGuardian))
	dbtest.CreateUser(t, gdb, "other-male", "male")

	require.NoError(t, gdb.Create(&db.Like{FromID: actor.ID, ToID: liked.ID}).Error)
	require.NoError(t, gdb.Create(&db.Skip{FromID: actor.ID, ToID: skipped.ID}).Error)
	require.NoError(t, gdb.Create(&db.Block{BlockerID: blocker.ID, BlockedID: actor.ID}).Error)

	connRepo := repository.NewConnectionRepository(gdb)
	for _, tc := range []struct {
		other  uint64
		status db.ConnectionStatus
	}{
		{rejected.ID, db.StatusRejected},
		{validated.ID, db.StatusValidated},
	} {
		conn, _, err := connRepo.FindOrCreate(ctx, tc.other, actor.ID)
		require.NoError(t, err)
		require.NoError(t, gdb.Model(conn).Update("status", tc.status).Error)
	}

	// a one-way like towards the actor does not hide the admirer
	_, _, err := connRepo.FindOrCreate(ctx, admirer.ID, actor.ID)
	require.NoError(t, err)

	users, err := repo.ListCandidates(ctx, actor, nil, 50)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint64{admirer.ID, fresh.ID}, ids(users))
}

func TestListCandidatesPreferences(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.Open(t)
	repo := repository.NewUserRepository(gdb)

	actor := dbtest.CreateUser(t, gdb, "actor", "female")
	tall := dbtest.CreateUser(t, gdb, "tall", "male", dbtest.WithProfile(190, false, true, false, "London", "UK"))
	dbtest.CreateUser(t, gdb, "short", "male", dbtest.WithProfile(160, false, true, false, "London", "UK"))
	dbtest.CreateUser(t, gdb, "smoker", "male", dbtest.WithProfile(185, true, true, false, "London", "UK"))
	dbtest.CreateUser(t, gdb, "faraway", "male", dbtest.WithProfile(185, false, true, false, "Paris", "France"))

	minH, smoker := 175, false
	prefs := &db.SearchPreference{UserID: actor.ID, MinHeightCm: &minH, Smoker: &smoker, City: "lond"}
	require.NoError(t, repo.SavePreferences(ctx, prefs))

	saved, err := repo.GetPreferences(ctx, actor.ID)
	require.NoError(t, err)
	require.NotNil(t, saved)

	users, err := repo.ListCandidates(ctx, actor, saved, 50)
	require.NoError(t, err)
	assert.Equal(t, []uint64{tall.ID}, ids(users))

	// upsert replaces the previous filters
	prefs.City = ""
	require.NoError(t, repo.SavePreferences(ctx, prefs))
	saved, err = repo.GetPreferences(ctx, actor.ID)
	require.NoError(t, err)
	assert.Empty(t, saved.City)

	none, err := repo.GetPreferences(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestUserLookups(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.Open(t)
	repo := repository.NewUserRepository(gdb)

	u := dbtest.CreateUser(t, gdb, "alice", "female")
	admin := dbtest.CreateUser(t, gdb, "root", "", dbtest.WithRole(db.RoleAdmin))

	got, err := repo.GetByEmail(ctx, "  ALICE@test.com ")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = repo.GetByID(ctx, 12345)
	assert.ErrorIs(t, err, svcErr.ErrNotFound)

	err = repo.Create(ctx, &db.User{Username: "alice", Email: "other@test.com", PasswordHash: "x", Role: db.RolePrincipal})
	assert.ErrorIs(t, err, svcErr.ErrDuplicate)

	admins, err := repo.ListAdmins(ctx)
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, admin.ID, admins[0].ID)
}

func TestGuardianRepository(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.Open(t)
	repo := repository.NewGuardianRepository(gdb)

	principal := dbtest.CreateUser(t, gdb, "principal", "female")
	account := dbtest.CreateUser(t, gdb, "dad", "male", dbtest.WithRole(db.RoleGuardian))

	active := &db.GuardianLink{PrincipalID: principal.ID, Name: "Dad", ContactEmail: "dad@test.com", Status: db.GuardianInvited, InviteToken: "tok-1"}
	pending := &db.GuardianLink{PrincipalID: principal.ID, Name: "Mum", ContactEmail: "mum@test.com", Status: db.GuardianInvited, InviteToken: "tok-2"}
	require.NoError(t, repo.Create(ctx, active))
	require.NoError(t, repo.Create(ctx, pending))

	link, err := repo.GetByToken(ctx, "tok-1")
	require.NoError(t, err)
	require.NoError(t, repo.Activate(ctx, link.ID, account.ID, link.CreatedAt))
	assert.ErrorIs(t, repo.Activate(ctx, link.ID, account.ID, link.CreatedAt), svcErr.ErrDuplicate)

	_, err = repo.GetByToken(ctx, "nope")
	assert.ErrorIs(t, err, svcErr.ErrNotFound)

	guardians, err := repo.ListActiveWithAccount(ctx, principal.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint64{account.ID}, guardians)

	ok, err := repo.IsActiveGuardianOf(ctx, principal.ID, account.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.IsActiveGuardianOf(ctx, account.ID, principal.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	links, err := repo.ListForPrincipal(ctx, principal.ID)
	require.NoError(t, err)
	assert.Len(t, links, 2)
}
