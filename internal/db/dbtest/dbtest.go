// Package dbtest provides in-memory SQLite databases and fixtures for tests.
package dbtest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/oggyb/chaperone/internal/db"
)

var seq atomic.Uint64

// Open spins up an isolated in-memory SQLite DB with the full schema.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))
	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NowFunc:                func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := database.DB()
	require.NoError(t, err)
	// one connection keeps the shared in-memory DB alive and serializes writers
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(database))
	return database
}

// UserOpt tweaks a fixture user before insert.
type UserOpt func(*db.User)

// Unverified leaves the profile awaiting validation.
func Unverified(u *db.User) { u.IsVerified = false; u.ProfileStatus = db.ProfilePending }

// Inactive marks the account as deactivated.
func Inactive(u *db.User) { u.Active = false }

// WithRole overrides the account role.
func WithRole(role string) UserOpt { return func(u *db.User) { u.Role = role } }

// WithProfile sets the discovery-relevant profile fields.
func WithProfile(heightCm int, smoker, halal, alcohol bool, city, country string) UserOpt {
	return func(u *db.User) {
		u.HeightCm = heightCm
		u.Smoker = smoker
		u.Halal = halal
		u.DrinksAlcohol = alcohol
		u.City = city
		u.Country = country
	}
}

// CreateUser inserts a verified, active principal of the given gender.
func CreateUser(t *testing.T, gdb *gorm.DB, username, gender string, opts ...UserOpt) *db.User {
	t.Helper()

	u := &db.User{
		Username:      username,
		Email:         username + "@test.com",
		PasswordHash:  "x",
		Role:          db.RolePrincipal,
		Active:        true,
		IsVerified:    true,
		ProfileStatus: db.ProfileValidated,
		Gender:        gender,
		DisplayName:   username,
	}
	for _, o := range opts {
		o(u)
	}
	require.NoError(t, gdb.Create(u).Error)

	// zero values are skipped on insert when a column has a default
	require.NoError(t, gdb.Model(u).Updates(map[string]any{
		"active":         u.Active,
		"is_verified":    u.IsVerified,
		"profile_status": u.ProfileStatus,
	}).Error)
	return u
}
