package db

import (
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// DemoPassword is the password of every seeded account.
const DemoPassword = "password"

// SeedDemoData resets the database and populates it with a demo community.
//
// Behavior:
//  1. Clears every table.
//  2. Creates one admin (admin@example.com), 20 verified principals
//     (user1..user10 male, user11..user20 female), one principal awaiting
//     profile validation and one guardian account supervising user1.
//  3. Generates random likes between opposite genders; every third like is
//     mutual and lands in the admin validation queue, the rest stay
//     pending a reciprocal like.
//
// All passwords are DemoPassword.
func SeedDemoData(db *gorm.DB, log *slog.Logger) error {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	// --- Fresh start ---
	if err := reset(db); err != nil {
		return err
	}
	log.Info("cleared existing data")

	hash, err := bcrypt.GenerateFromPassword([]byte(DemoPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	newAccount := func(username, role, gender string) *User {
		lastLogin := time.Now().UTC().Add(-time.Duration(r.Intn(500)) * time.Hour)
		return &User{
			Username:      username,
			Email:         username + "@example.com",
			PasswordHash:  string(hash),
			Role:          role,
			Active:        true,
			IsVerified:    true,
			ProfileStatus: ProfileValidated,
			Gender:        gender,
			DisplayName:   username,
			LastLoginAt:   &lastLogin,
		}
	}

	// --- Accounts ---
	if err := db.Create(newAccount("admin", RoleAdmin, "")).Error; err != nil {
		return fmt.Errorf("failed to seed admin: %w", err)
	}

	cities := []string{"London", "Manchester", "Birmingham", "Leeds"}
	principals := make([]*User, 0, 20)
	for i := 1; i <= 20; i++ {
		gender := "male"
		if i > 10 {
			gender = "female"
		}
		u := newAccount(fmt.Sprintf("user%d", i), RolePrincipal, gender)
		u.HeightCm = 155 + r.Intn(40)
		u.Smoker = r.Intn(100) < 15
		u.Halal = r.Intn(100) < 80
		u.DrinksAlcohol = r.Intn(100) < 20
		u.City = cities[r.Intn(len(cities))]
		u.Country = "United Kingdom"
		if err := db.Create(u).Error; err != nil {
			return fmt.Errorf("failed to seed user: %w", err)
		}
		principals = append(principals, u)
	}

	pending := newAccount("newcomer", RolePrincipal, "female")
	pending.IsVerified = false
	pending.ProfileStatus = ProfilePending
	if err := db.Create(pending).Error; err != nil {
		return fmt.Errorf("failed to seed user: %w", err)
	}
	log.Info("seeded accounts", "principals", len(principals)+1)

	// --- Guardians of user1 ---
	guardian := newAccount("guardian1", RoleGuardian, "")
	if err := db.Create(guardian).Error; err != nil {
		return fmt.Errorf("failed to seed guardian: %w", err)
	}
	now := time.Now().UTC()
	links := []GuardianLink{
		{
			PrincipalID:       principals[0].ID,
			GuardianAccountID: &guardian.ID,
			Name:              "Guardian One",
			ContactEmail:      guardian.Email,
			Relationship:      "father",
			Status:            GuardianActive,
			InviteToken:       uuid.NewString(),
			ActivatedAt:       &now,
		},
		{
			PrincipalID:  principals[0].ID,
			Name:         "Aunt",
			ContactEmail: "aunt@example.com",
			Relationship: "aunt",
			Status:       GuardianInvited,
			InviteToken:  uuid.NewString(),
		},
	}
	if err := db.Create(&links).Error; err != nil {
		return fmt.Errorf("failed to seed guardian links: %w", err)
	}

	// --- Likes ---
	counter := 0
	seen := map[[2]uint64]bool{}
	for _, actor := range principals {
		for j := 0; j < 6; j++ {
			target := principals[r.Intn(len(principals))]
			if actor.Gender == target.Gender {
				continue
			}
			low, high := PairKey(actor.ID, target.ID)
			if seen[[2]uint64{low, high}] {
				continue
			}
			seen[[2]uint64{low, high}] = true

			mutual := counter%3 == 0
			if err := seedPair(db, actor.ID, target.ID, mutual); err != nil {
				return err
			}
			counter++
		}
	}
	log.Info("seeded likes", "pairs", counter)
	return nil
}

// seedPair writes the likes and the connection for one pair the way the
// ledger would have produced them.
func seedPair(db *gorm.DB, fromID, toID uint64, mutual bool) error {
	return db.Transaction(func(tx *gorm.DB) error {
		low, high := PairKey(fromID, toID)
		conn := Connection{
			PrincipalAID: fromID,
			PrincipalBID: toID,
			UserLowID:    low,
			UserHighID:   high,
			Status:       StatusPendingReciprocalLike,
			Version:      1,
		}
		likes := []Like{{FromID: fromID, ToID: toID}}

		if mutual {
			at := time.Now().UTC()
			conn.Status = StatusPendingAdminValidation
			conn.Version = 2
			likes = []Like{
				{FromID: fromID, ToID: toID, IsReciprocal: true, MatchedAt: &at},
				{FromID: toID, ToID: fromID, IsReciprocal: true, MatchedAt: &at},
			}
		}

		if err := tx.Create(&likes).Error; err != nil {
			return fmt.Errorf("failed to seed likes: %w", err)
		}
		if err := tx.Create(&conn).Error; err != nil {
			return fmt.Errorf("failed to seed connection: %w", err)
		}
		return nil
	})
}

// reset clears every table, children first, and restarts id sequences.
// AUTO_INCREMENT reset is MySQL/SQLite only.
func reset(db *gorm.DB) error {
	models := All()
	for i := len(models) - 1; i >= 0; i-- {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(models[i]); err != nil {
			return fmt.Errorf("failed to parse model: %w", err)
		}
		table := stmt.Schema.Table
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}

		switch db.Dialector.Name() {
		case "mysql":
			db.Exec("ALTER TABLE " + table + " AUTO_INCREMENT = 1")
		case "sqlite":
			db.Exec("DELETE FROM sqlite_sequence WHERE name = ?", table)
		}
	}
	return nil
}
