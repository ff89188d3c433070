package db

import (
	"time"

	"gorm.io/datatypes"
)

// Account roles.
const (
	RolePrincipal = "principal"
	RoleGuardian  = "guardian"
	RoleAdmin     = "admin"
)

// Profile validation statuses.
const (
	ProfilePending   = "pending"
	ProfileValidated = "validated"
	ProfileRejected  = "rejected"
)

// User table. Principals, guardians and admins share it; Role tells them apart.
//
// Indexes:
//   - idx_users_discovery(role, active, gender) narrows the candidate feed.
type User struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	Username      string `gorm:"uniqueIndex;size:64;not null"`
	Email         string `gorm:"uniqueIndex;size:128;not null"`
	PasswordHash  string `gorm:"size:255;not null"`
	Role          string `gorm:"size:16;not null;index:idx_users_discovery,priority:1"`
	Active        bool   `gorm:"not null;index:idx_users_discovery,priority:2"`
	IsVerified    bool   `gorm:"not null"`
	ProfileStatus string `gorm:"size:16;not null;default:pending"`
	Gender        string `gorm:"size:16;not null;index:idx_users_discovery,priority:3"`
	SeekingGender string `gorm:"size:16"`
	DisplayName   string `gorm:"size:128"`
	HeightCm      int
	Smoker        bool
	Halal         bool
	DrinksAlcohol bool
	City          string `gorm:"size:128"`
	Country       string `gorm:"size:128"`
	LastLoginAt   *time.Time
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// Verified reports whether both identity and profile have been approved.
func (u *User) Verified() bool {
	return u.IsVerified && u.ProfileStatus == ProfileValidated
}

// Seeking returns the gender this principal is shown in discovery.
// An empty preference falls back to the opposite gender.
func (u *User) Seeking() string {
	if u.SeekingGender != "" {
		return u.SeekingGender
	}
	switch u.Gender {
	case "male":
		return "female"
	case "female":
		return "male"
	}
	return ""
}

// SearchPreference holds the optional discovery filters saved by a principal.
// Nil pointers and empty strings mean "no filter".
type SearchPreference struct {
	UserID      uint64 `gorm:"primaryKey;autoIncrement:false"`
	MinHeightCm *int
	MaxHeightCm *int
	Smoker      *bool
	Halal       *bool
	Alcohol     *bool
	City        string    `gorm:"size:128"`
	Country     string    `gorm:"size:128"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// Like is a one-directional like from FromID to ToID.
//
// Composite PK: (FromID, ToID), one like per ordered pair.
//
// Indexes:
//   - idx_likes_to_reciprocal_created(to_id, is_reciprocal, created_at DESC)
//     serves the "likes received" list and its counter.
type Like struct {
	FromID       uint64 `gorm:"primaryKey;autoIncrement:false"`
	ToID         uint64 `gorm:"primaryKey;autoIncrement:false;index:idx_likes_to_reciprocal_created,priority:1"`
	IsReciprocal bool   `gorm:"not null;index:idx_likes_to_reciprocal_created,priority:2"`
	MatchedAt    *time.Time
	CreatedAt    time.Time `gorm:"autoCreateTime;index:idx_likes_to_reciprocal_created,priority:3,sort:desc"`
}

// Skip is a permanent "pass" from FromID on ToID. There is no reversal.
type Skip struct {
	FromID    uint64    `gorm:"primaryKey;autoIncrement:false"`
	ToID      uint64    `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// Block stops likes and messages between the pair, in both directions.
type Block struct {
	BlockerID uint64 `gorm:"primaryKey;autoIncrement:false"`
	BlockedID uint64 `gorm:"primaryKey;autoIncrement:false;index"`
	Reason    string `gorm:"size:64"`
	Notes     string `gorm:"type:text"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// ConnectionStatus is the lifecycle state of a Connection.
type ConnectionStatus string

const (
	StatusPendingReciprocalLike  ConnectionStatus = "pending_reciprocal_like"
	StatusPendingAdminValidation ConnectionStatus = "pending_admin_validation"
	StatusValidated              ConnectionStatus = "validated"
	StatusRejected               ConnectionStatus = "rejected"
)

// Connection is the relationship between two principals.
//
// PrincipalAID is whoever liked first; UserLowID/UserHighID is the same pair
// sorted, and idx_connection_pair makes it unique regardless of order.
// Version is bumped on every status transition (optimistic lock).
type Connection struct {
	ID                  uint64           `gorm:"primaryKey;autoIncrement"`
	PrincipalAID        uint64           `gorm:"not null;index"`
	PrincipalBID        uint64           `gorm:"not null;index"`
	UserLowID           uint64           `gorm:"not null;uniqueIndex:idx_connection_pair,priority:1"`
	UserHighID          uint64           `gorm:"not null;uniqueIndex:idx_connection_pair,priority:2"`
	Status              ConnectionStatus `gorm:"size:32;not null;index"`
	ValidatedAt         *time.Time
	ValidatedBy         *uint64
	ValidationNotes     string `gorm:"type:text"`
	GroupConversationID *uint64
	LastMessageAt       *time.Time
	Version             uint64    `gorm:"not null;default:1"`
	CreatedAt           time.Time `gorm:"autoCreateTime"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime"`
}

// IsActive is derived from Status; messaging is only open once validated.
func (c *Connection) IsActive() bool {
	return c.Status == StatusValidated
}

// HasPrincipal reports whether userID is one of the two principals.
func (c *Connection) HasPrincipal(userID uint64) bool {
	return c.PrincipalAID == userID || c.PrincipalBID == userID
}

// Other returns the principal opposite userID.
func (c *Connection) Other(userID uint64) (uint64, bool) {
	switch userID {
	case c.PrincipalAID:
		return c.PrincipalBID, true
	case c.PrincipalBID:
		return c.PrincipalAID, true
	}
	return 0, false
}

// PairKey sorts two principal IDs into the canonical (low, high) order.
func PairKey(a, b uint64) (uint64, uint64) {
	if a < b {
		return a, b
	}
	return b, a
}

// GroupConversation is the supervised room of a validated connection.
// ConnectionID is unique, so a connection is provisioned at most once.
type GroupConversation struct {
	ID           uint64               `gorm:"primaryKey;autoIncrement"`
	ConnectionID uint64               `gorm:"not null;uniqueIndex"`
	Members      []ConversationMember `gorm:"foreignKey:ConversationID"`
	CreatedAt    time.Time            `gorm:"autoCreateTime"`
}

// Membership states and member roles.
const (
	MemberActive   = "active"
	MemberReadOnly = "readonly"

	MemberRolePrincipal = "principal"
	MemberRoleGuardian  = "guardian"
)

// ConversationMember is one account's membership in a conversation.
// The composite PK keeps exactly one state per account, so an account can
// never be both active and read-only.
type ConversationMember struct {
	ConversationID uint64    `gorm:"primaryKey;autoIncrement:false"`
	AccountID      uint64    `gorm:"primaryKey;autoIncrement:false;index"`
	State          string    `gorm:"size:16;not null"`
	Role           string    `gorm:"size:16;not null"`
	JoinedAt       time.Time `gorm:"autoCreateTime"`
	LeftAt         *time.Time
}

// Sender roles stamped on messages at send time.
const (
	SenderPrincipalA = "principal_a"
	SenderPrincipalB = "principal_b"
	SenderGuardian   = "guardian"
)

// Message belongs to a connection and, when one was provisioned, to its group
// conversation. A nil ConversationID is the legacy direct channel.
//
// Indexes:
//   - idx_messages_unread(is_read, connection_id) serves unread counters.
type Message struct {
	ID             uint64                     `gorm:"primaryKey;autoIncrement"`
	ConnectionID   uint64                     `gorm:"not null;index;index:idx_messages_unread,priority:2"`
	ConversationID *uint64                    `gorm:"index"`
	SenderID       uint64                     `gorm:"not null"`
	SenderRole     string                     `gorm:"size:16;not null"`
	Text           string                     `gorm:"type:text"`
	Attachments    datatypes.JSONSlice[string] `gorm:"type:json"`
	IsRead         bool                       `gorm:"not null;index:idx_messages_unread,priority:1"`
	ReadAt         *time.Time
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

// Notification is a persisted, best-effort event for a user.
type Notification struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	UserID    uint64    `gorm:"not null;index"`
	Kind      string    `gorm:"size:48;not null"`
	Title     string    `gorm:"size:255;not null"`
	Body      string    `gorm:"type:text"`
	IsRead    bool      `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// Guardian link statuses.
const (
	GuardianInvited = "invited"
	GuardianActive  = "active"
)

// GuardianLink ties a principal to a supervising guardian. The guardian
// account only exists once the invitation token has been accepted.
type GuardianLink struct {
	ID                uint64  `gorm:"primaryKey;autoIncrement"`
	PrincipalID       uint64  `gorm:"not null;index"`
	GuardianAccountID *uint64 `gorm:"index"`
	Name              string  `gorm:"size:128;not null"`
	ContactEmail      string  `gorm:"size:128;not null"`
	Relationship      string  `gorm:"size:32"`
	Status            string  `gorm:"size:16;not null"`
	InviteToken       string  `gorm:"size:36;uniqueIndex;not null"`
	ActivatedAt       *time.Time
	CreatedAt         time.Time `gorm:"autoCreateTime"`
}

// All lists every model for AutoMigrate.
func All() []any {
	return []any{
		&User{},
		&SearchPreference{},
		&Like{},
		&Skip{},
		&Block{},
		&Connection{},
		&GroupConversation{},
		&ConversationMember{},
		&Message{},
		&Notification{},
		&GuardianLink{},
	}
}
