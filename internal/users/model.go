package users

import (
	"strings"
	"time"
)

// Role distinguishes the two account kinds BeatBound knows about.
type Role string

const (
	// RoleProducer marks accounts that post beats and run challenges.
	RoleProducer Role = "producer"
	// RoleArtist marks accounts that submit performances and vote.
	RoleArtist Role = "artist"
)

// ParseRole validates raw input against the known roles.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleProducer:
		return RoleProducer, true
	case RoleArtist:
		return RoleArtist, true
	default:
		return "", false
	}
}

// User is a registered BeatBound account.
type User struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	DisplayName  string    `gorm:"column:display_name;size:190;not null"`
	Role         Role      `gorm:"column:role;size:32;not null"`
	PasswordHash string    `gorm:"column:password_hash;size:128;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user accounts.
func (User) TableName() string {
	return "users"
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
