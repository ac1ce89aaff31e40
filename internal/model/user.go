// Package model defines the data structures used throughout the application.
// The gorm tags describe the schema; the json tags are the API serialisation.
// Both are checked by schema conformance tests, so change them together.
package model

import (
	"time"

	"gorm.io/gorm"
)

type Role string

const (
	RoleCitizen Role = "CITIZEN"
	RoleAdmin   Role = "ADMIN"
)

// User represents a registered account.
//
// A user signs up with email and password, or is created lazily the first
// time an identity-provider token (or a GitHub login) is seen. ProviderUID is
// "<provider>:<subject>", for example "idp:8f0c..." or "github:1234567".
//
// Users are never hard-deleted. DeletedAt makes gorm filter soft-deleted rows
// from every query, and the foreign keys pointing at users are RESTRICT.
type User struct {
	ID           string         `gorm:"primaryKey;size:20" json:"id"`
	Email        string         `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash *string        `gorm:"size:100" json:"-"` // nil for identity-provider-only accounts
	Name         string         `gorm:"size:120;not null;default:''" json:"name"`
	Phone        string         `gorm:"size:40;not null;default:''" json:"phone"`
	PhotoURL     string         `gorm:"size:500;not null;default:''" json:"photo_url"`
	ProviderUID  *string        `gorm:"uniqueIndex;size:191" json:"-"`
	Role         Role           `gorm:"size:20;not null;default:CITIZEN" json:"role"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// HasPassword reports whether the account can log in with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}
