// Package domain contains the user identity model and its access interfaces.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound = errors.New("user_not_found")
	ErrInvalidToken = errors.New("invalid_token")
)

// User is the identity record. Metadata is a free-form per-user key/value
// blob; the entitlement reconciler stores the membership snapshot under its
// own key and the legacy flat credit balance lives at the top level.
type User struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	Email       string            `gorm:"type:text;not null;uniqueIndex:ux_users_email"`
	DisplayName string            `gorm:"type:text"`
	APIToken    string            `gorm:"type:text;not null;uniqueIndex:ux_users_api_token"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	FindByToken(ctx context.Context, db *gorm.DB, token string) (*User, error)
	UpdateMetadata(ctx context.Context, db *gorm.DB, id snowflake.ID, metadata datatypes.JSONMap) error
}

type Service interface {
	FindByID(ctx context.Context, id snowflake.ID) (*User, error)
	Authenticate(ctx context.Context, token string) (*User, error)
	Metadata(ctx context.Context, id snowflake.ID) (map[string]any, error)
	// MergeMetadata overlays patch onto the user's metadata blob,
	// last-write-wins per key. A nil value deletes the key.
	MergeMetadata(ctx context.Context, id snowflake.ID, patch map[string]any) error
}
