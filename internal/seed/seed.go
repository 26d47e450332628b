// Package seed bootstraps a development user so the API is usable against a
// fresh database without a signup flow. Production environments skip it.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	identitydomain "github.com/pixelmuse/pixelmuse/internal/identity/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	devUserEmail   = "dev@pixelmuse.local"
	devUserDisplay = "Dev User"
	devUserToken   = "pm_dev_token"
)

// EnsureDevUser creates the development user when it does not exist yet.
func EnsureDevUser(db *gorm.DB, node *snowflake.Node) error {
	if db == nil || node == nil {
		return errors.New("seed requires database and id node")
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user identitydomain.User
		err := tx.WithContext(ctx).
			Where("email = ?", devUserEmail).
			First(&user).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		user = identitydomain.User{
			ID:          node.Generate(),
			Email:       devUserEmail,
			DisplayName: devUserDisplay,
			APIToken:    devUserToken,
			Metadata:    datatypes.JSONMap{},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return tx.WithContext(ctx).Create(&user).Error
	})
}
