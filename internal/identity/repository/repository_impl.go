package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/pixelmuse/pixelmuse/internal/identity/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.User, error) {
	var item domain.User
	err := db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) FindByToken(ctx context.Context, db *gorm.DB, token string) (*domain.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	var item domain.User
	err := db.WithContext(ctx).Where("api_token = ?", token).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) UpdateMetadata(ctx context.Context, db *gorm.DB, id snowflake.ID, metadata datatypes.JSONMap) error {
	return db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", id).
		Update("metadata", metadata).Error
}
