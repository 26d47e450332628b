package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/pixelmuse/pixelmuse/internal/identity/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("identity.service"),
		repo: p.Repo,
	}
}

func (s *Service) FindByID(ctx context.Context, id snowflake.ID) (*domain.User, error) {
	user, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrUserNotFound
	}
	return user, nil
}

func (s *Service) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, domain.ErrInvalidToken
	}
	user, err := s.repo.FindByToken(ctx, s.db, token)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrInvalidToken
	}
	return user, nil
}

func (s *Service) Metadata(ctx context.Context, id snowflake.ID) (map[string]any, error) {
	user, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(user.Metadata))
	for k, v := range user.Metadata {
		out[k] = v
	}
	return out, nil
}

func (s *Service) MergeMetadata(ctx context.Context, id snowflake.ID, patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}

	user, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}

	merged := datatypes.JSONMap{}
	for k, v := range user.Metadata {
		merged[k] = v
	}
	for k, v := range patch {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}

	return s.repo.UpdateMetadata(ctx, s.db, id, merged)
}
