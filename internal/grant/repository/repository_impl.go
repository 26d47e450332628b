package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pixelmuse/pixelmuse/internal/grant/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) UpsertBySourceEvent(ctx context.Context, db *gorm.DB, grant *domain.CreditGrant) (bool, error) {
	if grant == nil || grant.ID == 0 {
		return false, domain.ErrInvalidGrant
	}
	if grant.UserID == 0 {
		return false, domain.ErrInvalidUser
	}
	res := db.WithContext(ctx).Exec(
		`INSERT INTO credit_grants (
			id, user_id, source, plan_id, cycle,
			credits_total, credits_remaining, expires_at, source_event_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_event_id) DO NOTHING`,
		grant.ID,
		grant.UserID,
		grant.Source,
		grant.PlanID,
		grant.Cycle,
		grant.CreditsTotal,
		grant.CreditsRemaining,
		grant.ExpiresAt,
		grant.SourceEventID,
		grant.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindLive(ctx context.Context, db *gorm.DB, userID snowflake.ID, now time.Time) ([]domain.CreditGrant, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}
	var items []domain.CreditGrant
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, source, plan_id, cycle,
			credits_total, credits_remaining, expires_at, source_event_id, created_at
		 FROM credit_grants
		 WHERE user_id = ?
		   AND credits_remaining > 0
		   AND (source <> ? OR expires_at IS NULL OR expires_at > ?)
		 ORDER BY created_at ASC`,
		userID,
		domain.SourceSubscription,
		now,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ApplyDeduction(ctx context.Context, db *gorm.DB, grantID snowflake.ID, amount int64) (bool, error) {
	if amount <= 0 {
		return false, domain.ErrInvalidAmount
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE credit_grants
		 SET credits_remaining = credits_remaining - ?
		 WHERE id = ? AND credits_remaining >= ?`,
		amount,
		grantID,
		amount,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]domain.CreditGrant, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}
	var items []domain.CreditGrant
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, source, plan_id, cycle,
			credits_total, credits_remaining, expires_at, source_event_id, created_at
		 FROM credit_grants
		 WHERE user_id = ?
		 ORDER BY created_at DESC`,
		userID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
