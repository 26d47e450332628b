// Package domain contains the credit grant model. One row exists per granting
// event; rows are never deleted, only excluded from allocation once drained
// or expired.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidGrant  = errors.New("invalid_grant")
	ErrInvalidUser   = errors.New("invalid_user")
	ErrInvalidAmount = errors.New("invalid_amount")
)

// GrantSource tags what produced a grant.
type GrantSource string

const (
	SourceSubscription GrantSource = "subscription"
	SourceCreditPack   GrantSource = "credit-pack"
)

// BillingCycle is the subscription cycle a grant was issued for.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

// CreditGrant is a unit of purchased or allotted credit balance.
// CreditsTotal is immutable after creation; CreditsRemaining is mutated only
// by deduction application and holds 0 <= remaining <= total.
// SourceEventID is "{payment-event-id}:{kind}" and is the idempotency key:
// the same payment event yields at most one subscription grant and one pack
// grant.
type CreditGrant struct {
	ID               snowflake.ID  `json:"id" gorm:"primaryKey"`
	UserID           snowflake.ID  `json:"userId" gorm:"not null;index"`
	Source           GrantSource   `json:"source" gorm:"type:text;not null"`
	PlanID           *string       `json:"planId,omitempty" gorm:"type:text"`
	Cycle            *BillingCycle `json:"cycle,omitempty" gorm:"type:text"`
	CreditsTotal     int64         `json:"creditsTotal" gorm:"not null"`
	CreditsRemaining int64         `json:"creditsRemaining" gorm:"not null"`
	ExpiresAt        *time.Time    `json:"expiresAt,omitempty" gorm:""`
	SourceEventID    string        `json:"-" gorm:"type:text;not null;uniqueIndex:ux_credit_grants_source_event"`
	CreatedAt        time.Time     `json:"createdAt" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreditGrant) TableName() string { return "credit_grants" }

// Live reports whether the grant can contribute to an allocation at the given
// instant. Pack grants never expire; an expired subscription grant stays on
// disk for audit but is excluded from selection.
func (g CreditGrant) Live(now time.Time) bool {
	if g.CreditsRemaining <= 0 {
		return false
	}
	if g.Source == SourceSubscription && g.ExpiresAt != nil && !g.ExpiresAt.After(now) {
		return false
	}
	return true
}

type Repository interface {
	// UpsertBySourceEvent inserts the grant unless a row with the same
	// source_event_id already exists. Returns whether a row was created.
	UpsertBySourceEvent(ctx context.Context, db *gorm.DB, grant *CreditGrant) (bool, error)
	// FindLive returns the user's grants with positive remaining balance,
	// excluding expired subscription grants, ordered by created_at.
	FindLive(ctx context.Context, db *gorm.DB, userID snowflake.ID, now time.Time) ([]CreditGrant, error)
	// ApplyDeduction decrements credits_remaining only when the row still
	// holds at least amount credits. Returns false when the balance moved
	// underneath the caller.
	ApplyDeduction(ctx context.Context, db *gorm.DB, grantID snowflake.ID, amount int64) (bool, error)
	// FindByUser returns every grant, drained and expired included, newest
	// first. Backs the membership grant history.
	FindByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]CreditGrant, error)
}
