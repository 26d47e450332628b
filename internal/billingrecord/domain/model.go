package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pixelmuse/pixelmuse/pkg/db/pagination"
)

// RecordKind categorizes the ledger movement a record describes.
type RecordKind string

const (
	KindGeneration RecordKind = "generation"
	KindPurchase   RecordKind = "purchase"
	KindAdjustment RecordKind = "adjustment"
)

// BillingRecord is an audit read-model row. Credits is a signed delta,
// negative for spends.
type BillingRecord struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID      snowflake.ID `json:"user_id" gorm:"not null;index"`
	Kind        RecordKind   `json:"kind" gorm:"type:text;not null"`
	Credits     int64        `json:"credits" gorm:"not null"`
	Description string       `json:"description" gorm:"type:text"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null"`
}

func (BillingRecord) TableName() string { return "billing_records" }

type ListRequest struct {
	UserID snowflake.ID
	Kind   RecordKind
	Search string
	From   *time.Time
	To     *time.Time
	Page   pagination.Page
}

type ListResponse struct {
	Records  []BillingRecord     `json:"records"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

type Service interface {
	// Record appends one row. Callers treat failures as non-fatal.
	Record(ctx context.Context, record *BillingRecord) error
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}
