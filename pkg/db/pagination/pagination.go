// Package pagination provides page/limit helpers for listing endpoints.
package pagination

import "gorm.io/gorm"

type Page struct {
	Page  int `form:"page,default=1" validate:"gte=1"`
	Limit int `form:"limit,default=20" validate:"gte=1,lte=100"`
}

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Normalize clamps page and limit into their allowed ranges.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = defaultLimit
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	return p
}

func (p Page) Offset() int {
	p = p.Normalize()
	return (p.Page - 1) * p.Limit
}

// Apply adds LIMIT/OFFSET to the statement.
func (p Page) Apply(db *gorm.DB) *gorm.DB {
	p = p.Normalize()
	return db.Limit(p.Limit).Offset(p.Offset())
}

// PageInfo describes the page returned by a listing.
type PageInfo struct {
	Page    int   `json:"page"`
	Limit   int   `json:"limit"`
	Total   int64 `json:"total"`
	HasMore bool  `json:"has_more"`
}

// BuildPageInfo derives PageInfo from a total row count.
func BuildPageInfo(p Page, total int64) PageInfo {
	p = p.Normalize()
	return PageInfo{
		Page:    p.Page,
		Limit:   p.Limit,
		Total:   total,
		HasMore: int64(p.Offset()+p.Limit) < total,
	}
}
