package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidSpend        = errors.New("invalid_spend")
	ErrInsufficientCredits = errors.New("insufficient_credits")
)

// SpendPath reports which balance a spend drew from.
type SpendPath string

const (
	SpendPathGrants SpendPath = "grants"
	SpendPathLegacy SpendPath = "legacy"
)

// SpendRequest asks the usage gate to deduct the cost of a generation.
type SpendRequest struct {
	UserID     snowflake.ID
	Model      string
	Resolution string
	ImageCount int
	// Description lands on the billing record.
	Description string
}

// SpendResult describes what was deducted.
type SpendResult struct {
	Required  int64
	Deducted  int64
	Shortfall int64
	Path      SpendPath
}

type Service interface {
	// Cost computes the credit cost of a request without spending.
	Cost(model, resolution string, imageCount int) int64
	// Authorize checks the request's cost against the user's balance before
	// any work happens. Under the block policy an underfunded request gets
	// ErrInsufficientCredits; under allow-overage it always passes.
	Authorize(ctx context.Context, req SpendRequest) error
	// Spend deducts the request's cost from the user's live grants, falling
	// back to the legacy flat balance when no grants exist.
	Spend(ctx context.Context, req SpendRequest) (SpendResult, error)
	// Balance returns the user's spendable credits: the sum over live grants
	// when any exist, otherwise the legacy flat balance.
	Balance(ctx context.Context, userID snowflake.ID) (int64, error)
}
