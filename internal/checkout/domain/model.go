package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidRequest = errors.New("invalid_checkout_request")
	ErrUnknownPlan    = errors.New("unknown_plan")
	ErrUnknownPack    = errors.New("unknown_pack")
	ErrNoProductID    = errors.New("no_product_configured")
)

// CreateRequest asks for a provider checkout session. Exactly one of Plan or
// Pack must be set.
type CreateRequest struct {
	Plan  string `json:"plan"`
	Pack  string `json:"pack"`
	Cycle string `json:"cycle"`
	Email string `json:"email"`
}

type CreateResponse struct {
	CheckoutURL string `json:"checkoutUrl"`
}

// SessionRequest is what the provider client sends upstream. Metadata is
// echoed back on webhook delivery so the reconciler can recover the buyer.
type SessionRequest struct {
	ProductID  string
	Email      string
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

type SessionResponse struct {
	ID          string
	CheckoutURL string
}

// ProviderClient creates checkout sessions against the payment provider API.
type ProviderClient interface {
	CreateSession(ctx context.Context, req SessionRequest) (*SessionResponse, error)
}

type Service interface {
	Create(ctx context.Context, userID snowflake.ID, req CreateRequest) (*CreateResponse, error)
}
