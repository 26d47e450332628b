package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	grantdomain "github.com/pixelmuse/pixelmuse/internal/grant/domain"
	paymentdomain "github.com/pixelmuse/pixelmuse/internal/payment/domain"
)

var (
	ErrMissingUser = errors.New("missing_user")
	ErrInvalidUser = errors.New("invalid_user")
)

// MetadataKey is where the snapshot lives inside the user's identity
// metadata. The reconciler is the only writer; everyone else reads through
// Membership.
const MetadataKey = "membership"

// MembershipSnapshot is the denormalized membership view derived from the
// latest provider event. Plan and Cycle are sticky: an event without them
// leaves the previous value intact. Status and IsProMember always reflect
// the latest event.
type MembershipSnapshot struct {
	Plan               string    `json:"plan,omitempty"`
	Cycle              string    `json:"cycle,omitempty"`
	SubscriptionStatus string    `json:"subscriptionStatus,omitempty"`
	IsProMember        bool      `json:"isProMember"`
	Version            int64     `json:"version"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

type Service interface {
	// Reconcile applies a classified provider event: membership snapshot
	// update plus at-most-once grant creation per event.
	Reconcile(ctx context.Context, event *paymentdomain.ProviderEvent) error
	// Membership returns the user's current snapshot; a user with no
	// reconciled events yet gets the zero snapshot.
	Membership(ctx context.Context, userID snowflake.ID) (MembershipSnapshot, error)
	// Grants lists the user's credit grants, newest first, drained and
	// expired ones included.
	Grants(ctx context.Context, userID snowflake.ID) ([]grantdomain.CreditGrant, error)
}
