// Package domain holds the deduction-plan types and the pure allocation
// algorithm that decides which grants a spend draws from.
package domain

import (
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	grantdomain "github.com/pixelmuse/pixelmuse/internal/grant/domain"
)

// PlanEntry is one intended balance decrement.
type PlanEntry struct {
	GrantID      snowflake.ID
	Deduct       int64
	NewRemaining int64
}

// DeductionPlan is the ordered set of decrements computed to satisfy a
// required credit amount, plus the portion that could not be covered.
type DeductionPlan struct {
	Entries   []PlanEntry
	Shortfall int64
}

// Covered returns the credit amount the plan deducts.
func (p DeductionPlan) Covered() int64 {
	var total int64
	for _, e := range p.Entries {
		total += e.Deduct
	}
	return total
}

// Allocate computes a deduction plan over the user's live grants. It never
// mutates its inputs; applying the plan is the caller's write step.
//
// Consumption order: subscription grants ascending by expiry (no expiry sorts
// last), then pack grants ascending by creation time. Credits closest to
// expiring burn first; packs drain FIFO.
func Allocate(required int64, grants []grantdomain.CreditGrant, now time.Time) DeductionPlan {
	if required <= 0 {
		return DeductionPlan{}
	}

	var subs, packs []grantdomain.CreditGrant
	for _, g := range grants {
		if g.CreditsRemaining <= 0 {
			continue
		}
		switch g.Source {
		case grantdomain.SourceSubscription:
			if g.ExpiresAt != nil && !g.ExpiresAt.After(now) {
				continue
			}
			subs = append(subs, g)
		case grantdomain.SourceCreditPack:
			packs = append(packs, g)
		}
	}

	sort.SliceStable(subs, func(i, j int) bool {
		a, b := subs[i].ExpiresAt, subs[j].ExpiresAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
	sort.SliceStable(packs, func(i, j int) bool {
		return packs[i].CreatedAt.Before(packs[j].CreatedAt)
	})

	plan := DeductionPlan{}
	remaining := required
	for _, g := range append(subs, packs...) {
		if remaining == 0 {
			break
		}
		deduct := g.CreditsRemaining
		if deduct > remaining {
			deduct = remaining
		}
		plan.Entries = append(plan.Entries, PlanEntry{
			GrantID:      g.ID,
			Deduct:       deduct,
			NewRemaining: g.CreditsRemaining - deduct,
		})
		remaining -= deduct
	}
	plan.Shortfall = remaining
	return plan
}
