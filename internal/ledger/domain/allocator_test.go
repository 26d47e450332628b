package domain

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	grantdomain "github.com/pixelmuse/pixelmuse/internal/grant/domain"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func subGrant(id int64, remaining int64, expiresIn time.Duration) grantdomain.CreditGrant {
	expires := testNow.Add(expiresIn)
	return grantdomain.CreditGrant{
		ID:               snowflake.ID(id),
		Source:           grantdomain.SourceSubscription,
		CreditsTotal:     remaining,
		CreditsRemaining: remaining,
		ExpiresAt:        &expires,
		CreatedAt:        testNow.Add(-time.Hour),
	}
}

func packGrant(id int64, remaining int64, createdAgo time.Duration) grantdomain.CreditGrant {
	return grantdomain.CreditGrant{
		ID:               snowflake.ID(id),
		Source:           grantdomain.SourceCreditPack,
		CreditsTotal:     remaining,
		CreditsRemaining: remaining,
		CreatedAt:        testNow.Add(-createdAgo),
	}
}

func TestAllocateSubscriptionBeforePack(t *testing.T) {
	grants := []grantdomain.CreditGrant{
		packGrant(2, 100, 48*time.Hour),
		subGrant(1, 10, 5*24*time.Hour),
	}

	plan := Allocate(15, grants, testNow)

	if plan.Shortfall != 0 {
		t.Fatalf("expected no shortfall, got %d", plan.Shortfall)
	}
	if len(plan.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(plan.Entries))
	}
	if plan.Entries[0].GrantID != 1 || plan.Entries[0].Deduct != 10 || plan.Entries[0].NewRemaining != 0 {
		t.Fatalf("unexpected first entry: %+v", plan.Entries[0])
	}
	if plan.Entries[1].GrantID != 2 || plan.Entries[1].Deduct != 5 || plan.Entries[1].NewRemaining != 95 {
		t.Fatalf("unexpected second entry: %+v", plan.Entries[1])
	}
}

func TestAllocateSubscriptionsByExpiry(t *testing.T) {
	noExpiry := subGrant(3, 50, time.Hour)
	noExpiry.ExpiresAt = nil

	grants := []grantdomain.CreditGrant{
		noExpiry,
		subGrant(1, 20, 30*24*time.Hour),
		subGrant(2, 20, 5*24*time.Hour),
	}

	plan := Allocate(30, grants, testNow)

	if len(plan.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(plan.Entries))
	}
	if plan.Entries[0].GrantID != 2 {
		t.Fatalf("expected soonest-expiring grant first, got %d", plan.Entries[0].GrantID)
	}
	if plan.Entries[1].GrantID != 1 || plan.Entries[1].Deduct != 10 {
		t.Fatalf("unexpected second entry: %+v", plan.Entries[1])
	}
}

func TestAllocatePacksFIFO(t *testing.T) {
	grants := []grantdomain.CreditGrant{
		packGrant(1, 30, time.Hour),
		packGrant(2, 30, 72*time.Hour),
	}

	plan := Allocate(40, grants, testNow)

	if plan.Entries[0].GrantID != 2 {
		t.Fatalf("expected oldest pack first, got %d", plan.Entries[0].GrantID)
	}
	if plan.Entries[0].Deduct != 30 || plan.Entries[1].Deduct != 10 {
		t.Fatalf("unexpected deductions: %+v", plan.Entries)
	}
}

func TestAllocateShortfall(t *testing.T) {
	grants := []grantdomain.CreditGrant{
		subGrant(1, 3, 24*time.Hour),
		packGrant(2, 5, time.Hour),
	}

	plan := Allocate(20, grants, testNow)

	if plan.Covered() != 8 {
		t.Fatalf("expected 8 covered, got %d", plan.Covered())
	}
	if plan.Shortfall != 12 {
		t.Fatalf("expected shortfall 12, got %d", plan.Shortfall)
	}
}

func TestAllocateZeroRequired(t *testing.T) {
	grants := []grantdomain.CreditGrant{packGrant(1, 100, time.Hour)}

	plan := Allocate(0, grants, testNow)

	if len(plan.Entries) != 0 || plan.Shortfall != 0 {
		t.Fatalf("expected empty plan, got %+v", plan)
	}
}

func TestAllocateNoGrants(t *testing.T) {
	plan := Allocate(20, nil, testNow)

	if len(plan.Entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(plan.Entries))
	}
	if plan.Shortfall != 20 {
		t.Fatalf("expected shortfall 20, got %d", plan.Shortfall)
	}
}

func TestAllocateSkipsExpiredAndDrained(t *testing.T) {
	expired := subGrant(1, 50, -time.Hour)
	drained := packGrant(2, 0, time.Hour)
	live := packGrant(3, 10, time.Hour)

	plan := Allocate(10, []grantdomain.CreditGrant{expired, drained, live}, testNow)

	if len(plan.Entries) != 1 || plan.Entries[0].GrantID != 3 {
		t.Fatalf("expected only live pack to contribute, got %+v", plan.Entries)
	}
	if plan.Shortfall != 0 {
		t.Fatalf("expected no shortfall, got %d", plan.Shortfall)
	}
}

func TestAllocateDoesNotMutateInput(t *testing.T) {
	grants := []grantdomain.CreditGrant{packGrant(1, 100, time.Hour)}

	_ = Allocate(40, grants, testNow)

	if grants[0].CreditsRemaining != 100 {
		t.Fatalf("input grant mutated: %d", grants[0].CreditsRemaining)
	}
}
