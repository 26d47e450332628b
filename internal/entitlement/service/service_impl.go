package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/pixelmuse/pixelmuse/internal/clock"
	"github.com/pixelmuse/pixelmuse/internal/config"
	"github.com/pixelmuse/pixelmuse/internal/entitlement/domain"
	grantdomain "github.com/pixelmuse/pixelmuse/internal/grant/domain"
	identitydomain "github.com/pixelmuse/pixelmuse/internal/identity/domain"
	obsmetrics "github.com/pixelmuse/pixelmuse/internal/observability/metrics"
	paymentdomain "github.com/pixelmuse/pixelmuse/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Statuses the provider reports for a membership that no longer entitles.
var inactiveStatuses = map[string]struct{}{
	"canceled":  {},
	"cancelled": {},
	"expired":   {},
	"past_due":  {},
	"unpaid":    {},
}

// Statuses that confirm money changed hands.
var successStatuses = map[string]struct{}{
	"paid":      {},
	"succeeded": {},
	"completed": {},
	"active":    {},
}

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	GenID       *snowflake.Node
	Pricing     *config.PricingHolder
	GrantRepo   grantdomain.Repository
	IdentitySvc identitydomain.Service
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	genID       *snowflake.Node
	pricing     *config.PricingHolder
	grantRepo   grantdomain.Repository
	identitySvc identitydomain.Service
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("entitlement.service"),
		clock:       p.Clock,
		genID:       p.GenID,
		pricing:     p.Pricing,
		grantRepo:   p.GrantRepo,
		identitySvc: p.IdentitySvc,
		obsMetrics:  p.ObsMetrics,
	}
}

func (s *Service) Reconcile(ctx context.Context, event *paymentdomain.ProviderEvent) error {
	if event == nil {
		return paymentdomain.ErrInvalidEvent
	}

	rawUserID := strings.TrimSpace(event.Metadata.UserID)
	if rawUserID == "" {
		return domain.ErrMissingUser
	}
	userID, err := snowflake.ParseString(rawUserID)
	if err != nil {
		return domain.ErrInvalidUser
	}
	user, err := s.identitySvc.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return identitydomain.ErrUserNotFound
	}

	decision := derive(event, s.pricing.Get(), s.currentSnapshot(user))

	if err := s.identitySvc.MergeMetadata(ctx, userID, map[string]any{
		domain.MetadataKey: s.stampSnapshot(decision.snapshot),
	}); err != nil {
		return err
	}

	if !decision.shouldGrant {
		return nil
	}

	// Grant failures never roll back the membership update or the sibling
	// grant: delivery is at-least-once and the source-event key makes the
	// retry idempotent.
	now := s.clock.Now()
	if pack, ok := s.pricing.Get().PackByID(event.Metadata.Pack); ok {
		s.upsertGrant(ctx, &grantdomain.CreditGrant{
			ID:               s.genID.Generate(),
			UserID:           userID,
			Source:           grantdomain.SourceCreditPack,
			CreditsTotal:     pack.Credits,
			CreditsRemaining: pack.Credits,
			SourceEventID:    event.EventID + ":pack",
			CreatedAt:        now,
		})
	}
	if plan, ok := s.pricing.Get().PlanByID(event.Metadata.Plan); ok {
		cycle := normalizeCycle(event.Metadata.Cycle)
		credits := plan.CreditsForCycle(string(cycle))
		if credits > 0 {
			expires := now.AddDate(0, 1, 0)
			if cycle == grantdomain.CycleYearly {
				expires = now.AddDate(1, 0, 0)
			}
			planID := plan.ID
			s.upsertGrant(ctx, &grantdomain.CreditGrant{
				ID:               s.genID.Generate(),
				UserID:           userID,
				Source:           grantdomain.SourceSubscription,
				PlanID:           &planID,
				Cycle:            &cycle,
				CreditsTotal:     credits,
				CreditsRemaining: credits,
				ExpiresAt:        &expires,
				SourceEventID:    event.EventID + ":subscription",
				CreatedAt:        now,
			})
		}
	}

	return nil
}

func (s *Service) Membership(ctx context.Context, userID snowflake.ID) (domain.MembershipSnapshot, error) {
	user, err := s.identitySvc.FindByID(ctx, userID)
	if err != nil {
		return domain.MembershipSnapshot{}, err
	}
	if user == nil {
		return domain.MembershipSnapshot{}, identitydomain.ErrUserNotFound
	}
	return s.currentSnapshot(user), nil
}

func (s *Service) Grants(ctx context.Context, userID snowflake.ID) ([]grantdomain.CreditGrant, error) {
	return s.grantRepo.FindByUser(ctx, s.db, userID)
}

type decision struct {
	snapshot    domain.MembershipSnapshot
	shouldGrant bool
}

// derive is the reconciler's decision table. The event class comes from the
// adapter, so no provider wording is inspected here.
func derive(event *paymentdomain.ProviderEvent, pricing config.PricingConfig, prev domain.MembershipSnapshot) decision {
	status := strings.ToLower(strings.TrimSpace(event.Status))
	_, inactive := inactiveStatuses[status]
	_, success := successStatuses[status]

	isCanceled := event.Class == paymentdomain.ClassCancellation
	isActive := !inactive && !isCanceled
	shouldGrant := isActive && (success || event.Class == paymentdomain.ClassSuccess)

	next := prev
	if plan := strings.TrimSpace(event.Metadata.Plan); plan != "" {
		next.Plan = plan
	}
	if cycle := strings.TrimSpace(event.Metadata.Cycle); cycle != "" {
		next.Cycle = cycle
	}
	next.SubscriptionStatus = status
	next.IsProMember = pricing.IsProPlan(next.Plan) && isActive

	return decision{snapshot: next, shouldGrant: shouldGrant}
}

func (s *Service) stampSnapshot(snapshot domain.MembershipSnapshot) domain.MembershipSnapshot {
	snapshot.Version++
	snapshot.UpdatedAt = s.clock.Now()
	return snapshot
}

func (s *Service) currentSnapshot(user *identitydomain.User) domain.MembershipSnapshot {
	var snapshot domain.MembershipSnapshot
	raw, ok := user.Metadata[domain.MetadataKey]
	if !ok {
		return snapshot
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return snapshot
	}
	if err := json.Unmarshal(encoded, &snapshot); err != nil {
		return domain.MembershipSnapshot{}
	}
	return snapshot
}

func (s *Service) upsertGrant(ctx context.Context, grant *grantdomain.CreditGrant) {
	created, err := s.grantRepo.UpsertBySourceEvent(ctx, s.db, grant)
	if err != nil {
		s.log.Error("grant creation failed",
			zap.String("user_id", grant.UserID.String()),
			zap.String("source_event_id", grant.SourceEventID),
			zap.Error(err),
		)
		return
	}
	if created {
		s.obsMetrics.RecordGrantCreated(ctx, string(grant.Source))
		s.log.Info("credit grant created",
			zap.String("user_id", grant.UserID.String()),
			zap.String("source", string(grant.Source)),
			zap.Int64("credits", grant.CreditsTotal),
			zap.String("source_event_id", grant.SourceEventID),
		)
	}
}

func normalizeCycle(cycle string) grantdomain.BillingCycle {
	if strings.EqualFold(strings.TrimSpace(cycle), "yearly") {
		return grantdomain.CycleYearly
	}
	return grantdomain.CycleMonthly
}
