package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pixelmuse/pixelmuse/internal/clock"
	"github.com/pixelmuse/pixelmuse/internal/config"
	grantdomain "github.com/pixelmuse/pixelmuse/internal/grant/domain"
	identitydomain "github.com/pixelmuse/pixelmuse/internal/identity/domain"
	ledgerdomain "github.com/pixelmuse/pixelmuse/internal/ledger/domain"
	obsmetrics "github.com/pixelmuse/pixelmuse/internal/observability/metrics"
	"github.com/pixelmuse/pixelmuse/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	keySpendLock = "ledger:spend:user:%s"
	spendLockTTL = 10 * time.Second
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Pricing     *config.PricingHolder
	GrantRepo   grantdomain.Repository
	IdentitySvc identitydomain.Service
	Locker      *ratelimit.Locker   `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	pricing     *config.PricingHolder
	grantRepo   grantdomain.Repository
	identitySvc identitydomain.Service
	locker      *ratelimit.Locker
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("ledger.service"),
		clock:       p.Clock,
		pricing:     p.Pricing,
		grantRepo:   p.GrantRepo,
		identitySvc: p.IdentitySvc,
		locker:      p.Locker,
		obsMetrics:  p.ObsMetrics,
	}
}

func (s *Service) Cost(model, resolution string, imageCount int) int64 {
	if imageCount < 1 {
		imageCount = 1
	}
	return s.pricing.Get().CostFor(model, resolution) * int64(imageCount)
}

// Authorize gates a request before the generation backend is called. The
// balance read is advisory; Spend's conditional decrements still decide what
// actually comes off each grant.
func (s *Service) Authorize(ctx context.Context, req ledgerdomain.SpendRequest) error {
	if req.UserID == 0 {
		return ledgerdomain.ErrInvalidSpend
	}
	if s.pricing.Get().SpendPolicy != config.SpendPolicyBlock {
		return nil
	}

	required := s.Cost(req.Model, req.Resolution, req.ImageCount)
	if required == 0 {
		return nil
	}

	balance, err := s.Balance(ctx, req.UserID)
	if err != nil {
		return err
	}
	if balance < required {
		s.obsMetrics.RecordSpendShortfall(ctx, string(config.SpendPolicyBlock))
		return ledgerdomain.ErrInsufficientCredits
	}
	return nil
}

// Spend deducts the request's cost from live grants, subscriptions before
// packs. Callers invoke it after the generation result has already been
// delivered, so the shortfall policy decides whether an underfunded spend
// errors or proceeds with a warning.
func (s *Service) Spend(ctx context.Context, req ledgerdomain.SpendRequest) (ledgerdomain.SpendResult, error) {
	if req.UserID == 0 {
		return ledgerdomain.SpendResult{}, ledgerdomain.ErrInvalidSpend
	}

	required := s.Cost(req.Model, req.Resolution, req.ImageCount)
	result := ledgerdomain.SpendResult{Required: required}
	if required == 0 {
		return result, nil
	}

	// Serialize concurrent spends per user when redis is available. The
	// conditional decrement below still guards each row, so a missing lock
	// only widens the window for partial plans, never for over-spend.
	if release := s.acquireSpendLock(ctx, req.UserID); release != nil {
		defer release()
	}

	now := s.clock.Now()
	grants, err := s.grantRepo.FindLive(ctx, s.db, req.UserID, now)
	if err != nil {
		return result, err
	}

	if len(grants) == 0 {
		return s.spendLegacy(ctx, req.UserID, required)
	}

	plan := ledgerdomain.Allocate(required, grants, now)
	if plan.Shortfall > 0 {
		policy := s.pricing.Get().SpendPolicy
		s.obsMetrics.RecordSpendShortfall(ctx, string(policy))
		if policy == config.SpendPolicyBlock {
			result.Shortfall = plan.Shortfall
			return result, ledgerdomain.ErrInsufficientCredits
		}
		s.log.Warn("spend exceeds live balance, proceeding under allow-overage policy",
			zap.String("user_id", req.UserID.String()),
			zap.Int64("required", required),
			zap.Int64("shortfall", plan.Shortfall),
		)
	}

	for _, entry := range plan.Entries {
		applied, err := s.grantRepo.ApplyDeduction(ctx, s.db, entry.GrantID, entry.Deduct)
		if err != nil {
			s.log.Error("grant deduction failed",
				zap.String("user_id", req.UserID.String()),
				zap.String("grant_id", entry.GrantID.String()),
				zap.Int64("deduct", entry.Deduct),
				zap.Error(err),
			)
			continue
		}
		if !applied {
			// Balance moved between plan and apply; the conditional update
			// refused rather than over-draw the grant.
			s.log.Warn("grant deduction skipped, balance changed concurrently",
				zap.String("user_id", req.UserID.String()),
				zap.String("grant_id", entry.GrantID.String()),
				zap.Int64("deduct", entry.Deduct),
			)
			continue
		}
		result.Deducted += entry.Deduct
	}

	result.Shortfall = required - result.Deducted
	result.Path = ledgerdomain.SpendPathGrants
	s.obsMetrics.RecordCreditsSpent(ctx, string(result.Path), result.Deducted)
	return result, nil
}

func (s *Service) Balance(ctx context.Context, userID snowflake.ID) (int64, error) {
	if userID == 0 {
		return 0, ledgerdomain.ErrInvalidSpend
	}

	grants, err := s.grantRepo.FindLive(ctx, s.db, userID, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if len(grants) > 0 {
		var total int64
		for _, g := range grants {
			total += g.CreditsRemaining
		}
		return total, nil
	}

	balance, _, err := s.legacyBalance(ctx, userID)
	return balance, err
}

func (s *Service) spendLegacy(ctx context.Context, userID snowflake.ID, required int64) (ledgerdomain.SpendResult, error) {
	result := ledgerdomain.SpendResult{Required: required, Path: ledgerdomain.SpendPathLegacy}

	balance, key, err := s.legacyBalance(ctx, userID)
	if err != nil {
		return result, err
	}

	if balance < required {
		policy := s.pricing.Get().SpendPolicy
		s.obsMetrics.RecordSpendShortfall(ctx, string(policy))
		if policy == config.SpendPolicyBlock {
			result.Shortfall = required - balance
			return result, ledgerdomain.ErrInsufficientCredits
		}
	}

	newBalance := balance - required
	if newBalance < 0 {
		newBalance = 0
	}
	if err := s.identitySvc.MergeMetadata(ctx, userID, map[string]any{key: newBalance}); err != nil {
		return result, err
	}

	result.Deducted = balance - newBalance
	result.Shortfall = required - result.Deducted
	s.obsMetrics.RecordCreditsSpent(ctx, string(result.Path), result.Deducted)
	return result, nil
}

// legacyBalance reads the flat credit balance from identity metadata,
// checking each configured key in order and defaulting to the starter
// allowance. The returned key is where the new balance gets written back.
func (s *Service) legacyBalance(ctx context.Context, userID snowflake.ID) (int64, string, error) {
	pricing := s.pricing.Get()

	meta, err := s.identitySvc.Metadata(ctx, userID)
	if err != nil {
		return 0, "", err
	}

	for _, key := range pricing.LegacyBalanceKeys {
		if raw, ok := meta[key]; ok {
			if value, ok := toInt64(raw); ok {
				return value, key, nil
			}
		}
	}
	return pricing.StarterCredits, pricing.LegacyBalanceKeys[0], nil
}

func (s *Service) acquireSpendLock(ctx context.Context, userID snowflake.ID) func() {
	if s.locker == nil {
		return nil
	}
	key := fmt.Sprintf(keySpendLock, userID.String())
	token, ok, err := s.locker.TryLock(ctx, key, spendLockTTL)
	if err != nil {
		s.log.Warn("spend lock unavailable", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	return func() {
		if err := s.locker.Release(ctx, key, token); err != nil {
			s.log.Warn("spend lock release failed", zap.Error(err))
		}
	}
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	case json.Number:
		parsed, err := t.Int64()
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
