package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/pixelmuse/pixelmuse/internal/billingrecord/domain"
	"github.com/pixelmuse/pixelmuse/internal/clock"
	"github.com/pixelmuse/pixelmuse/internal/generation/domain"
	ledgerdomain "github.com/pixelmuse/pixelmuse/internal/ledger/domain"
	obsmetrics "github.com/pixelmuse/pixelmuse/internal/observability/metrics"
	"github.com/pixelmuse/pixelmuse/internal/ratelimit"
	"github.com/pixelmuse/pixelmuse/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	GenID      *snowflake.Node
	Backend    domain.BackendClient
	Store      repository.Repository[domain.Generation]
	Ledger     ledgerdomain.Service
	Billing    billingdomain.Service
	Limiter    *ratelimit.GenerationLimiter `optional:"true"`
	ObsMetrics *obsmetrics.Metrics          `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	clock      clock.Clock
	genID      *snowflake.Node
	backend    domain.BackendClient
	store      repository.Repository[domain.Generation]
	ledger     ledgerdomain.Service
	billing    billingdomain.Service
	limiter    *ratelimit.GenerationLimiter
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		log:        p.Log.Named("generation.service"),
		clock:      p.Clock,
		genID:      p.GenID,
		backend:    p.Backend,
		store:      p.Store,
		ledger:     p.Ledger,
		billing:    p.Billing,
		limiter:    p.Limiter,
		obsMetrics: p.ObsMetrics,
	}
}

// Create serves one generation request. Authorization runs first so the
// block policy can refuse an underfunded user before the backend is called;
// the actual deduction still happens after delivery. A failed or timed-out
// generation stores nothing and costs nothing, while bookkeeping failures
// after a delivered result are logged and never surfaced to the caller.
func (s *Service) Create(ctx context.Context, userID snowflake.ID, req domain.CreateRequest) (*domain.CreateResponse, error) {
	if err := (&req).Validate(); err != nil {
		return nil, err
	}

	if s.limiter.Enabled() {
		allowed, err := s.limiter.AllowUser(ctx, userID.String())
		if err != nil {
			s.log.Warn("rate limiter unavailable", zap.Error(err))
		} else if !allowed {
			return nil, domain.ErrRateLimited
		}
	}

	if err := s.ledger.Authorize(ctx, ledgerdomain.SpendRequest{
		UserID:     userID,
		Model:      req.Model,
		Resolution: req.Resolution,
		ImageCount: req.ImageCount,
	}); err != nil {
		return nil, err
	}

	start := s.clock.Now()
	result, err := s.backend.Generate(ctx, domain.BackendRequest{
		Prompt:       req.Prompt,
		Images:       req.Images,
		Model:        req.Model,
		Resolution:   req.Resolution,
		AspectRatio:  req.AspectRatio,
		ImageCount:   req.ImageCount,
		OutputFormat: req.OutputFormat,
	})
	elapsed := s.clock.Now().Sub(start)
	if err != nil {
		s.obsMetrics.RecordGeneration(ctx, req.Model, "failed", elapsed)
		return nil, err
	}
	s.obsMetrics.RecordGeneration(ctx, req.Model, "ok", elapsed)

	s.bookkeep(ctx, userID, req, result)

	resp := &domain.CreateResponse{
		ImageURLs: result.ImageURLs,
		Text:      result.Text,
	}
	if len(result.ImageURLs) > 0 {
		resp.ImageURL = result.ImageURLs[0]
	}
	return resp, nil
}

func (s *Service) bookkeep(ctx context.Context, userID snowflake.ID, req domain.CreateRequest, result *domain.BackendResult) {
	cost := s.ledger.Cost(req.Model, req.Resolution, req.ImageCount)

	urls, err := json.Marshal(result.ImageURLs)
	if err != nil {
		urls = []byte("[]")
	}
	if err := s.store.Create(ctx, &domain.Generation{
		ID:           s.genID.Generate(),
		UserID:       userID,
		Prompt:       req.Prompt,
		Model:        req.Model,
		Resolution:   req.Resolution,
		AspectRatio:  req.AspectRatio,
		ImageCount:   req.ImageCount,
		OutputFormat: req.OutputFormat,
		ImageURLs:    datatypes.JSON(urls),
		Text:         result.Text,
		CreditsCost:  cost,
		CreatedAt:    s.clock.Now(),
	}); err != nil {
		s.log.Error("failed to store generation",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
	}

	spend, err := s.ledger.Spend(ctx, ledgerdomain.SpendRequest{
		UserID:     userID,
		Model:      req.Model,
		Resolution: req.Resolution,
		ImageCount: req.ImageCount,
	})
	if err != nil {
		s.log.Error("credit deduction failed after generation",
			zap.String("user_id", userID.String()),
			zap.Int64("cost", cost),
			zap.Error(err),
		)
		return
	}

	if err := s.billing.Record(ctx, &billingdomain.BillingRecord{
		UserID:      userID,
		Kind:        billingdomain.KindGeneration,
		Credits:     -spend.Deducted,
		Description: fmt.Sprintf("%s x%d", req.Model, req.ImageCount),
	}); err != nil {
		s.log.Warn("failed to write billing record",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
	}
}
