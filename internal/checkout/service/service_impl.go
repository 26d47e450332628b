package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/pixelmuse/pixelmuse/internal/checkout/domain"
	"github.com/pixelmuse/pixelmuse/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Cfg      config.Config
	Pricing  *config.PricingHolder
	Provider domain.ProviderClient
}

type Service struct {
	log      *zap.Logger
	cfg      config.Config
	pricing  *config.PricingHolder
	provider domain.ProviderClient
}

func NewService(p Params) domain.Service {
	return &Service{
		log:      p.Log.Named("checkout.service"),
		cfg:      p.Cfg,
		pricing:  p.Pricing,
		provider: p.Provider,
	}
}

// Create resolves the provider product id from the pricing catalog and opens
// a checkout session with the buyer's user id embedded in the metadata, so
// the webhook can attribute the purchase later.
func (s *Service) Create(ctx context.Context, userID snowflake.ID, req domain.CreateRequest) (*domain.CreateResponse, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidRequest
	}

	plan := strings.TrimSpace(req.Plan)
	pack := strings.TrimSpace(req.Pack)
	if (plan == "") == (pack == "") {
		return nil, domain.ErrInvalidRequest
	}

	metadata := map[string]string{"userId": userID.String()}
	var productID string

	pricing := s.pricing.Get()
	if plan != "" {
		planCfg, ok := pricing.PlanByID(plan)
		if !ok {
			return nil, domain.ErrUnknownPlan
		}
		cycle := normalizeCycle(req.Cycle)
		productID = planCfg.ProductIDs[cycle]
		if productID == "" {
			return nil, domain.ErrNoProductID
		}
		metadata["plan"] = planCfg.ID
		metadata["cycle"] = cycle
	} else {
		packCfg, ok := pricing.PackByID(pack)
		if !ok {
			return nil, domain.ErrUnknownPack
		}
		if packCfg.ProductID == "" {
			return nil, domain.ErrNoProductID
		}
		productID = packCfg.ProductID
		metadata["pack"] = packCfg.ID
	}

	session, err := s.provider.CreateSession(ctx, domain.SessionRequest{
		ProductID:  productID,
		Email:      strings.TrimSpace(req.Email),
		SuccessURL: s.cfg.Payment.SuccessURL,
		CancelURL:  s.cfg.Payment.CancelURL,
		Metadata:   metadata,
	})
	if err != nil {
		s.log.Error("checkout session creation failed",
			zap.String("user_id", userID.String()),
			zap.String("product_id", productID),
			zap.Error(err),
		)
		return nil, err
	}

	return &domain.CreateResponse{CheckoutURL: session.CheckoutURL}, nil
}

func normalizeCycle(cycle string) string {
	if strings.EqualFold(strings.TrimSpace(cycle), "yearly") {
		return "yearly"
	}
	return "monthly"
}
