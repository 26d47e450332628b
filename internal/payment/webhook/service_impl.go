package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/pixelmuse/pixelmuse/internal/clock"
	"github.com/pixelmuse/pixelmuse/internal/config"
	entitlementdomain "github.com/pixelmuse/pixelmuse/internal/entitlement/domain"
	obsmetrics "github.com/pixelmuse/pixelmuse/internal/observability/metrics"
	"github.com/pixelmuse/pixelmuse/internal/payment/adapters"
	paymentdomain "github.com/pixelmuse/pixelmuse/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	GenID      *snowflake.Node
	Cfg        config.Config
	Repo       paymentdomain.Repository
	Adapters   *adapters.Registry
	Reconciler entitlementdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	genID      *snowflake.Node
	cfg        config.Config
	repo       paymentdomain.Repository
	adapters   *adapters.Registry
	reconciler entitlementdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.webhook"),
		clock:      p.Clock,
		genID:      p.GenID,
		cfg:        p.Cfg,
		repo:       p.Repo,
		adapters:   p.Adapters,
		reconciler: p.Reconciler,
		obsMetrics: p.ObsMetrics,
	}
}

// IngestWebhook verifies, records, and reconciles one provider delivery.
// Deliveries are at-least-once: a replay of a fully processed event is
// acknowledged without effect, an unprocessed one is reconciled again.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return paymentdomain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}

	adapter, err := s.adapters.NewAdapter(provider, paymentdomain.AdapterConfig{
		Provider: provider,
		Config: map[string]any{
			"webhook_secret": s.cfg.Payment.WebhookSecret,
		},
	})
	if err != nil {
		return err
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.recordOutcome(ctx, provider, "rejected")
		return err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			s.recordOutcome(ctx, provider, "ignored")
			return nil
		}
		s.recordOutcome(ctx, provider, "invalid")
		return err
	}

	existing, err := s.repo.FindEvent(ctx, s.db, provider, event.EventID)
	if err != nil {
		return err
	}
	if existing != nil && existing.ProcessedAt != nil {
		s.recordOutcome(ctx, provider, "duplicate")
		s.log.Info("webhook replay acknowledged",
			zap.String("provider", provider),
			zap.String("provider_event_id", event.EventID),
		)
		return nil
	}

	record := existing
	if record == nil {
		record = &paymentdomain.EventRecord{
			ID:              s.genID.Generate(),
			Provider:        provider,
			ProviderEventID: event.EventID,
			EventType:       event.RawType,
			Class:           string(event.Class),
			Payload:         datatypes.JSON(payload),
			ReceivedAt:      s.clock.Now(),
		}
		created, err := s.repo.InsertEvent(ctx, s.db, record)
		if err != nil {
			return err
		}
		if !created {
			// Lost the insert race to a concurrent delivery of the same
			// event; let that delivery finish the work.
			s.recordOutcome(ctx, provider, "duplicate")
			return nil
		}
	}

	if err := s.reconciler.Reconcile(ctx, event); err != nil {
		s.recordOutcome(ctx, provider, "failed")
		return err
	}

	if err := s.repo.MarkProcessed(ctx, s.db, record.ID, s.clock.Now()); err != nil {
		// The reconciliation already happened and is idempotent, so a retry
		// of this delivery is harmless.
		s.log.Warn("failed to mark webhook event processed",
			zap.String("provider_event_id", event.EventID),
			zap.Error(err),
		)
	}

	s.recordOutcome(ctx, provider, "processed")
	return nil
}

func (s *Service) recordOutcome(ctx context.Context, provider, outcome string) {
	s.obsMetrics.RecordWebhookEvent(ctx, provider, outcome)
}
