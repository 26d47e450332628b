package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/pixelmuse/pixelmuse/internal/billingrecord/domain"
	"github.com/pixelmuse/pixelmuse/internal/clock"
	"github.com/pixelmuse/pixelmuse/pkg/db/option"
	"github.com/pixelmuse/pixelmuse/pkg/db/pagination"
	"github.com/pixelmuse/pixelmuse/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log   *zap.Logger
	Clock clock.Clock
	GenID *snowflake.Node
	Store repository.Repository[domain.BillingRecord]
}

type Service struct {
	log   *zap.Logger
	clock clock.Clock
	genID *snowflake.Node
	store repository.Repository[domain.BillingRecord]
}

func NewService(p Params) domain.Service {
	return &Service{
		log:   p.Log.Named("billingrecord.service"),
		clock: p.Clock,
		genID: p.GenID,
		store: p.Store,
	}
}

func (s *Service) Record(ctx context.Context, record *domain.BillingRecord) error {
	if record.ID == 0 {
		record.ID = s.genID.Generate()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.clock.Now()
	}
	return s.store.Create(ctx, record)
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	filter := &domain.BillingRecord{
		UserID: req.UserID,
		Kind:   req.Kind,
	}

	opts := []option.QueryOption{}
	if search := strings.TrimSpace(req.Search); search != "" {
		opts = append(opts, option.WithWhere("description LIKE ?", "%"+search+"%"))
	}
	if req.From != nil {
		opts = append(opts, option.WithWhere("created_at >= ?", *req.From))
	}
	if req.To != nil {
		opts = append(opts, option.WithWhere("created_at < ?", *req.To))
	}

	total, err := s.store.Count(ctx, filter, opts...)
	if err != nil {
		return domain.ListResponse{}, err
	}

	page := req.Page.Normalize()
	opts = append(opts,
		option.WithOrder("created_at DESC"),
		option.WithLimit(page.Limit),
		option.WithOffset(page.Offset()),
	)
	rows, err := s.store.Find(ctx, filter, opts...)
	if err != nil {
		return domain.ListResponse{}, err
	}

	records := make([]domain.BillingRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, *row)
	}
	return domain.ListResponse{
		Records:  records,
		PageInfo: pagination.BuildPageInfo(page, total),
	}, nil
}
