package billingrecord

import (
	"github.com/pixelmuse/pixelmuse/internal/billingrecord/domain"
	"github.com/pixelmuse/pixelmuse/internal/billingrecord/service"
	"github.com/pixelmuse/pixelmuse/pkg/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("billingrecord.service",
	fx.Provide(repository.ProvideStore[domain.BillingRecord]),
	fx.Provide(service.NewService),
)
