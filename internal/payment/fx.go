package payment

import (
	"github.com/pixelmuse/pixelmuse/internal/payment/adapters"
	"github.com/pixelmuse/pixelmuse/internal/payment/adapters/creem"
	"github.com/pixelmuse/pixelmuse/internal/payment/repository"
	"github.com/pixelmuse/pixelmuse/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			creem.NewFactory(),
		)
	}),
	fx.Provide(webhook.NewService),
)
