package checkout

import (
	"github.com/pixelmuse/pixelmuse/internal/checkout/provider"
	"github.com/pixelmuse/pixelmuse/internal/checkout/service"
	"go.uber.org/fx"
)

var Module = fx.Module("checkout.service",
	fx.Provide(provider.NewClient),
	fx.Provide(service.NewService),
)
