package entitlement

import (
	"github.com/pixelmuse/pixelmuse/internal/entitlement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("entitlement.service",
	fx.Provide(service.NewService),
)
