package ledger

import (
	"github.com/pixelmuse/pixelmuse/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(service.NewService),
)
