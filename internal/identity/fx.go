package identity

import (
	"github.com/pixelmuse/pixelmuse/internal/identity/repository"
	"github.com/pixelmuse/pixelmuse/internal/identity/service"
	"go.uber.org/fx"
)

var Module = fx.Module("identity.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
