package generation

import (
	"github.com/pixelmuse/pixelmuse/internal/generation/backend"
	"github.com/pixelmuse/pixelmuse/internal/generation/domain"
	"github.com/pixelmuse/pixelmuse/internal/generation/service"
	"github.com/pixelmuse/pixelmuse/pkg/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("generation.service",
	fx.Provide(backend.NewClient),
	fx.Provide(repository.ProvideStore[domain.Generation]),
	fx.Provide(service.NewService),
)
