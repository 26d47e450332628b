package grant

import (
	"github.com/pixelmuse/pixelmuse/internal/grant/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("grant.store",
	fx.Provide(repository.Provide),
)
