package seed

import (
	"github.com/bwmarrin/snowflake"
	"github.com/pixelmuse/pixelmuse/internal/config"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("seed",
	fx.Invoke(Run),
)

func Run(cfg config.Config, db *gorm.DB, node *snowflake.Node) error {
	if cfg.Environment == "production" {
		return nil
	}
	return EnsureDevUser(db, node)
}
