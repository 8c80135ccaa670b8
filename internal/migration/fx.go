package migration

import (
	"github.com/bwmarrin/snowflake"
	"github.com/clipbrief/clipbrief/internal/config"
	"github.com/clipbrief/clipbrief/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, node *snowflake.Node) error {
		if err := RunMigrations(conn); err != nil {
			return err
		}

		if cfg.Bootstrap.EnsureAdminUser {
			return seed.EnsureAdminUser(conn, node, cfg.Bootstrap.AdminEmail)
		}
		return nil
	}),
)
