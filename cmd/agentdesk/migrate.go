package main

import (
	"agentdesk/api"
	"agentdesk/internal/infra"
	"agentdesk/internal/logger"

	"github.com/spf13/cobra"
)

func newMigrateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "执行数据库迁移",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := bootstrap(flags)
			if err != nil {
				return err
			}
			defer shutdown()

			// auto_migrate 开启时 bootstrap 已迁移
			if cfg.Database.AutoMigrate {
				return nil
			}
			return infra.AutoMigrate(db, logger.Get(), api.Models()...)
		},
	}
}
