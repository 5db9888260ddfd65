package main

import (
	"context"
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"donorledger/pkg/btcpay"
	"donorledger/pkg/config"
	"donorledger/pkg/db"
	"donorledger/pkg/health"
	"donorledger/pkg/logger"
	"donorledger/pkg/redis"
	"donorledger/pkg/sequence"
	"donorledger/pkg/server"
	"donorledger/services/webhook"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		sequence.Module,
		btcpay.Module,
		fx.Provide(
			provideSnowflakeNode,
			provideProcessor,
		),
		health.Module,
		server.RouterModule,
		webhook.Module,
		server.ProvideHTTPServer,
		fx.Invoke(migrate),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func provideProcessor(c *btcpay.Client) webhook.Processor {
	return c
}

func migrate(lc fx.Lifecycle, db *gorm.DB) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return db.WithContext(ctx).AutoMigrate(webhook.Models()...)
		},
	})
}
