//go:build wireinject
// +build wireinject

package internal

import (
	"github.com/google/wire"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dushixiang/stepbot/internal/config"
	"github.com/dushixiang/stepbot/internal/handler"
	"github.com/dushixiang/stepbot/internal/service"
)

var (
	handlerSet = wire.NewSet(
		handler.NewEngineHandler,
	)

	engineSet = wire.NewSet(
		provideVenue,
		provideGateway,
		provideSender,
		provideValidator,
		service.NewLedgerService,
		service.NewNotifyService,
		service.NewBotService,
		service.NewEntryService,
		service.NewExitService,
		service.NewStopLossService,
		service.NewBalanceService,
		service.NewOrderSyncService,
		service.NewEngineLoop,
	)
)

// InitializeApp 初始化应用
func InitializeApp(logger *zap.Logger, db *gorm.DB, conf *config.Config) (*AppComponents, error) {
	wire.Build(
		handlerSet,
		engineSet,
		provideTelegram,
		wire.Struct(new(AppComponents), "*"),
	)
	return nil, nil
}
