package internal

import (
	"net/http"
	"time"

	"github.com/dushixiang/stepbot/internal/config"
	"github.com/dushixiang/stepbot/internal/models"
	"github.com/dushixiang/stepbot/internal/service"
	"github.com/dushixiang/stepbot/internal/telegram"
	"github.com/dushixiang/stepbot/pkg/exchange"
	"github.com/dushixiang/stepbot/pkg/nostd"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const telegramHTTPTimeout = 10 * time.Second

// provideTelegram provides telegram instance
func provideTelegram(logger *zap.Logger, conf *config.Config) *telegram.Telegram {
	if !conf.Telegram.Enabled {
		return nil
	}

	httpClient := &http.Client{Timeout: telegramHTTPTimeout}

	tg, err := telegram.NewTelegram(logger, telegram.Settings{
		Token:  conf.Telegram.Token,
		ChatID: conf.Telegram.ChatID,
		Client: httpClient,
	})
	if err != nil {
		logger.Error("failed to init telegram", zap.Error(err))
		return nil
	}

	return tg
}

// provideSender 未启用 telegram 时返回 nil 接口，通知只写日志
func provideSender(tg *telegram.Telegram) service.Sender {
	if tg == nil {
		return nil
	}
	return tg
}

// provideVenue 按配置选择真实交易所或模拟撮合
func provideVenue(conf *config.Config, logger *zap.Logger) exchange.Venue {
	binanceGateway := exchange.NewBinanceGateway(
		conf.Binance.APIKey,
		conf.Binance.Secret,
		conf.Binance.ProxyURL,
		conf.Binance.Testnet,
		logger,
	)

	engine := conf.Engine.WithDefaults()
	if engine.PaperTrading {
		logger.Info("paper trading enabled, orders are matched locally",
			zap.Bool("testnet", conf.Binance.Testnet),
			zap.Float64("fee_rate", engine.PaperFeeRate))
		return exchange.NewPaperGateway(binanceGateway, engine.PaperFee(), logger)
	}

	logger.Info("Binance gateway initialized",
		zap.Bool("testnet", conf.Binance.Testnet),
		zap.Bool("proxy", conf.Binance.ProxyURL != ""))
	return binanceGateway
}

func provideGateway(venue exchange.Venue) exchange.Gateway {
	return venue
}

// provideValidator 注册机器人配置的结构体级校验
func provideValidator(logger *zap.Logger) *nostd.CustomValidator {
	v := validator.New()
	v.RegisterStructValidation(models.ValidateBot, models.Bot{})

	customValidator := &nostd.CustomValidator{Validator: v}
	if err := customValidator.TransInit(); err != nil {
		logger.Sugar().Fatal("failed to init custom validator", zap.Error(err))
	}
	return customValidator
}
