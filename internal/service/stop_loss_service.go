package service

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/dushixiang/stepbot/internal/config"
	"github.com/dushixiang/stepbot/internal/metrics"
	"github.com/dushixiang/stepbot/internal/models"
	"github.com/dushixiang/stepbot/pkg/exchange"
	"github.com/dushixiang/stepbot/pkg/result"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// StopLossService 止损：亏损超过阈值的交易合并为一个立即平仓单
type StopLossService struct {
	logger  *zap.Logger
	conf    config.EngineConf
	ledger  *LedgerService
	gateway exchange.Gateway
}

// NewStopLossService 创建止损服务
func NewStopLossService(conf *config.Config, ledger *LedgerService, gateway exchange.Gateway, logger *zap.Logger) *StopLossService {
	return &StopLossService{
		logger:  logger,
		conf:    conf.Engine.WithDefaults(),
		ledger:  ledger,
		gateway: gateway,
	}
}

func (s *StopLossService) Name() string {
	return metrics.PlannerStopLoss
}

// OnTicker 处理开启止损的机器人，返回成功下单数量
func (s *StopLossService) OnTicker(ctx context.Context, ticker exchange.Ticker) (result.Result[int], error) {
	bots, err := s.ledger.BotRepo.FindEnabledBySymbol(ctx, ticker.Symbol)
	if err != nil {
		return result.Result[int]{}, fmt.Errorf("load bots for %s: %w", ticker.Symbol, err)
	}
	candidates := bots[:0]
	for _, bot := range bots {
		if bot.StopLossEnabled {
			candidates = append(candidates, bot)
		}
	}

	var (
		failures result.Collector
		placed   atomic.Int64
	)
	err = forEachBot(ctx, s.conf.Workers, candidates, func(ctx context.Context, bot models.Bot) {
		ok, err := s.processBot(ctx, bot, ticker)
		if ok {
			placed.Add(1)
		}
		if err != nil && ctx.Err() == nil {
			s.logger.Error("stop loss failed", zap.String("bot_id", bot.ID), zap.String("symbol", bot.Symbol), zap.Error(err))
			failures.Add("bot %s: stop loss: %v", bot.ID, err)
		}
	})
	if err != nil {
		return result.Result[int]{}, err
	}
	return result.Collect(&failures, int(placed.Load())), nil
}

func (s *StopLossService) processBot(ctx context.Context, bot models.Bot, ticker exchange.Ticker) (bool, error) {
	if err := bot.CheckStopLossConfig(); err != nil {
		s.logger.Warn("stop loss skipped", zap.String("bot_id", bot.ID), zap.Error(err))
		return false, err
	}
	trades, err := s.ledger.TradeRepo.FindAwaitingExit(ctx, bot.ID)
	if err != nil {
		return false, fmt.Errorf("load stop loss candidates: %w", err)
	}
	triggered := StopLossTriggered(bot, trades, ticker)
	if len(triggered) == 0 {
		return false, nil
	}

	info, err := s.gateway.GetSymbolInfo(ctx, bot.Symbol)
	if err != nil {
		return false, fmt.Errorf("get symbol info: %w", err)
	}
	quantity := ConsolidatedQuantity(triggered, info)
	if quantity.IsZero() {
		s.logger.Debug("stop loss below minimum quantity", zap.String("bot_id", bot.ID), zap.Int("trades", len(triggered)))
		return false, nil
	}

	req := exchange.OrderRequest{
		Symbol:   bot.Symbol,
		Price:    StopLossPrice(bot, ticker),
		Quantity: quantity,
		IsBuy:    !bot.IsLong(),
		Type:     bot.ExitOrderType,
	}
	update, err := s.gateway.PlaceOrder(ctx, bot.Account(), req)
	if err != nil {
		if ctx.Err() == nil {
			metrics.OrderFailures.WithLabelValues(metrics.PlannerStopLoss).Inc()
		}
		return false, fmt.Errorf("place %s@%s for %d trades: %w", quantity, req.Price, len(triggered), err)
	}
	metrics.OrdersPlaced.WithLabelValues(metrics.PlannerStopLoss, metrics.Side(req.IsBuy)).Inc()

	if _, err := s.ledger.RecordExits(ctx, bot.ID, []ExitPlacement{{Update: update, TradeIDs: tradeIDs(triggered)}}); err != nil {
		return false, fmt.Errorf("persist stop loss order: %w", err)
	}
	s.logger.Warn("stop loss triggered",
		zap.String("bot_id", bot.ID),
		zap.String("symbol", bot.Symbol),
		zap.Int("trades", len(triggered)),
		zap.String("price", req.Price.String()),
		zap.String("quantity", quantity.String()))
	return true, nil
}

// StopLossTriggered 亏损超过阈值的待平仓交易
// 做多：买一 <= 开仓价*(1-pct/100)；做空：卖一 >= 开仓价*(1+pct/100)
func StopLossTriggered(bot models.Bot, trades []models.Trade, ticker exchange.Ticker) []models.Trade {
	if !bot.StopLossEnabled {
		return nil
	}
	ratio := bot.StopLossPercent.Div(hundred)

	var triggered []models.Trade
	for _, t := range trades {
		if !t.AwaitingExit() {
			continue
		}
		entry := t.EntryOrder.EntryPrice()
		if bot.IsLong() {
			threshold := entry.Mul(decimal.NewFromInt(1).Sub(ratio))
			if ticker.Bid.IsPositive() && ticker.Bid.LessThanOrEqual(threshold) {
				triggered = append(triggered, t)
			}
		} else {
			threshold := entry.Mul(decimal.NewFromInt(1).Add(ratio))
			if ticker.Ask.IsPositive() && ticker.Ask.GreaterThanOrEqual(threshold) {
				triggered = append(triggered, t)
			}
		}
	}
	return triggered
}

// StopLossPrice 止损价取当前平仓参考价：做多取卖一，做空取买一
// 需要立即成交时由 ExitOrderType=MARKET 保证
func StopLossPrice(bot models.Bot, ticker exchange.Ticker) decimal.Decimal {
	return bot.ExitPrice(ticker)
}
