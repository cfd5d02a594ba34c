package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/dushixiang/stepbot/internal/config"
	"github.com/dushixiang/stepbot/internal/metrics"
	"github.com/dushixiang/stepbot/internal/models"
	"github.com/dushixiang/stepbot/pkg/exchange"
	"github.com/dushixiang/stepbot/pkg/result"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ExitService 止盈规划：合并可止盈的交易为一个平仓单，并为其余交易预挂平仓单
type ExitService struct {
	logger  *zap.Logger
	conf    config.EngineConf
	ledger  *LedgerService
	gateway exchange.Gateway
}

// NewExitService 创建止盈服务
func NewExitService(conf *config.Config, ledger *LedgerService, gateway exchange.Gateway, logger *zap.Logger) *ExitService {
	return &ExitService{
		logger:  logger,
		conf:    conf.Engine.WithDefaults(),
		ledger:  ledger,
		gateway: gateway,
	}
}

func (s *ExitService) Name() string {
	return metrics.PlannerExit
}

// OnTicker 处理交易对下所有启用的机器人，返回成功下单数量
func (s *ExitService) OnTicker(ctx context.Context, ticker exchange.Ticker) (result.Result[int], error) {
	bots, err := s.ledger.BotRepo.FindEnabledBySymbol(ctx, ticker.Symbol)
	if err != nil {
		return result.Result[int]{}, fmt.Errorf("load bots for %s: %w", ticker.Symbol, err)
	}

	var (
		failures result.Collector
		placed   atomic.Int64
	)
	err = forEachBot(ctx, s.conf.Workers, bots, func(ctx context.Context, bot models.Bot) {
		n, err := s.processBot(ctx, bot, ticker)
		placed.Add(int64(n))
		if err != nil && ctx.Err() == nil {
			s.logger.Error("exit planning failed", zap.String("bot_id", bot.ID), zap.String("symbol", bot.Symbol), zap.Error(err))
			failures.Add("bot %s: %v", bot.ID, err)
		}
	})
	if err != nil {
		return result.Result[int]{}, err
	}
	return result.Collect(&failures, int(placed.Load())), nil
}

// exitOrder 待下达的平仓单及其覆盖的交易
type exitOrder struct {
	req    exchange.OrderRequest
	trades []string
}

func (s *ExitService) processBot(ctx context.Context, bot models.Bot, ticker exchange.Ticker) (int, error) {
	if err := bot.CheckExitConfig(); err != nil {
		s.logger.Warn("exit planning skipped", zap.String("bot_id", bot.ID), zap.Error(err))
		return 0, err
	}
	trades, err := s.ledger.TradeRepo.FindAwaitingExit(ctx, bot.ID)
	if err != nil {
		return 0, fmt.Errorf("load exit candidates: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	info, err := s.gateway.GetSymbolInfo(ctx, bot.Symbol)
	if err != nil {
		return 0, fmt.Errorf("get symbol info: %w", err)
	}

	consolidated, advance := PartitionExits(bot, trades, ticker)

	var orders []exitOrder
	if len(consolidated) > 0 {
		quantity := ConsolidatedQuantity(consolidated, info)
		if quantity.IsZero() {
			s.logger.Debug("consolidated exit below minimum quantity",
				zap.String("bot_id", bot.ID), zap.Int("trades", len(consolidated)))
		} else {
			orders = append(orders, exitOrder{
				req: exchange.OrderRequest{
					Symbol:   bot.Symbol,
					Price:    ConsolidatedExitPrice(bot, consolidated, ticker),
					Quantity: quantity,
					IsBuy:    !bot.IsLong(),
					Type:     bot.ExitOrderType,
				},
				trades: tradeIDs(consolidated),
			})
		}
	}
	for _, t := range advance {
		quantity := info.RoundQuantity(t.EntryOrder.NetQuantity())
		if quantity.IsZero() {
			continue
		}
		orders = append(orders, exitOrder{
			req: exchange.OrderRequest{
				Symbol:   bot.Symbol,
				Price:    t.EntryOrder.EntryPrice().Add(bot.ExitStep.Mul(bot.Sign())),
				Quantity: quantity,
				IsBuy:    !bot.IsLong(),
				Type:     exchange.OrderTypeLimit,
			},
			trades: []string{t.ID},
		})
	}
	if len(orders) == 0 {
		return 0, nil
	}

	// 同一机器人的多个平仓单并发下达，全部返回后再统一落库
	updates := make([]*exchange.OrderUpdate, len(orders))
	errs := make([]error, len(orders))
	var g errgroup.Group
	for i, o := range orders {
		g.Go(func() error {
			update, err := s.gateway.PlaceOrder(ctx, bot.Account(), o.req)
			if err != nil {
				errs[i] = fmt.Errorf("exit %s@%s for %d trades: %w", o.req.Quantity, o.req.Price, len(o.trades), err)
				return nil
			}
			updates[i] = update
			return nil
		})
	}
	_ = g.Wait()

	var placements []ExitPlacement
	for i, o := range orders {
		if updates[i] == nil {
			if ctx.Err() == nil {
				metrics.OrderFailures.WithLabelValues(metrics.PlannerExit).Inc()
				s.logger.Error("failed to place exit order", zap.String("bot_id", bot.ID), zap.Error(errs[i]))
			}
			continue
		}
		metrics.OrdersPlaced.WithLabelValues(metrics.PlannerExit, metrics.Side(o.req.IsBuy)).Inc()
		placements = append(placements, ExitPlacement{Update: updates[i], TradeIDs: o.trades})
	}

	if len(placements) > 0 {
		if _, err := s.ledger.RecordExits(ctx, bot.ID, placements); err != nil {
			return 0, fmt.Errorf("persist %d exit orders: %w", len(placements), err)
		}
		s.logger.Info("exit orders placed",
			zap.String("bot_id", bot.ID),
			zap.String("symbol", bot.Symbol),
			zap.Int("count", len(placements)),
			zap.Int("consolidated_trades", len(consolidated)))
	}
	if err := ctx.Err(); err != nil {
		return len(placements), err
	}
	return len(placements), errors.Join(errs...)
}

// PartitionExits 将待平仓交易分为当前可止盈的合并集合和预挂集合
// 预挂集合按最先可止盈排序：做多按开仓价升序，做空按降序，最多 ExitOrdersInAdvance 个
func PartitionExits(bot models.Bot, trades []models.Trade, ticker exchange.Ticker) (consolidated, advance []models.Trade) {
	exitPrice := bot.ExitPrice(ticker)
	var rest []models.Trade
	for _, t := range trades {
		if !t.AwaitingExit() {
			continue
		}
		entry := t.EntryOrder.EntryPrice()
		var reachable bool
		if bot.IsLong() {
			reachable = entry.Add(bot.ExitStep).LessThanOrEqual(exitPrice)
		} else {
			reachable = entry.Sub(bot.ExitStep).GreaterThanOrEqual(exitPrice)
		}
		if reachable {
			consolidated = append(consolidated, t)
		} else {
			rest = append(rest, t)
		}
	}

	if !bot.PlaceOrdersInAdvance || bot.ExitOrdersInAdvance <= 0 || len(rest) == 0 {
		return consolidated, nil
	}

	sort.SliceStable(rest, func(i, j int) bool {
		a, b := rest[i].EntryOrder.EntryPrice(), rest[j].EntryOrder.EntryPrice()
		if bot.IsLong() {
			return a.LessThan(b)
		}
		return a.GreaterThan(b)
	})
	if len(rest) > bot.ExitOrdersInAdvance {
		rest = rest[:bot.ExitOrdersInAdvance]
	}
	return consolidated, rest
}

// ConsolidatedExitPrice 做多取 max(最低开仓价+步长, 卖一)，做空取 min(最高开仓价-步长, 买一)
func ConsolidatedExitPrice(bot models.Bot, trades []models.Trade, ticker exchange.Ticker) decimal.Decimal {
	prices := make([]decimal.Decimal, 0, len(trades))
	for _, t := range trades {
		prices = append(prices, t.EntryOrder.EntryPrice())
	}
	exitPrice := bot.ExitPrice(ticker)
	if bot.IsLong() {
		target := decimal.Min(prices[0], prices[1:]...).Add(bot.ExitStep)
		return decimal.Max(target, exitPrice)
	}
	target := decimal.Max(prices[0], prices[1:]...).Sub(bot.ExitStep)
	return decimal.Min(target, exitPrice)
}

// ConsolidatedQuantity 各交易扣除手续费后的成交数量之和，按交易对精度向下取整
func ConsolidatedQuantity(trades []models.Trade, info *exchange.SymbolInfo) decimal.Decimal {
	total := decimal.Zero
	for _, t := range trades {
		total = total.Add(t.EntryOrder.NetQuantity())
	}
	return info.RoundQuantity(total)
}

func tradeIDs(trades []models.Trade) []string {
	ids := make([]string, 0, len(trades))
	for _, t := range trades {
		ids = append(ids, t.ID)
	}
	return ids
}
