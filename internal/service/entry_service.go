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
)

// EntryService 开仓规划：按价格步长补仓并维持预挂单
type EntryService struct {
	logger  *zap.Logger
	conf    config.EngineConf
	ledger  *LedgerService
	gateway exchange.Gateway
}

// NewEntryService 创建开仓服务
func NewEntryService(conf *config.Config, ledger *LedgerService, gateway exchange.Gateway, logger *zap.Logger) *EntryService {
	return &EntryService{
		logger:  logger,
		conf:    conf.Engine.WithDefaults(),
		ledger:  ledger,
		gateway: gateway,
	}
}

func (s *EntryService) Name() string {
	return metrics.PlannerEntry
}

// OnTicker 处理交易对下所有启用的机器人，返回成功下单数量
func (s *EntryService) OnTicker(ctx context.Context, ticker exchange.Ticker) (result.Result[int], error) {
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
			s.logger.Error("entry planning failed", zap.String("bot_id", bot.ID), zap.String("symbol", bot.Symbol), zap.Error(err))
			failures.Add("bot %s: %v", bot.ID, err)
		}
	})
	if err != nil {
		return result.Result[int]{}, err
	}
	return result.Collect(&failures, int(placed.Load())), nil
}

func (s *EntryService) processBot(ctx context.Context, bot models.Bot, ticker exchange.Ticker) (int, error) {
	if err := bot.CheckEntryConfig(); err != nil {
		s.logger.Warn("entry planning skipped", zap.String("bot_id", bot.ID), zap.Error(err))
		return 0, err
	}
	currentPrice := bot.EntryPrice(ticker)
	if !currentPrice.IsPositive() {
		return 0, nil
	}

	trades, err := s.ledger.TradeRepo.FindOpenByBotID(ctx, bot.ID)
	if err != nil {
		return 0, fmt.Errorf("load open trades: %w", err)
	}
	open := make([]models.Trade, 0, len(trades))
	for _, t := range trades {
		if t.EntryOrder == nil {
			s.logger.Warn("trade without entry order skipped", zap.String("bot_id", bot.ID), zap.String("trade_id", t.ID))
			continue
		}
		open = append(open, t)
	}

	plan := PlanEntries(bot, open, currentPrice)
	if len(plan) == 0 {
		return 0, nil
	}

	var (
		placed []*exchange.OrderUpdate
		errs   []error
	)
	for _, p := range plan {
		req := exchange.OrderRequest{
			Symbol:   bot.Symbol,
			Price:    p.Price,
			Quantity: p.Quantity,
			IsBuy:    bot.IsLong(),
			Type:     p.Type,
		}
		update, err := s.gateway.PlaceOrder(ctx, bot.Account(), req)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			metrics.OrderFailures.WithLabelValues(metrics.PlannerEntry).Inc()
			s.logger.Error("failed to place entry order",
				zap.String("bot_id", bot.ID),
				zap.String("price", p.Price.String()),
				zap.String("quantity", p.Quantity.String()),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("entry %s@%s: %w", p.Quantity, p.Price, err))
			continue
		}
		metrics.OrdersPlaced.WithLabelValues(metrics.PlannerEntry, metrics.Side(req.IsBuy)).Inc()
		placed = append(placed, update)
	}

	if len(placed) > 0 {
		if _, err := s.ledger.RecordEntries(ctx, bot.ID, placed); err != nil {
			return 0, fmt.Errorf("persist %d entry orders: %w", len(placed), err)
		}
		s.logger.Info("entry orders placed",
			zap.String("bot_id", bot.ID),
			zap.String("symbol", bot.Symbol),
			zap.Int("count", len(placed)),
			zap.String("current_price", currentPrice.String()))
	}
	if err := ctx.Err(); err != nil {
		return len(placed), err
	}
	return len(placed), errors.Join(errs...)
}

// PlannedOrder 待下达的订单
type PlannedOrder struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Type     exchange.OrderType
}

// RequiredQuantity 按不利价格移动计算应持有的总数量，始终是 EntryQuantity 的整数倍
// 步长不为正时只要求首单数量
func RequiredQuantity(bot models.Bot, firstPrice, currentPrice decimal.Decimal) decimal.Decimal {
	if !bot.EntryStep.IsPositive() {
		return bot.EntryQuantity
	}
	movement := firstPrice.Sub(currentPrice).Mul(bot.Sign())
	if movement.IsNegative() {
		movement = decimal.Zero
	}
	steps := movement.Div(bot.EntryStep).Floor()
	return steps.Add(decimal.NewFromInt(1)).Mul(bot.EntryQuantity)
}

// CatchUpQuantity 需要补足的开仓数量
// open 为未平仓交易，必须已加载开仓单
func CatchUpQuantity(bot models.Bot, open []models.Trade, currentPrice decimal.Decimal) decimal.Decimal {
	if len(open) == 0 {
		return bot.EntryQuantity
	}

	oldest := oldestEntry(open)
	openVolume := decimal.Zero
	for _, t := range open {
		openVolume = openVolume.Add(t.EntryOrder.Quantity)
	}

	catchUp := RequiredQuantity(bot, oldest.Price, currentPrice).Sub(openVolume)
	if catchUp.IsNegative() {
		return decimal.Zero
	}
	return catchUp
}

// PlanEntries 计算本次行情需要下达的开仓单
func PlanEntries(bot models.Bot, open []models.Trade, currentPrice decimal.Decimal) []PlannedOrder {
	catchUp := CatchUpQuantity(bot, open, currentPrice)
	openCount := len(open)
	advance := bot.PlaceOrdersInAdvance

	if !catchUp.IsPositive() && !(advance && openCount < bot.EntryOrdersInAdvance) {
		return nil
	}

	base := currentPrice
	orderType := bot.EntryOrderType
	if openCount == 0 && bot.StartFromMaxPrice && bot.MaxPrice.Valid {
		// 首单从价格上限开始挂限价单
		if bot.IsLong() {
			base = decimal.Min(currentPrice, bot.MaxPrice.Decimal)
		} else {
			base = decimal.Max(currentPrice, bot.MaxPrice.Decimal)
		}
		orderType = exchange.OrderTypeLimit
	}

	var plan []PlannedOrder
	if !advance {
		plan = []PlannedOrder{{Price: base, Quantity: catchUp, Type: orderType}}
	} else {
		count := bot.EntryOrdersInAdvance - openCount
		if count <= 0 {
			return nil
		}
		first := catchUp
		if !first.IsPositive() {
			first = bot.EntryQuantity
		}
		step := bot.EntryStep.Mul(bot.Sign())
		for i := 0; i < count; i++ {
			p := PlannedOrder{
				Price:    base.Sub(step.Mul(decimal.NewFromInt(int64(i)))),
				Quantity: bot.EntryQuantity,
				Type:     exchange.OrderTypeLimit,
			}
			if i == 0 {
				p.Quantity = first
				p.Type = orderType
			}
			plan = append(plan, p)
		}
	}

	// 超出价格区间的不下单
	filtered := plan[:0]
	for _, p := range plan {
		if p.Price.IsPositive() && bot.InPriceRange(p.Price) {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

func oldestEntry(open []models.Trade) *models.Order {
	sorted := make([]models.Trade, len(open))
	copy(sorted, open)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].EntryOrder, sorted[j].EntryOrder
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return sorted[0].EntryOrder
}
