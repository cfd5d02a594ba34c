package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dushixiang/stepbot/internal/config"
	"github.com/dushixiang/stepbot/internal/metrics"
	"github.com/dushixiang/stepbot/internal/models"
	"github.com/dushixiang/stepbot/pkg/exchange"
	"github.com/dushixiang/stepbot/pkg/result"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// OrderSyncService 订单状态同步：推送回调与过期订单轮询
type OrderSyncService struct {
	logger  *zap.Logger
	conf    config.EngineConf
	ledger  *LedgerService
	gateway exchange.Gateway

	syncMutex sync.Mutex // 防止并发同步
	now       func() time.Time
}

// NewOrderSyncService 创建订单同步服务
func NewOrderSyncService(conf *config.Config, ledger *LedgerService, gateway exchange.Gateway, logger *zap.Logger) *OrderSyncService {
	return &OrderSyncService{
		logger:  logger,
		conf:    conf.Engine.WithDefaults(),
		ledger:  ledger,
		gateway: gateway,
		now:     time.Now,
	}
}

// SyncStaleOrders 重新查询长时间未刷新的未终结订单，返回状态实际变化的订单数量
// 查询失败的订单同样刷新 last_updated，避免反复请求异常订单
func (s *OrderSyncService) SyncStaleOrders(ctx context.Context) (result.Result[int], error) {
	s.syncMutex.Lock()
	defer s.syncMutex.Unlock()

	before := s.now().Add(-s.conf.StaleOrderThreshold())
	orders, err := s.ledger.OrderRepo.FindStale(ctx, before)
	if err != nil {
		return result.Result[int]{}, fmt.Errorf("load stale orders: %w", err)
	}
	if len(orders) == 0 {
		return result.Ok(0), nil
	}

	botIDs := make([]string, 0)
	seen := make(map[string]struct{})
	for _, o := range orders {
		if _, ok := seen[o.BotID]; !ok {
			seen[o.BotID] = struct{}{}
			botIDs = append(botIDs, o.BotID)
		}
	}
	bots, err := s.ledger.BotRepo.FindByIDs(ctx, botIDs)
	if err != nil {
		return result.Result[int]{}, fmt.Errorf("load bots: %w", err)
	}
	botMap := make(map[string]models.Bot, len(bots))
	for _, b := range bots {
		botMap[b.ID] = b
	}

	var (
		failures result.Collector
		updated  atomic.Int64
	)
	var g errgroup.Group
	g.SetLimit(s.conf.Workers)
	for _, order := range orders {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			bot, ok := botMap[order.BotID]
			if !ok {
				s.logger.Warn("stale order without bot skipped", zap.String("order_id", order.ID), zap.String("bot_id", order.BotID))
				return nil
			}
			changed, err := s.syncOrder(ctx, bot, order)
			if err != nil && ctx.Err() == nil {
				failures.Add("order %s (bot %s): %v", order.ID, bot.ID, err)
			}
			if changed {
				updated.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return result.Result[int]{}, err
	}

	n := int(updated.Load())
	metrics.StaleOrdersSynced.Add(float64(n))
	s.logger.Info("stale orders synced", zap.Int("stale", len(orders)), zap.Int("updated", n))
	return result.Collect(&failures, n), nil
}

func (s *OrderSyncService) syncOrder(ctx context.Context, bot models.Bot, order models.Order) (bool, error) {
	now := s.now()
	update, err := s.gateway.GetOrderStatus(ctx, bot.Account(), order.Symbol, order.ExchangeID)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		s.logger.Error("failed to query stale order",
			zap.String("bot_id", bot.ID),
			zap.String("order_id", order.ID),
			zap.String("exchange_id", order.ExchangeID),
			zap.Error(err))
		if touchErr := s.ledger.OrderRepo.Touch(ctx, order.ID, now); touchErr != nil {
			return false, errors.Join(err, touchErr)
		}
		return false, err
	}

	changed := order.Apply(*update, now)
	if err := s.ledger.OrderRepo.UpdateState(ctx, &order); err != nil {
		return false, fmt.Errorf("save order: %w", err)
	}
	if changed {
		s.logger.Info("stale order updated",
			zap.String("bot_id", bot.ID),
			zap.String("order_id", order.ID),
			zap.String("status", order.Status.String()),
			zap.String("filled", order.QuantityFilled.String()))
	}
	return changed, nil
}

// Apply 应用交易所推送的订单快照，未知订单忽略
func (s *OrderSyncService) Apply(ctx context.Context, update exchange.OrderUpdate) (bool, error) {
	order, err := s.ledger.OrderRepo.FindByExchangeID(ctx, update.Symbol, update.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Debug("order update for unknown order ignored",
				zap.String("symbol", update.Symbol), zap.String("exchange_id", update.ID))
			return false, nil
		}
		return false, fmt.Errorf("find order %s: %w", update.ID, err)
	}

	if update.QuantityFilled.GreaterThan(order.Quantity) {
		s.logger.Warn("filled quantity exceeds order quantity, clamped",
			zap.String("order_id", order.ID),
			zap.String("quantity", order.Quantity.String()),
			zap.String("filled", update.QuantityFilled.String()))
	}
	changed := order.Apply(update, s.now())
	if err := s.ledger.OrderRepo.UpdateState(ctx, &order); err != nil {
		return false, fmt.Errorf("save order %s: %w", order.ID, err)
	}
	if changed {
		s.logger.Debug("order updated from push",
			zap.String("bot_id", order.BotID),
			zap.String("order_id", order.ID),
			zap.String("status", order.Status.String()))
	}
	return changed, nil
}

// EnsureSubscriptions 为所有启用的机器人建立订单推送订阅，已订阅的不会重复建立
func (s *OrderSyncService) EnsureSubscriptions(ctx context.Context) error {
	bots, err := s.ledger.BotRepo.FindEnabled(ctx)
	if err != nil {
		return fmt.Errorf("load enabled bots: %w", err)
	}

	var errs []error
	for _, bot := range bots {
		err := s.gateway.SubscribeOrderUpdates(ctx, bot.Account(), func(update exchange.OrderUpdate) {
			if _, err := s.Apply(context.Background(), update); err != nil {
				s.logger.Error("failed to apply order update", zap.String("bot_id", bot.ID), zap.Error(err))
			}
		})
		if err != nil {
			s.logger.Error("failed to subscribe order updates", zap.String("bot_id", bot.ID), zap.Error(err))
			errs = append(errs, fmt.Errorf("bot %s: %w", bot.ID, err))
		}
	}
	return errors.Join(errs...)
}
