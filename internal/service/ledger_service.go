package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dushixiang/stepbot/internal/models"
	"github.com/dushixiang/stepbot/internal/repo"
	"github.com/dushixiang/stepbot/pkg/exchange"
	"github.com/go-orz/orz"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LedgerService 机器人、订单、交易的持久化
type LedgerService struct {
	logger *zap.Logger

	*orz.Service
	BotRepo   *repo.BotRepo
	OrderRepo *repo.OrderRepo
	TradeRepo *repo.TradeRepo
}

// NewLedgerService 创建账本服务
func NewLedgerService(db *gorm.DB, logger *zap.Logger) *LedgerService {
	return &LedgerService{
		logger:    logger,
		Service:   orz.NewService(db),
		BotRepo:   repo.NewBotRepo(db),
		OrderRepo: repo.NewOrderRepo(db),
		TradeRepo: repo.NewTradeRepo(db),
	}
}

// ExitPlacement 一个已下达的平仓单及其覆盖的交易
type ExitPlacement struct {
	Update   *exchange.OrderUpdate
	TradeIDs []string
}

// RecordEntries 在一个事务中保存开仓单，每个开仓单对应一笔新交易
func (s *LedgerService) RecordEntries(ctx context.Context, botID string, placed []*exchange.OrderUpdate) ([]models.Trade, error) {
	if len(placed) == 0 {
		return nil, nil
	}

	trades := make([]models.Trade, 0, len(placed))
	err := s.Transaction(ctx, func(ctx context.Context) error {
		now := time.Now()
		for _, u := range placed {
			order := models.NewOrder(ulid.Make().String(), botID, u, now)
			if err := s.OrderRepo.Create(ctx, order); err != nil {
				return fmt.Errorf("save entry order %s: %w", u.ID, err)
			}
			trade := models.Trade{
				ID:           ulid.Make().String(),
				BotID:        botID,
				EntryOrderID: order.ID,
			}
			if err := s.TradeRepo.Create(ctx, &trade); err != nil {
				return fmt.Errorf("save trade for order %s: %w", u.ID, err)
			}
			trade.EntryOrder = order
			trades = append(trades, trade)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return trades, nil
}

// RecordExits 在一个事务中保存平仓单并挂到对应的交易上
func (s *LedgerService) RecordExits(ctx context.Context, botID string, placements []ExitPlacement) ([]models.Order, error) {
	if len(placements) == 0 {
		return nil, nil
	}

	orders := make([]models.Order, 0, len(placements))
	err := s.Transaction(ctx, func(ctx context.Context) error {
		now := time.Now()
		for _, p := range placements {
			order := models.NewOrder(ulid.Make().String(), botID, p.Update, now)
			if err := s.OrderRepo.Create(ctx, order); err != nil {
				return fmt.Errorf("save exit order %s: %w", p.Update.ID, err)
			}
			n, err := s.TradeRepo.AttachExitOrder(ctx, p.TradeIDs, order.ID)
			if err != nil {
				return fmt.Errorf("attach exit order %s: %w", p.Update.ID, err)
			}
			if n != int64(len(p.TradeIDs)) {
				s.logger.Warn("exit order attached to fewer trades than planned",
					zap.String("bot_id", botID),
					zap.String("order_id", order.ID),
					zap.Int("planned", len(p.TradeIDs)),
					zap.Int64("attached", n))
			}
			orders = append(orders, *order)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}
