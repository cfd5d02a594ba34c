package repo

import (
	"context"
	"time"

	"github.com/dushixiang/stepbot/internal/models"
	"github.com/dushixiang/stepbot/pkg/exchange"
	"github.com/go-orz/orz"
	"gorm.io/gorm"
)

func NewTradeRepo(db *gorm.DB) *TradeRepo {
	return &TradeRepo{
		Repository: orz.NewRepository[models.Trade, string](db),
	}
}

type TradeRepo struct {
	orz.Repository[models.Trade, string]
}

// FindOpenByBotID 未平仓的交易：没有平仓单或平仓单未完全成交
func (r TradeRepo) FindOpenByBotID(ctx context.Context, botID string) ([]models.Trade, error) {
	var trades []models.Trade
	db := r.GetDB(ctx)
	err := db.Model(&models.Trade{}).
		Select("trades.*").
		Joins("LEFT JOIN orders AS exit_orders ON exit_orders.id = trades.exit_order_id").
		Where("trades.bot_id = ?", botID).
		Where("(trades.exit_order_id IS NULL OR exit_orders.status <> ?)", exchange.OrderStatusFilled).
		Preload("EntryOrder").
		Preload("ExitOrder").
		Order("trades.created_at ASC").
		Find(&trades).Error
	return trades, err
}

// FindAwaitingExit 开仓单已成交且尚未挂平仓单的交易
func (r TradeRepo) FindAwaitingExit(ctx context.Context, botID string) ([]models.Trade, error) {
	var trades []models.Trade
	db := r.GetDB(ctx)
	err := db.Model(&models.Trade{}).
		Select("trades.*").
		Joins("JOIN orders AS entry_orders ON entry_orders.id = trades.entry_order_id").
		Where("trades.bot_id = ? AND trades.exit_order_id IS NULL", botID).
		Where("entry_orders.status = ?", exchange.OrderStatusFilled).
		Preload("EntryOrder").
		Order("trades.created_at ASC").
		Find(&trades).Error
	return trades, err
}

// FindByBotID 机器人的全部交易
func (r TradeRepo) FindByBotID(ctx context.Context, botID string) ([]models.Trade, error) {
	var trades []models.Trade
	db := r.GetDB(ctx)
	err := db.Model(&models.Trade{}).
		Where("bot_id = ?", botID).
		Preload("EntryOrder").
		Preload("ExitOrder").
		Order("created_at ASC").
		Find(&trades).Error
	return trades, err
}

// AttachExitOrder 为尚无平仓单的交易设置平仓单，返回实际更新的行数
func (r TradeRepo) AttachExitOrder(ctx context.Context, tradeIDs []string, orderID string) (int64, error) {
	if len(tradeIDs) == 0 {
		return 0, nil
	}
	db := r.GetDB(ctx)
	tx := db.Model(&models.Trade{}).
		Where("id IN ? AND exit_order_id IS NULL", tradeIDs).
		Updates(map[string]interface{}{
			"exit_order_id": orderID,
			"updated_at":    time.Now(),
		})
	return tx.RowsAffected, tx.Error
}
