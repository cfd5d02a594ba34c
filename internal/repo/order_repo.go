package repo

import (
	"context"
	"time"

	"github.com/dushixiang/stepbot/internal/models"
	"github.com/dushixiang/stepbot/pkg/exchange"
	"github.com/go-orz/orz"
	"gorm.io/gorm"
)

func NewOrderRepo(db *gorm.DB) *OrderRepo {
	return &OrderRepo{
		Repository: orz.NewRepository[models.Order, string](db),
	}
}

type OrderRepo struct {
	orz.Repository[models.Order, string]
}

// FindStale 查找关联了交易、未终结且在 before 之前未刷新的订单
func (r OrderRepo) FindStale(ctx context.Context, before time.Time) ([]models.Order, error) {
	db := r.GetDB(ctx)
	var orders []models.Order
	err := db.Table(r.GetTableName()).
		Where("status IN ?", exchange.NonTerminalStatuses).
		Where("last_updated < ?", before).
		Where("EXISTS (SELECT 1 FROM trades WHERE trades.entry_order_id = orders.id OR trades.exit_order_id = orders.id)").
		Order("last_updated ASC").
		Find(&orders).Error
	return orders, err
}

// FindByExchangeID 按交易所订单ID查找
func (r OrderRepo) FindByExchangeID(ctx context.Context, symbol, exchangeID string) (m models.Order, err error) {
	db := r.GetDB(ctx)
	err = db.Table(r.GetTableName()).
		Where("symbol = ? AND exchange_id = ?", symbol, exchangeID).
		First(&m).Error
	return m, err
}

// UpdateState 写回成交数量、均价、手续费、状态和刷新时间
func (r OrderRepo) UpdateState(ctx context.Context, o *models.Order) error {
	db := r.GetDB(ctx)
	return db.Model(&models.Order{}).
		Where("id = ?", o.ID).
		Updates(map[string]interface{}{
			"quantity_filled":    o.QuantityFilled,
			"average_fill_price": o.AverageFillPrice,
			"fee":                o.Fee,
			"status":             o.Status,
			"exchange_payload":   o.ExchangePayload,
			"last_updated":       o.LastUpdated,
		}).Error
}

// Touch 只刷新 last_updated
func (r OrderRepo) Touch(ctx context.Context, id string, now time.Time) error {
	db := r.GetDB(ctx)
	return db.Model(&models.Order{}).
		Where("id = ?", id).
		Update("last_updated", now).Error
}
