package models

import (
	"time"

	"github.com/dushixiang/stepbot/pkg/exchange"
)

// Trade 一组开仓/平仓订单
// 多个 Trade 可以共享同一个平仓订单（合并平仓）
type Trade struct {
	ID           string    `gorm:"primaryKey;type:varchar(26)" json:"id"`
	BotID        string    `gorm:"type:varchar(26);not null;index" json:"bot_id"`
	EntryOrderID string    `gorm:"type:varchar(26);not null;uniqueIndex" json:"entry_order_id"`
	EntryOrder   *Order    `gorm:"foreignKey:EntryOrderID" json:"entry_order,omitempty"`
	ExitOrderID  *string   `gorm:"type:varchar(26);index" json:"exit_order_id"`
	ExitOrder    *Order    `gorm:"foreignKey:ExitOrderID" json:"exit_order,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (Trade) TableName() string {
	return "trades"
}

// IsOpen 未挂平仓单或平仓单未完全成交，需预加载 ExitOrder
func (t *Trade) IsOpen() bool {
	return t.ExitOrderID == nil || t.ExitOrder == nil || t.ExitOrder.Status != exchange.OrderStatusFilled
}

// AwaitingExit 开仓单已成交且尚未挂平仓单
func (t *Trade) AwaitingExit() bool {
	return t.ExitOrderID == nil && t.EntryOrder != nil && t.EntryOrder.IsFilled()
}
