package models

import (
	"encoding/json"
	"time"

	"github.com/dushixiang/stepbot/pkg/exchange"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Order 交易所订单的本地镜像
type Order struct {
	ID               string               `gorm:"primaryKey;type:varchar(26)" json:"id"`
	BotID            string               `gorm:"type:varchar(26);not null;index" json:"bot_id"`
	ExchangeID       string               `gorm:"type:varchar(50);not null;index" json:"exchange_id"` // 交易所订单ID
	ClientOrderID    string               `gorm:"type:varchar(64)" json:"client_order_id"`
	Symbol           string               `gorm:"type:varchar(20);not null;index" json:"symbol"`
	Price            decimal.Decimal      `gorm:"type:decimal(20,8);not null" json:"price"`    // 委托价格
	Quantity         decimal.Decimal      `gorm:"type:decimal(20,8);not null" json:"quantity"` // 委托数量
	IsBuy            bool                 `gorm:"not null" json:"is_buy"`
	Type             exchange.OrderType   `gorm:"type:varchar(10);not null" json:"type"`
	QuantityFilled   decimal.Decimal      `gorm:"type:decimal(20,8);not null;default:0" json:"quantity_filled"` // 累计成交数量
	AverageFillPrice decimal.NullDecimal  `gorm:"type:decimal(20,8)" json:"average_fill_price"`                 // 成交均价，未成交时为空
	Fee              decimal.Decimal      `gorm:"type:decimal(20,8);not null;default:0" json:"fee"`             // 以基础资产计的手续费
	Status           exchange.OrderStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	ExchangePayload  datatypes.JSON       `json:"-"` // 最近一次交易所返回的原始快照
	CreatedAt        time.Time            `gorm:"not null;index" json:"created_at"`
	LastUpdated      time.Time            `gorm:"not null;index" json:"last_updated"`
}

// TableName 指定表名
func (Order) TableName() string {
	return "orders"
}

// NewOrder 由交易所下单结果创建本地订单
func NewOrder(id, botID string, u *exchange.OrderUpdate, now time.Time) *Order {
	o := &Order{
		ID:             id,
		BotID:          botID,
		ExchangeID:     u.ID,
		ClientOrderID:  u.ClientOrderID,
		Symbol:         u.Symbol,
		Price:          u.Price,
		Quantity:       u.Quantity,
		IsBuy:          u.IsBuy,
		Type:           u.Type,
		QuantityFilled: decimal.Zero,
		Fee:            decimal.Zero,
		Status:         exchange.OrderStatusNew,
		CreatedAt:      now,
		LastUpdated:    now,
	}
	o.Apply(*u, now)
	return o
}

// EntryPrice 成交均价，未成交时取委托价
func (o *Order) EntryPrice() decimal.Decimal {
	if o.AverageFillPrice.Valid {
		return o.AverageFillPrice.Decimal
	}
	return o.Price
}

// NetQuantity 扣除手续费后的可平数量
func (o *Order) NetQuantity() decimal.Decimal {
	return exchange.NetQuantity(o.QuantityFilled, o.Fee)
}

// BaseDelta 订单对基础资产余额的影响
// 买单入账成交量并扣除以基础资产收取的手续费，卖单扣减成交量
func (o *Order) BaseDelta() decimal.Decimal {
	if o.IsBuy {
		return o.QuantityFilled.Sub(o.Fee)
	}
	return o.QuantityFilled.Neg()
}

// IsFilled 是否完全成交
func (o *Order) IsFilled() bool {
	return o.Status == exchange.OrderStatusFilled
}

// Apply 用交易所快照覆盖成交信息，返回成交数量、均价、手续费或状态是否发生变化
// 成交数量不超过委托数量，均价只在有成交时记录
func (o *Order) Apply(u exchange.OrderUpdate, now time.Time) (changed bool) {
	filled := u.QuantityFilled
	if filled.GreaterThan(o.Quantity) {
		filled = o.Quantity
	}
	if filled.IsNegative() {
		filled = decimal.Zero
	}

	avg := decimal.NullDecimal{}
	if filled.IsPositive() {
		if u.AverageFillPrice.Valid {
			avg = u.AverageFillPrice
		} else {
			avg = decimal.NewNullDecimal(o.Price)
		}
	}

	changed = !filled.Equal(o.QuantityFilled) ||
		avg.Valid != o.AverageFillPrice.Valid ||
		(avg.Valid && !avg.Decimal.Equal(o.AverageFillPrice.Decimal)) ||
		!u.Fee.Equal(o.Fee) ||
		(u.Status != "" && u.Status != o.Status)

	o.QuantityFilled = filled
	o.AverageFillPrice = avg
	o.Fee = u.Fee
	if u.Status != "" {
		o.Status = u.Status
	}
	o.LastUpdated = now
	if payload, err := json.Marshal(u); err == nil {
		o.ExchangePayload = payload
	}
	return changed
}
