package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/dushixiang/stepbot/pkg/exchange"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Direction 机器人方向
type Direction string

const (
	DirectionLong  Direction = "long"  // 做多：低买高卖
	DirectionShort Direction = "short" // 做空：高卖低买
)

// Bot 网格/定投机器人
type Bot struct {
	ID         string    `gorm:"primaryKey;type:varchar(26)" json:"id"`
	Name       string    `gorm:"type:varchar(100);not null" json:"name" validate:"required"`
	Symbol     string    `gorm:"type:varchar(20);not null;index" json:"symbol" validate:"required"`
	BaseAsset  string    `gorm:"type:varchar(20);not null" json:"base_asset" validate:"required"`
	QuoteAsset string    `gorm:"type:varchar(20);not null" json:"quote_asset" validate:"required"`
	Enabled    bool      `gorm:"not null;default:false;index" json:"enabled"`
	Direction  Direction `gorm:"type:varchar(10);not null" json:"direction" validate:"oneof=long short"`

	MinPrice          decimal.NullDecimal `gorm:"type:decimal(20,8)" json:"min_price"` // 价格下限，可选
	MaxPrice          decimal.NullDecimal `gorm:"type:decimal(20,8)" json:"max_price"` // 价格上限，可选
	StartFromMaxPrice bool                `gorm:"not null;default:false" json:"start_from_max_price"`

	EntryStep     decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"entry_step"`     // 加仓价格步长
	EntryQuantity decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"entry_quantity"` // 每步数量
	ExitStep      decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"exit_step"`      // 止盈价格步长

	StopLossEnabled bool            `gorm:"not null;default:false" json:"stop_loss_enabled"`
	StopLossPercent decimal.Decimal `gorm:"type:decimal(10,4);not null;default:0" json:"stop_loss_percent"`

	PlaceOrdersInAdvance bool `gorm:"not null;default:false" json:"place_orders_in_advance"`
	EntryOrdersInAdvance int  `gorm:"not null;default:0" json:"entry_orders_in_advance" validate:"gte=0"`
	ExitOrdersInAdvance  int  `gorm:"not null;default:0" json:"exit_orders_in_advance" validate:"gte=0"`

	StartingBaseAmount decimal.Decimal    `gorm:"type:decimal(20,8);not null;default:0" json:"starting_base_amount"`
	EntryOrderType     exchange.OrderType `gorm:"type:varchar(10);not null;default:'LIMIT'" json:"entry_order_type" validate:"oneof=LIMIT MARKET"`
	ExitOrderType      exchange.OrderType `gorm:"type:varchar(10);not null;default:'LIMIT'" json:"exit_order_type" validate:"oneof=LIMIT MARKET"`

	APIKey    string `gorm:"type:varchar(128)" json:"-"`
	APISecret string `gorm:"type:varchar(128)" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (Bot) TableName() string {
	return "bots"
}

// IsLong 是否做多
func (b *Bot) IsLong() bool {
	return b.Direction != DirectionShort
}

// Sign 做多为+1，做空为-1
func (b *Bot) Sign() decimal.Decimal {
	if b.IsLong() {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(-1)
}

// EntryPrice 开仓参考价：做多取买一，做空取卖一
func (b *Bot) EntryPrice(t exchange.Ticker) decimal.Decimal {
	if b.IsLong() {
		return t.Bid
	}
	return t.Ask
}

// ExitPrice 平仓参考价：做多取卖一，做空取买一
func (b *Bot) ExitPrice(t exchange.Ticker) decimal.Decimal {
	if b.IsLong() {
		return t.Ask
	}
	return t.Bid
}

// InPriceRange 价格是否处于配置的上下限之间
func (b *Bot) InPriceRange(price decimal.Decimal) bool {
	if b.MinPrice.Valid && price.LessThan(b.MinPrice.Decimal) {
		return false
	}
	if b.MaxPrice.Valid && price.GreaterThan(b.MaxPrice.Decimal) {
		return false
	}
	return true
}

// Account 交易所账户
func (b *Bot) Account() exchange.Account {
	return exchange.Account{
		ID:     b.ID,
		APIKey: b.APIKey,
		Secret: b.APISecret,
	}
}

// ErrBotConfig 已启用机器人的配置无法参与规划
var ErrBotConfig = errors.New("invalid bot config")

// CheckEntryConfig 开仓规划依赖的参数
func (b *Bot) CheckEntryConfig() error {
	if !b.EntryStep.IsPositive() {
		return fmt.Errorf("%w: entry step %s", ErrBotConfig, b.EntryStep)
	}
	if !b.EntryQuantity.IsPositive() {
		return fmt.Errorf("%w: entry quantity %s", ErrBotConfig, b.EntryQuantity)
	}
	return nil
}

// CheckExitConfig 止盈规划依赖的参数
func (b *Bot) CheckExitConfig() error {
	if !b.ExitStep.IsPositive() {
		return fmt.Errorf("%w: exit step %s", ErrBotConfig, b.ExitStep)
	}
	return nil
}

// CheckStopLossConfig 止损比例必须在 (0, 100) 之间
func (b *Bot) CheckStopLossConfig() error {
	if !b.StopLossPercent.IsPositive() || b.StopLossPercent.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return fmt.Errorf("%w: stop loss percent %s", ErrBotConfig, b.StopLossPercent)
	}
	return nil
}

// ValidateBot 机器人配置的跨字段校验
func ValidateBot(sl validator.StructLevel) {
	b := sl.Current().Interface().(Bot)

	if b.StartFromMaxPrice && !b.MaxPrice.Valid {
		sl.ReportError(b.MaxPrice, "MaxPrice", "max_price", "required_with_start", "")
	}
	if !b.EntryStep.IsPositive() {
		sl.ReportError(b.EntryStep, "EntryStep", "entry_step", "gt0", "")
	}
	if !b.EntryQuantity.IsPositive() {
		sl.ReportError(b.EntryQuantity, "EntryQuantity", "entry_quantity", "gt0", "")
	}
	if !b.ExitStep.IsPositive() {
		sl.ReportError(b.ExitStep, "ExitStep", "exit_step", "gt0", "")
	}
	if b.StopLossEnabled && (!b.StopLossPercent.IsPositive() || b.StopLossPercent.GreaterThanOrEqual(decimal.NewFromInt(100))) {
		sl.ReportError(b.StopLossPercent, "StopLossPercent", "stop_loss_percent", "percent", "")
	}
	if b.MinPrice.Valid && b.MaxPrice.Valid && b.MinPrice.Decimal.GreaterThan(b.MaxPrice.Decimal) {
		sl.ReportError(b.MinPrice, "MinPrice", "min_price", "ltefield", "MaxPrice")
	}
	if b.StartingBaseAmount.IsNegative() {
		sl.ReportError(b.StartingBaseAmount, "StartingBaseAmount", "starting_base_amount", "gte0", "")
	}
}
