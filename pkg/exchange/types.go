package exchange

import (
	"time"

	"github.com/shopspring/decimal"
)

// 通用交易类型定义，独立于任何特定交易所

// OrderType 订单类型
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"  // 限价单
	OrderTypeMarket OrderType = "MARKET" // 市价单
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
	OrderStatusPendingCancel   OrderStatus = "PENDING_CANCEL"
)

// NonTerminalStatuses 仍可能发生成交变化的状态
var NonTerminalStatuses = []OrderStatus{
	OrderStatusNew,
	OrderStatusPartiallyFilled,
	OrderStatusPendingCancel,
}

// IsTerminal 订单是否已处于终态
func (o OrderStatus) IsTerminal() bool {
	switch o {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

func (o OrderStatus) String() string {
	return string(o)
}

func (o OrderType) String() string {
	return string(o)
}

// Account 交易账户凭证，一个机器人对应一个账户
type Account struct {
	ID     string // 机器人ID，用作订阅与会话的键
	APIKey string
	Secret string
}

// OrderRequest 下单请求
type OrderRequest struct {
	Symbol   string
	Price    decimal.Decimal
	Quantity decimal.Decimal
	IsBuy    bool
	Type     OrderType
}

// Side 返回 BUY/SELL
func (r OrderRequest) Side() string {
	if r.IsBuy {
		return "BUY"
	}
	return "SELL"
}

// OrderUpdate 交易所返回的订单快照
type OrderUpdate struct {
	ID               string              `json:"id"`
	ClientOrderID    string              `json:"client_order_id"`
	Symbol           string              `json:"symbol"`
	Price            decimal.Decimal     `json:"price"`
	Quantity         decimal.Decimal     `json:"quantity"`
	QuantityFilled   decimal.Decimal     `json:"quantity_filled"`
	AverageFillPrice decimal.NullDecimal `json:"average_fill_price"`
	IsBuy            bool                `json:"is_buy"`
	Type             OrderType           `json:"type"`
	Status           OrderStatus         `json:"status"`
	Fee              decimal.Decimal     `json:"fee"`
	CreatedAt        time.Time           `json:"created_at"`
}

// Ticker 最优买卖价
type Ticker struct {
	Symbol    string
	Timestamp time.Time
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	LastPrice decimal.Decimal
}

// SymbolInfo 交易对信息
type SymbolInfo struct {
	Symbol        string
	BaseAsset     string
	QuoteAsset    string
	StepSize      decimal.Decimal
	MinQty        decimal.Decimal
	QtyDecimals   int32
	PriceDecimals int32
	lastUpdated   time.Time
}
