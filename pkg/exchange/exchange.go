package exchange

import (
	"context"

	"github.com/shopspring/decimal"
)

// Gateway 交易所网关，引擎只依赖这一组能力
// 实现需保证可被多个机器人协程并发调用
type Gateway interface {
	// PlaceOrder 下单，失败视为未下单
	PlaceOrder(ctx context.Context, account Account, req OrderRequest) (*OrderUpdate, error)
	// GetOrderStatus 查询订单最新状态
	GetOrderStatus(ctx context.Context, account Account, symbol, orderID string) (*OrderUpdate, error)
	// GetBalance 资产余额（可用+冻结）
	GetBalance(ctx context.Context, account Account, asset string) (decimal.Decimal, error)
	// SubscribeOrderUpdates 订阅订单推送，同一账户重复订阅不产生新的连接
	SubscribeOrderUpdates(ctx context.Context, account Account, callback func(OrderUpdate)) error
	// GetSymbolInfo 交易对的数量精度信息
	GetSymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error)
}

// TickerSource 行情推送
type TickerSource interface {
	// StreamTickers 订阅交易对最优买卖价，返回的 stop 用于关闭订阅
	StreamTickers(ctx context.Context, symbol string, handler func(Ticker), errHandler func(error)) (stop func(), err error)
}

// Venue 引擎使用的完整交易所实现
type Venue interface {
	Gateway
	TickerSource
	Close()
}

// Funder 可注资的模拟账户
type Funder interface {
	Fund(account Account, asset string, amount decimal.Decimal)
	Funded(account Account, asset string) bool
}

var (
	_ Venue  = (*BinanceGateway)(nil)
	_ Venue  = (*PaperGateway)(nil)
	_ Funder = (*PaperGateway)(nil)
)
