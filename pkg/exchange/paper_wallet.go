package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MarketData 真实行情来源
type MarketData interface {
	GetSymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error)
	TickerSource
}

// PaperGateway 模拟撮合网关
// 限价单挂单直到行情穿越，市价单按最新行情成交，买单手续费以基础资产扣除
type PaperGateway struct {
	market  MarketData // 用于获取真实市场数据
	feeRate decimal.Decimal
	logger  *zap.Logger

	mu          sync.Mutex
	orderID     int64                                  // 订单ID计数器
	orders      map[string]*paperOrder                 // order id -> order
	balances    map[string]map[string]decimal.Decimal // account id -> asset -> balance
	tickers     map[string]Ticker
	subscribers map[string]func(OrderUpdate)

	subscriptions *SubscriptionRegistry
}

type paperOrder struct {
	account   string
	baseAsset string
	update    OrderUpdate
}

// NewPaperGateway 创建模拟网关
func NewPaperGateway(market MarketData, feeRate decimal.Decimal, logger *zap.Logger) *PaperGateway {
	return &PaperGateway{
		market:        market,
		feeRate:       feeRate,
		logger:        logger,
		orderID:       1000000, // 从1000000开始的模拟订单ID
		orders:        make(map[string]*paperOrder),
		balances:      make(map[string]map[string]decimal.Decimal),
		tickers:       make(map[string]Ticker),
		subscribers:   make(map[string]func(OrderUpdate)),
		subscriptions: NewSubscriptionRegistry(),
	}
}

// Fund 设置账户资产余额
func (p *PaperGateway) Fund(account Account, asset string, amount decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.balances[account.ID]; !ok {
		p.balances[account.ID] = make(map[string]decimal.Decimal)
	}
	p.balances[account.ID][asset] = amount
}

// Funded 账户是否已有该资产的余额记录
func (p *PaperGateway) Funded(account Account, asset string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.balances[account.ID][asset]
	return ok
}

// PlaceOrder 创建模拟订单
func (p *PaperGateway) PlaceOrder(ctx context.Context, account Account, req OrderRequest) (*OrderUpdate, error) {
	info, err := p.market.GetSymbolInfo(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	quantity := info.RoundQuantity(req.Quantity)
	if quantity.IsZero() || (req.Type == OrderTypeLimit && !req.Price.IsPositive()) {
		return nil, &Error{Op: "place order", Err: fmt.Errorf("%w: price %s quantity %s", ErrInvalidRequest, req.Price, req.Quantity)}
	}

	p.mu.Lock()
	ticker, hasTicker := p.tickers[req.Symbol]
	if req.Type == OrderTypeMarket && !hasTicker {
		p.mu.Unlock()
		return nil, &Error{Op: "place order", Err: fmt.Errorf("%w: no market price for %s", ErrOrderRejected, req.Symbol)}
	}
	if !req.IsBuy {
		available := p.balances[account.ID][info.BaseAsset].Sub(p.lockedLocked(account.ID, req.Symbol))
		if available.LessThan(quantity) {
			p.mu.Unlock()
			return nil, &Error{Op: "place order", Err: fmt.Errorf("%w: %s available %s, need %s",
				ErrInsufficientBalance, info.BaseAsset, available, quantity)}
		}
	}

	p.orderID++
	order := &paperOrder{
		account:   account.ID,
		baseAsset: info.BaseAsset,
		update: OrderUpdate{
			ID:             strconv.FormatInt(p.orderID, 10),
			ClientOrderID:  fmt.Sprintf("paper-%d", p.orderID),
			Symbol:         req.Symbol,
			Price:          req.Price,
			Quantity:       quantity,
			QuantityFilled: decimal.Zero,
			IsBuy:          req.IsBuy,
			Type:           req.Type,
			Status:         OrderStatusNew,
			Fee:            decimal.Zero,
			CreatedAt:      time.Now(),
		},
	}
	p.orders[order.update.ID] = order

	if hasTicker {
		if req.Type == OrderTypeMarket {
			price := ticker.Ask
			if !req.IsBuy {
				price = ticker.Bid
			}
			p.fillLocked(order, price)
		} else if crosses(order.update, ticker) {
			p.fillLocked(order, req.Price)
		}
	}
	result := order.update
	p.mu.Unlock()

	p.logger.Info("paper wallet: order placed",
		zap.String("bot_id", account.ID),
		zap.String("symbol", req.Symbol),
		zap.String("side", req.Side()),
		zap.String("price", req.Price.String()),
		zap.String("quantity", quantity.String()),
		zap.String("order_id", result.ID),
		zap.String("status", result.Status.String()))

	if result.Status == OrderStatusFilled {
		p.notify(account.ID, result)
	}
	return &result, nil
}

// GetOrderStatus 查询模拟订单
func (p *PaperGateway) GetOrderStatus(ctx context.Context, account Account, symbol, orderID string) (*OrderUpdate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok || order.account != account.ID || order.update.Symbol != symbol {
		return nil, &Error{Op: "get order", Err: fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)}
	}
	update := order.update
	return &update, nil
}

// GetBalance 模拟余额
func (p *PaperGateway) GetBalance(ctx context.Context, account Account, asset string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balances[account.ID][asset], nil
}

// SubscribeOrderUpdates 注册成交回调
func (p *PaperGateway) SubscribeOrderUpdates(ctx context.Context, account Account, callback func(OrderUpdate)) error {
	_, err := p.subscriptions.Subscribe(account.ID, func() (func(), error) {
		p.mu.Lock()
		p.subscribers[account.ID] = callback
		p.mu.Unlock()
		return func() {
			p.mu.Lock()
			delete(p.subscribers, account.ID)
			p.mu.Unlock()
		}, nil
	})
	return err
}

// GetSymbolInfo 使用真实交易对信息
func (p *PaperGateway) GetSymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error) {
	return p.market.GetSymbolInfo(ctx, symbol)
}

// StreamTickers 使用真实行情，每个行情先驱动模拟撮合
func (p *PaperGateway) StreamTickers(ctx context.Context, symbol string, handler func(Ticker), errHandler func(error)) (func(), error) {
	return p.market.StreamTickers(ctx, symbol, func(t Ticker) {
		p.OnTicker(t)
		handler(t)
	}, errHandler)
}

// OnTicker 记录最新行情并撮合被穿越的限价单
func (p *PaperGateway) OnTicker(t Ticker) {
	type fill struct {
		account string
		update  OrderUpdate
	}
	var fills []fill

	p.mu.Lock()
	p.tickers[t.Symbol] = t
	for _, order := range p.orders {
		u := order.update
		if u.Symbol != t.Symbol || u.Status.IsTerminal() || u.Type != OrderTypeLimit {
			continue
		}
		if crosses(u, t) {
			p.fillLocked(order, u.Price)
			fills = append(fills, fill{account: order.account, update: order.update})
		}
	}
	p.mu.Unlock()

	for _, f := range fills {
		p.logger.Debug("paper wallet: order filled",
			zap.String("bot_id", f.account),
			zap.String("order_id", f.update.ID),
			zap.String("price", f.update.Price.String()))
		p.notify(f.account, f.update)
	}
}

// Close 清除订阅
func (p *PaperGateway) Close() {
	p.subscriptions.Close()
}

func (p *PaperGateway) notify(account string, update OrderUpdate) {
	p.mu.Lock()
	callback := p.subscribers[account]
	p.mu.Unlock()
	if callback != nil {
		callback(update)
	}
}

// fillLocked 全部成交，调用方持有锁
func (p *PaperGateway) fillLocked(order *paperOrder, price decimal.Decimal) {
	u := &order.update
	u.QuantityFilled = u.Quantity
	u.AverageFillPrice = decimal.NewNullDecimal(price)
	u.Status = OrderStatusFilled

	if _, ok := p.balances[order.account]; !ok {
		p.balances[order.account] = make(map[string]decimal.Decimal)
	}
	balance := p.balances[order.account][order.baseAsset]
	if u.IsBuy {
		u.Fee = u.Quantity.Mul(p.feeRate)
		balance = balance.Add(u.Quantity).Sub(u.Fee)
	} else {
		balance = balance.Sub(u.Quantity)
	}
	p.balances[order.account][order.baseAsset] = balance
}

// lockedLocked 挂单中的卖单占用数量，调用方持有锁
func (p *PaperGateway) lockedLocked(account, symbol string) decimal.Decimal {
	locked := decimal.Zero
	for _, order := range p.orders {
		u := order.update
		if order.account == account && u.Symbol == symbol && !u.IsBuy && !u.Status.IsTerminal() {
			locked = locked.Add(u.Quantity.Sub(u.QuantityFilled))
		}
	}
	return locked
}

func crosses(u OrderUpdate, t Ticker) bool {
	if u.IsBuy {
		return t.Ask.IsPositive() && t.Ask.LessThanOrEqual(u.Price)
	}
	return t.Bid.IsPositive() && t.Bid.GreaterThanOrEqual(u.Price)
}
