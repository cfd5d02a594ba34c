package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	symbolInfoTTL     = 5 * time.Minute
	listenKeyKeepOver = 30 * time.Minute
)

// BinanceGateway 币安现货网关
// 每个API Key复用同一个客户端，交易对信息缓存5分钟
type BinanceGateway struct {
	logger   *zap.Logger
	proxyURL string

	public *binance.Client

	clientsLock sync.Mutex
	clients     map[string]*binance.Client

	symbolInfoMap  map[string]*SymbolInfo
	symbolInfoLock sync.RWMutex

	subscriptions *SubscriptionRegistry
}

// NewBinanceGateway 创建币安网关，apiKey/secretKey 仅用于公共行情
func NewBinanceGateway(apiKey, secretKey, proxyURL string, testnet bool, logger *zap.Logger) *BinanceGateway {
	if testnet {
		binance.UseTestnet = true
	}

	g := &BinanceGateway{
		logger:        logger,
		proxyURL:      proxyURL,
		clients:       make(map[string]*binance.Client),
		symbolInfoMap: make(map[string]*SymbolInfo),
		subscriptions: NewSubscriptionRegistry(),
	}
	g.public = g.newClient(apiKey, secretKey)
	return g
}

func (g *BinanceGateway) newClient(apiKey, secretKey string) *binance.Client {
	if g.proxyURL != "" {
		return binance.NewProxiedClient(apiKey, secretKey, g.proxyURL)
	}
	return binance.NewClient(apiKey, secretKey)
}

// client 获取账户对应的客户端
func (g *BinanceGateway) client(account Account) *binance.Client {
	g.clientsLock.Lock()
	defer g.clientsLock.Unlock()

	if c, ok := g.clients[account.APIKey]; ok {
		return c
	}
	c := g.newClient(account.APIKey, account.Secret)
	g.clients[account.APIKey] = c
	return c
}

// PlaceOrder 下单，数量按交易对精度向下取整
func (g *BinanceGateway) PlaceOrder(ctx context.Context, account Account, req OrderRequest) (*OrderUpdate, error) {
	info, err := g.GetSymbolInfo(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	quantity := info.RoundQuantity(req.Quantity)
	if quantity.IsZero() {
		return nil, &Error{Op: "place order", Err: fmt.Errorf("%w: quantity %s below minimum %s for %s",
			ErrInvalidRequest, req.Quantity, info.MinQty, req.Symbol)}
	}

	side := binance.SideTypeSell
	if req.IsBuy {
		side = binance.SideTypeBuy
	}

	service := g.client(account).NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side).
		Quantity(quantity.StringFixed(info.QtyDecimals)).
		NewClientOrderID(uuid.NewString())

	switch req.Type {
	case OrderTypeMarket:
		service.Type(binance.OrderTypeMarket)
	default:
		service.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(req.Price.Truncate(info.PriceDecimals).String())
	}

	g.logger.Debug("placing order",
		zap.String("bot_id", account.ID),
		zap.String("symbol", req.Symbol),
		zap.String("side", req.Side()),
		zap.String("type", req.Type.String()),
		zap.String("price", req.Price.String()),
		zap.String("quantity", quantity.String()))

	res, err := service.Do(ctx)
	if err != nil {
		return nil, wrapError("place order", err)
	}

	fee := decimal.Zero
	for _, fill := range res.Fills {
		if fill.CommissionAsset == info.BaseAsset {
			fee = fee.Add(parseDecimal(fill.Commission))
		}
	}

	update := &OrderUpdate{
		ID:             strconv.FormatInt(res.OrderID, 10),
		ClientOrderID:  res.ClientOrderID,
		Symbol:         res.Symbol,
		Price:          parseDecimal(res.Price),
		Quantity:       parseDecimal(res.OrigQuantity),
		QuantityFilled: parseDecimal(res.ExecutedQuantity),
		IsBuy:          res.Side == binance.SideTypeBuy,
		Type:           OrderType(res.Type),
		Status:         OrderStatus(res.Status),
		Fee:            fee,
		CreatedAt:      time.UnixMilli(res.TransactTime),
	}
	if update.Price.IsZero() {
		update.Price = req.Price
	}
	update.AverageFillPrice = averagePrice(update.QuantityFilled, parseDecimal(res.CummulativeQuoteQuantity))
	return update, nil
}

// GetOrderStatus 查询订单，手续费取该订单成交记录中以基础资产计价的部分
func (g *BinanceGateway) GetOrderStatus(ctx context.Context, account Account, symbol, orderID string) (*OrderUpdate, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, &Error{Op: "get order", Err: fmt.Errorf("%w: bad order id %q", ErrOrderNotFound, orderID)}
	}

	c := g.client(account)
	order, err := c.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return nil, wrapError("get order", err)
	}

	update := &OrderUpdate{
		ID:             strconv.FormatInt(order.OrderID, 10),
		ClientOrderID:  order.ClientOrderID,
		Symbol:         order.Symbol,
		Price:          parseDecimal(order.Price),
		Quantity:       parseDecimal(order.OrigQuantity),
		QuantityFilled: parseDecimal(order.ExecutedQuantity),
		IsBuy:          order.Side == binance.SideTypeBuy,
		Type:           OrderType(order.Type),
		Status:         OrderStatus(order.Status),
		Fee:            decimal.Zero,
		CreatedAt:      time.UnixMilli(order.Time),
	}
	update.AverageFillPrice = averagePrice(update.QuantityFilled, parseDecimal(order.CummulativeQuoteQuantity))

	if update.QuantityFilled.IsPositive() {
		info, err := g.GetSymbolInfo(ctx, symbol)
		if err != nil {
			return nil, err
		}
		trades, err := c.NewListTradesService().Symbol(symbol).StartTime(order.Time).Limit(1000).Do(ctx)
		if err != nil {
			return nil, wrapError("list trades", err)
		}
		for _, t := range trades {
			if t.OrderID == order.OrderID && t.CommissionAsset == info.BaseAsset {
				update.Fee = update.Fee.Add(parseDecimal(t.Commission))
			}
		}
	}

	return update, nil
}

// GetBalance 资产余额（可用+冻结）
func (g *BinanceGateway) GetBalance(ctx context.Context, account Account, asset string) (decimal.Decimal, error) {
	res, err := g.client(account).NewGetAccountService().Do(ctx)
	if err != nil {
		return decimal.Zero, wrapError("get account", err)
	}
	for _, b := range res.Balances {
		if b.Asset == asset {
			return parseDecimal(b.Free).Add(parseDecimal(b.Locked)), nil
		}
	}
	return decimal.Zero, nil
}

// SubscribeOrderUpdates 订阅用户数据流，收到成交回报后回查订单完整状态再回调
func (g *BinanceGateway) SubscribeOrderUpdates(ctx context.Context, account Account, callback func(OrderUpdate)) error {
	_, err := g.subscriptions.Subscribe(account.ID, func() (func(), error) {
		return g.startUserStream(ctx, account, callback)
	})
	return err
}

func (g *BinanceGateway) startUserStream(ctx context.Context, account Account, callback func(OrderUpdate)) (func(), error) {
	c := g.client(account)
	listenKey, err := c.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return nil, wrapError("start user stream", err)
	}

	logger := g.logger.With(zap.String("bot_id", account.ID))
	handler := func(event *binance.WsUserDataEvent) {
		if event.Event != binance.UserDataEventTypeExecutionReport {
			return
		}
		o := event.OrderUpdate
		update, err := g.GetOrderStatus(context.Background(), account, o.Symbol, strconv.FormatInt(o.Id, 10))
		if err != nil {
			logger.Warn("failed to refresh pushed order", zap.Int64("order_id", o.Id), zap.Error(err))
			return
		}
		callback(*update)
	}
	errHandler := func(err error) {
		logger.Error("user data stream error", zap.Error(err))
	}

	doneC, stopC, err := binance.WsUserDataServe(listenKey, handler, errHandler)
	if err != nil {
		return nil, wrapError("serve user stream", err)
	}

	keepalive := time.NewTicker(listenKeyKeepOver)
	quit := make(chan struct{})
	go func() {
		defer keepalive.Stop()
		for {
			select {
			case <-quit:
				return
			case <-doneC:
				logger.Warn("user data stream closed")
				return
			case <-keepalive.C:
				if err := c.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(context.Background()); err != nil {
					logger.Error("failed to keep user stream alive", zap.Error(err))
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(quit)
			close(stopC)
		})
	}, nil
}

// StreamTickers 订阅最优买卖价
func (g *BinanceGateway) StreamTickers(ctx context.Context, symbol string, handler func(Ticker), errHandler func(error)) (func(), error) {
	wsHandler := func(event *binance.WsBookTickerEvent) {
		bid := parseDecimal(event.BestBidPrice)
		ask := parseDecimal(event.BestAskPrice)
		handler(Ticker{
			Symbol:    event.Symbol,
			Timestamp: time.Now(),
			Bid:       bid,
			Ask:       ask,
			LastPrice: bid.Add(ask).Div(decimal.NewFromInt(2)),
		})
	}
	_, stopC, err := binance.WsBookTickerServe(symbol, wsHandler, errHandler)
	if err != nil {
		return nil, wrapError("serve book ticker", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() { close(stopC) })
	}, nil
}

// GetSymbolInfo 获取交易对信息
func (g *BinanceGateway) GetSymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error) {
	// 检查缓存（5分钟有效期）
	g.symbolInfoLock.RLock()
	if info, exists := g.symbolInfoMap[symbol]; exists {
		if time.Since(info.lastUpdated) < symbolInfoTTL {
			g.symbolInfoLock.RUnlock()
			return info, nil
		}
	}
	g.symbolInfoLock.RUnlock()

	exchangeInfo, err := g.public.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, wrapError("get exchange info", err)
	}

	for _, s := range exchangeInfo.Symbols {
		if s.Symbol != symbol {
			continue
		}
		info := &SymbolInfo{
			Symbol:        s.Symbol,
			BaseAsset:     s.BaseAsset,
			QuoteAsset:    s.QuoteAsset,
			QtyDecimals:   int32(s.BaseAssetPrecision),
			PriceDecimals: int32(s.QuotePrecision),
			lastUpdated:   time.Now(),
		}
		if lot := s.LotSizeFilter(); lot != nil {
			info.StepSize = parseDecimal(lot.StepSize)
			info.MinQty = parseDecimal(lot.MinQuantity)
			info.QtyDecimals = decimalsOf(info.StepSize)
		}
		if pf := s.PriceFilter(); pf != nil {
			info.PriceDecimals = decimalsOf(parseDecimal(pf.TickSize))
		}

		g.symbolInfoLock.Lock()
		g.symbolInfoMap[symbol] = info
		g.symbolInfoLock.Unlock()
		return info, nil
	}

	return nil, &Error{Op: "get exchange info", Err: fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)}
}

// Close 关闭所有用户数据流
func (g *BinanceGateway) Close() {
	g.subscriptions.Close()
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func averagePrice(filled, quote decimal.Decimal) decimal.NullDecimal {
	if !filled.IsPositive() || !quote.IsPositive() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(quote.Div(filled))
}
