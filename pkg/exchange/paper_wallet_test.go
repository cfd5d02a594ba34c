package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/adshao/go-binance/v2/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubMarket struct{}

func (stubMarket) GetSymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error) {
	if symbol != "BTCUSDT" {
		return nil, &Error{Op: "get exchange info", Err: ErrUnknownSymbol}
	}
	return &SymbolInfo{
		Symbol:      symbol,
		BaseAsset:   "BTC",
		QuoteAsset:  "USDT",
		StepSize:    d("0.001"),
		MinQty:      d("0.001"),
		QtyDecimals: 3,
	}, nil
}

func (stubMarket) StreamTickers(ctx context.Context, symbol string, handler func(Ticker), errHandler func(error)) (func(), error) {
	return func() {}, nil
}

func newPaper() *PaperGateway {
	return NewPaperGateway(stubMarket{}, d("0.001"), zap.NewNop())
}

func TestPaperLimitOrderRestsUntilCrossed(t *testing.T) {
	ctx := context.Background()
	p := newPaper()
	acc := Account{ID: "bot-1"}

	var mu sync.Mutex
	var pushed []OrderUpdate
	require.NoError(t, p.SubscribeOrderUpdates(ctx, acc, func(u OrderUpdate) {
		mu.Lock()
		pushed = append(pushed, u)
		mu.Unlock()
	}))

	p.OnTicker(Ticker{Symbol: "BTCUSDT", Bid: d("100"), Ask: d("101")})

	order, err := p.PlaceOrder(ctx, acc, OrderRequest{Symbol: "BTCUSDT", Price: d("99"), Quantity: d("1"), IsBuy: true, Type: OrderTypeLimit})
	require.NoError(t, err)
	assert.Equal(t, OrderStatusNew, order.Status)
	assert.True(t, order.QuantityFilled.IsZero())
	assert.False(t, order.AverageFillPrice.Valid)

	p.OnTicker(Ticker{Symbol: "BTCUSDT", Bid: d("98"), Ask: d("99")})

	status, err := p.GetOrderStatus(ctx, acc, "BTCUSDT", order.ID)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusFilled, status.Status)
	assert.True(t, d("1").Equal(status.QuantityFilled))
	assert.True(t, d("0.001").Equal(status.Fee))
	assert.True(t, d("99").Equal(status.AverageFillPrice.Decimal))

	balance, err := p.GetBalance(ctx, acc, "BTC")
	require.NoError(t, err)
	assert.True(t, d("0.999").Equal(balance))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, pushed, 1)
	assert.Equal(t, order.ID, pushed[0].ID)
}

func TestPaperMarketOrderFillsAtTicker(t *testing.T) {
	ctx := context.Background()
	p := newPaper()
	acc := Account{ID: "bot-1"}
	p.Fund(acc, "BTC", d("2"))

	_, err := p.PlaceOrder(ctx, acc, OrderRequest{Symbol: "BTCUSDT", Quantity: d("1"), Type: OrderTypeMarket})
	require.ErrorIs(t, err, ErrOrderRejected)

	p.OnTicker(Ticker{Symbol: "BTCUSDT", Bid: d("100"), Ask: d("101")})
	order, err := p.PlaceOrder(ctx, acc, OrderRequest{Symbol: "BTCUSDT", Quantity: d("1.5"), Type: OrderTypeMarket})
	require.NoError(t, err)
	assert.Equal(t, OrderStatusFilled, order.Status)
	assert.True(t, d("100").Equal(order.AverageFillPrice.Decimal))
	assert.True(t, order.Fee.IsZero())

	balance, _ := p.GetBalance(ctx, acc, "BTC")
	assert.True(t, d("0.5").Equal(balance))
}

func TestPaperSellRequiresAvailableBalance(t *testing.T) {
	ctx := context.Background()
	p := newPaper()
	acc := Account{ID: "bot-1"}
	p.Fund(acc, "BTC", d("1"))

	_, err := p.PlaceOrder(ctx, acc, OrderRequest{Symbol: "BTCUSDT", Price: d("200"), Quantity: d("0.6"), Type: OrderTypeLimit})
	require.NoError(t, err)

	_, err = p.PlaceOrder(ctx, acc, OrderRequest{Symbol: "BTCUSDT", Price: d("210"), Quantity: d("0.6"), Type: OrderTypeLimit})
	require.ErrorIs(t, err, ErrInsufficientBalance)

	var exErr *Error
	require.True(t, errors.As(err, &exErr))
	assert.Equal(t, "place order", exErr.Op)
}

func TestPaperRejectsQuantityBelowMinimum(t *testing.T) {
	p := newPaper()
	_, err := p.PlaceOrder(context.Background(), Account{ID: "bot-1"},
		OrderRequest{Symbol: "BTCUSDT", Price: d("100"), Quantity: d("0.0004"), IsBuy: true, Type: OrderTypeLimit})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPaperUnknownOrder(t *testing.T) {
	p := newPaper()
	_, err := p.GetOrderStatus(context.Background(), Account{ID: "bot-1"}, "BTCUSDT", "42")
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestSubscriptionRegistryIsIdempotent(t *testing.T) {
	r := NewSubscriptionRegistry()
	starts := 0
	stops := 0
	start := func() (func(), error) {
		starts++
		return func() { stops++ }, nil
	}

	created, err := r.Subscribe("bot-1", start)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = r.Subscribe("bot-1", start)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, starts)

	_, err = r.Subscribe("bot-2", func() (func(), error) { return nil, errors.New("dial failed") })
	require.Error(t, err)
	assert.False(t, r.Has("bot-2"))
	assert.Equal(t, 1, r.Len())

	r.Close()
	assert.Equal(t, 1, stops)
	assert.Equal(t, 0, r.Len())
}

func TestWrapError(t *testing.T) {
	tests := []struct {
		code int64
		msg  string
		want error
	}{
		{-1003, "Too many requests", ErrRateLimited},
		{-2015, "Invalid API-key", ErrAuthentication},
		{-1013, "Filter failure: LOT_SIZE", ErrInvalidRequest},
		{-1121, "Invalid symbol.", ErrUnknownSymbol},
		{-2010, "Account has insufficient balance for requested action.", ErrInsufficientBalance},
		{-2010, "Order would immediately match and take.", ErrOrderRejected},
		{-2013, "Order does not exist.", ErrOrderNotFound},
		{-9999, "???", ErrUnknown},
	}
	for _, tt := range tests {
		err := wrapError("op", &common.APIError{Code: tt.code, Message: tt.msg})
		assert.ErrorIs(t, err, tt.want, "code %d", tt.code)
	}

	err := wrapError("op", errors.New("connection reset"))
	assert.ErrorIs(t, err, ErrConnection)
	assert.Nil(t, wrapError("op", nil))
}

func TestOrderStatusIsTerminal(t *testing.T) {
	for _, s := range NonTerminalStatuses {
		assert.False(t, s.IsTerminal(), s)
	}
	for _, s := range []OrderStatus{OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired} {
		assert.True(t, s.IsTerminal(), s)
	}
}
