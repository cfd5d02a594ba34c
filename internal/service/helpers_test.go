package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dushixiang/stepbot/internal/config"
	"github.com/dushixiang/stepbot/internal/models"
	"github.com/dushixiang/stepbot/pkg/exchange"
	"github.com/glebarez/sqlite"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

func testConfig() *config.Config {
	return &config.Config{Engine: config.EngineConf{Workers: 4}}
}

func newTestLedger(t *testing.T) *LedgerService {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "stepbot.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.Bot{}, models.Order{}, models.Trade{}))
	return NewLedgerService(db, zap.NewNop())
}

func longBot() models.Bot {
	return models.Bot{
		ID:             ulid.Make().String(),
		Name:           "btc grid",
		Symbol:         "BTCUSDT",
		BaseAsset:      "BTC",
		QuoteAsset:     "USDT",
		Enabled:        true,
		Direction:      models.DirectionLong,
		EntryStep:      d("1"),
		EntryQuantity:  d("1"),
		ExitStep:       d("1"),
		EntryOrderType: exchange.OrderTypeLimit,
		ExitOrderType:  exchange.OrderTypeLimit,
	}
}

func shortBot() models.Bot {
	b := longBot()
	b.Name = "btc short grid"
	b.Direction = models.DirectionShort
	return b
}

func createBot(t *testing.T, ledger *LedgerService, bot models.Bot) models.Bot {
	t.Helper()
	require.NoError(t, ledger.BotRepo.Create(context.Background(), &bot))
	return bot
}

// filledEntry 已完全成交的开仓单快照
func filledEntry(bot models.Bot, price, quantity, fee string) *exchange.OrderUpdate {
	return &exchange.OrderUpdate{
		ID:               ulid.Make().String(),
		Symbol:           bot.Symbol,
		Price:            d(price),
		Quantity:         d(quantity),
		QuantityFilled:   d(quantity),
		AverageFillPrice: decimal.NewNullDecimal(d(price)),
		IsBuy:            bot.IsLong(),
		Type:             exchange.OrderTypeLimit,
		Status:           exchange.OrderStatusFilled,
		Fee:              d(fee),
	}
}

func seedTrades(t *testing.T, ledger *LedgerService, bot models.Bot, updates ...*exchange.OrderUpdate) []models.Trade {
	t.Helper()
	trades, err := ledger.RecordEntries(context.Background(), bot.ID, updates)
	require.NoError(t, err)
	return trades
}

func reloadTrades(t *testing.T, ledger *LedgerService, botID string) []models.Trade {
	t.Helper()
	trades, err := ledger.TradeRepo.FindByBotID(context.Background(), botID)
	require.NoError(t, err)
	return trades
}

func ticker(symbol, bid, ask string) exchange.Ticker {
	return exchange.Ticker{Symbol: symbol, Timestamp: time.Now(), Bid: d(bid), Ask: d(ask)}
}

// fakeGateway 记录请求的内存网关
type fakeGateway struct {
	mu sync.Mutex

	info    *exchange.SymbolInfo
	nextID  int
	placed  []exchange.OrderRequest
	placeFn func(account exchange.Account, req exchange.OrderRequest) error

	statuses    map[string]*exchange.OrderUpdate
	statusErr   error
	statusCalls int

	balanceFn    func(ctx context.Context, call int) (decimal.Decimal, error)
	balanceCalls int

	subscribed map[string]func(exchange.OrderUpdate)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		info: &exchange.SymbolInfo{
			Symbol:      "BTCUSDT",
			BaseAsset:   "BTC",
			QuoteAsset:  "USDT",
			StepSize:    d("0.001"),
			MinQty:      d("0.001"),
			QtyDecimals: 3,
		},
		statuses:   make(map[string]*exchange.OrderUpdate),
		subscribed: make(map[string]func(exchange.OrderUpdate)),
	}
}

var _ exchange.Gateway = (*fakeGateway)(nil)

func (g *fakeGateway) PlaceOrder(ctx context.Context, account exchange.Account, req exchange.OrderRequest) (*exchange.OrderUpdate, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.placeFn != nil {
		if err := g.placeFn(account, req); err != nil {
			return nil, err
		}
	}
	g.nextID++
	g.placed = append(g.placed, req)
	return &exchange.OrderUpdate{
		ID:       fmt.Sprintf("%d", g.nextID),
		Symbol:   req.Symbol,
		Price:    req.Price,
		Quantity: req.Quantity,
		IsBuy:    req.IsBuy,
		Type:     req.Type,
		Status:   exchange.OrderStatusNew,
		Fee:      decimal.Zero,
	}, nil
}

func (g *fakeGateway) GetOrderStatus(ctx context.Context, account exchange.Account, symbol, orderID string) (*exchange.OrderUpdate, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusCalls++
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	u, ok := g.statuses[orderID]
	if !ok {
		return nil, exchange.ErrOrderNotFound
	}
	return u, nil
}

func (g *fakeGateway) GetBalance(ctx context.Context, account exchange.Account, asset string) (decimal.Decimal, error) {
	g.mu.Lock()
	g.balanceCalls++
	call := g.balanceCalls
	fn := g.balanceFn
	g.mu.Unlock()
	if fn == nil {
		return decimal.Zero, errors.New("no balance configured")
	}
	return fn(ctx, call)
}

func (g *fakeGateway) SubscribeOrderUpdates(ctx context.Context, account exchange.Account, callback func(exchange.OrderUpdate)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.subscribed[account.ID]; !ok {
		g.subscribed[account.ID] = callback
	}
	return nil
}

func (g *fakeGateway) GetSymbolInfo(ctx context.Context, symbol string) (*exchange.SymbolInfo, error) {
	return g.info, nil
}

func (g *fakeGateway) Placed() []exchange.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]exchange.OrderRequest, len(g.placed))
	copy(out, g.placed)
	return out
}

// fakeSender 记录通知内容
type fakeSender struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (s *fakeSender) Notify(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return s.err
}
