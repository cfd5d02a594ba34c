package service

import (
	"context"
	"testing"

	"github.com/dushixiang/stepbot/internal/models"
	"github.com/dushixiang/stepbot/pkg/exchange"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func awaitingTrade(id, price string) models.Trade {
	return models.Trade{
		ID: id,
		EntryOrder: &models.Order{
			ID:               "o-" + id,
			Price:            d(price),
			Quantity:         d("1"),
			QuantityFilled:   d("1"),
			AverageFillPrice: decimal.NewNullDecimal(d(price)),
			Status:           exchange.OrderStatusFilled,
		},
	}
}

func TestPartitionExits(t *testing.T) {
	t.Run("reachable trades are consolidated", func(t *testing.T) {
		trades := []models.Trade{awaitingTrade("a", "100"), awaitingTrade("b", "101")}
		consolidated, advance := PartitionExits(longBot(), trades, ticker("BTCUSDT", "100.5", "101"))
		require.Len(t, consolidated, 1)
		assert.Equal(t, "a", consolidated[0].ID)
		assert.Empty(t, advance)
	})

	t.Run("advance exits sorted by closest target", func(t *testing.T) {
		bot := longBot()
		bot.PlaceOrdersInAdvance = true
		bot.ExitOrdersInAdvance = 2
		trades := []models.Trade{awaitingTrade("a", "105"), awaitingTrade("b", "103"), awaitingTrade("c", "110")}

		consolidated, advance := PartitionExits(bot, trades, ticker("BTCUSDT", "100", "101"))
		assert.Empty(t, consolidated)
		require.Len(t, advance, 2)
		assert.Equal(t, "b", advance[0].ID)
		assert.Equal(t, "a", advance[1].ID)
	})

	t.Run("short bot", func(t *testing.T) {
		bot := shortBot()
		bot.PlaceOrdersInAdvance = true
		bot.ExitOrdersInAdvance = 1
		trades := []models.Trade{awaitingTrade("a", "100"), awaitingTrade("b", "97"), awaitingTrade("c", "98")}

		consolidated, advance := PartitionExits(bot, trades, ticker("BTCUSDT", "99", "99.5"))
		require.Len(t, consolidated, 1)
		assert.Equal(t, "a", consolidated[0].ID)
		require.Len(t, advance, 1)
		assert.Equal(t, "c", advance[0].ID)
	})

	t.Run("unfilled entries are skipped", func(t *testing.T) {
		pending := awaitingTrade("a", "100")
		pending.EntryOrder.Status = exchange.OrderStatusPartiallyFilled
		consolidated, advance := PartitionExits(longBot(), []models.Trade{pending}, ticker("BTCUSDT", "110", "111"))
		assert.Empty(t, consolidated)
		assert.Empty(t, advance)
	})
}

func TestConsolidatedExitPrice(t *testing.T) {
	trades := []models.Trade{awaitingTrade("a", "100"), awaitingTrade("b", "102")}
	assertDecimal(t, "104", ConsolidatedExitPrice(longBot(), trades, ticker("BTCUSDT", "103", "104")))
	assertDecimal(t, "101", ConsolidatedExitPrice(longBot(), trades, ticker("BTCUSDT", "100", "100.5")))
	assertDecimal(t, "98", ConsolidatedExitPrice(shortBot(), trades, ticker("BTCUSDT", "98", "98.5")))
	assertDecimal(t, "101", ConsolidatedExitPrice(shortBot(), trades, ticker("BTCUSDT", "102", "102.5")))
}

func TestExitServicePlacesConsolidatedExit(t *testing.T) {
	ledger := newTestLedger(t)
	gateway := newFakeGateway()
	svc := NewExitService(testConfig(), ledger, gateway, zap.NewNop())
	bot := createBot(t, ledger, longBot())
	seedTrades(t, ledger, bot, filledEntry(bot, "100", "1", "0"))

	r, err := svc.OnTicker(context.Background(), ticker("BTCUSDT", "100.5", "101"))
	require.NoError(t, err)
	assert.True(t, r.Succeeded())
	assert.Equal(t, 1, r.Value)

	placed := gateway.Placed()
	require.Len(t, placed, 1)
	assert.False(t, placed[0].IsBuy)
	assertDecimal(t, "101", placed[0].Price)
	assertDecimal(t, "1", placed[0].Quantity)

	trades := reloadTrades(t, ledger, bot.ID)
	require.Len(t, trades, 1)
	require.NotNil(t, trades[0].ExitOrderID)
	require.NotNil(t, trades[0].ExitOrder)
	assertDecimal(t, "101", trades[0].ExitOrder.Price)

	// 已挂平仓单的交易不会再次处理
	r, err = svc.OnTicker(context.Background(), ticker("BTCUSDT", "100.5", "101"))
	require.NoError(t, err)
	assert.Equal(t, 0, r.Value)
	assert.Len(t, gateway.Placed(), 1)
}

func TestExitServiceConsolidatedTradesShareExitOrder(t *testing.T) {
	ledger := newTestLedger(t)
	gateway := newFakeGateway()
	svc := NewExitService(testConfig(), ledger, gateway, zap.NewNop())
	bot := createBot(t, ledger, longBot())
	seedTrades(t, ledger, bot,
		filledEntry(bot, "100", "1", "0.001"),
		filledEntry(bot, "101", "1", "0.001"),
		filledEntry(bot, "102", "1", "0.001"),
	)

	r, err := svc.OnTicker(context.Background(), ticker("BTCUSDT", "103.5", "104"))
	require.NoError(t, err)
	assert.Equal(t, 1, r.Value)

	placed := gateway.Placed()
	require.Len(t, placed, 1)
	assertDecimal(t, "104", placed[0].Price)
	assertDecimal(t, "2.997", placed[0].Quantity)

	trades := reloadTrades(t, ledger, bot.ID)
	require.Len(t, trades, 3)
	require.NotNil(t, trades[0].ExitOrderID)
	for _, trade := range trades {
		require.NotNil(t, trade.ExitOrderID)
		assert.Equal(t, *trades[0].ExitOrderID, *trade.ExitOrderID)
	}
}

func TestExitServiceNeverPlacesBelowMinimumQuantity(t *testing.T) {
	ledger := newTestLedger(t)
	gateway := newFakeGateway()
	gateway.info.MinQty = d("0.01")
	svc := NewExitService(testConfig(), ledger, gateway, zap.NewNop())

	bot := longBot()
	bot.PlaceOrdersInAdvance = true
	bot.ExitOrdersInAdvance = 5
	bot = createBot(t, ledger, bot)
	seedTrades(t, ledger, bot,
		filledEntry(bot, "100", "0.009", "0"),
		filledEntry(bot, "110", "0.005", "0"),
	)

	for _, tk := range []exchange.Ticker{ticker("BTCUSDT", "100.5", "101"), ticker("BTCUSDT", "90", "90.5")} {
		r, err := svc.OnTicker(context.Background(), tk)
		require.NoError(t, err)
		assert.Equal(t, 0, r.Value)
	}
	for _, req := range gateway.Placed() {
		assert.True(t, req.Quantity.GreaterThanOrEqual(gateway.info.MinQty), "placed %s", req.Quantity)
	}
	assert.Empty(t, gateway.Placed())
}

func TestExitServicePlacesAdvanceExits(t *testing.T) {
	ledger := newTestLedger(t)
	gateway := newFakeGateway()
	svc := NewExitService(testConfig(), ledger, gateway, zap.NewNop())

	bot := longBot()
	bot.ExitStep = d("2")
	bot.PlaceOrdersInAdvance = true
	bot.ExitOrdersInAdvance = 1
	bot = createBot(t, ledger, bot)
	seedTrades(t, ledger, bot,
		filledEntry(bot, "99", "1", "0"),
		filledEntry(bot, "97", "1", "0"),
		filledEntry(bot, "98", "1", "0"),
	)

	// 97+2 <= 99 可合并；98 最先可止盈，预挂在 100
	r, err := svc.OnTicker(context.Background(), ticker("BTCUSDT", "98.5", "99"))
	require.NoError(t, err)
	assert.Equal(t, 2, r.Value)

	placed := gateway.Placed()
	require.Len(t, placed, 2)
	prices := map[string]string{}
	for _, req := range placed {
		prices[req.Price.String()] = req.Quantity.String()
	}
	assert.Equal(t, map[string]string{"99": "1", "100": "1"}, prices)

	awaiting, err := ledger.TradeRepo.FindAwaitingExit(context.Background(), bot.ID)
	require.NoError(t, err)
	require.Len(t, awaiting, 1)
	assertDecimal(t, "99", awaiting[0].EntryOrder.Price)
}

func TestExitServiceIsolatesBotFailures(t *testing.T) {
	ledger := newTestLedger(t)
	gateway := newFakeGateway()
	svc := NewExitService(testConfig(), ledger, gateway, zap.NewNop())

	failing := createBot(t, ledger, longBot())
	healthy := createBot(t, ledger, longBot())
	seedTrades(t, ledger, failing, filledEntry(failing, "100", "1", "0"))
	seedTrades(t, ledger, healthy, filledEntry(healthy, "100", "1", "0"))
	gateway.placeFn = func(account exchange.Account, req exchange.OrderRequest) error {
		if account.ID == failing.ID {
			return exchange.ErrOrderRejected
		}
		return nil
	}

	r, err := svc.OnTicker(context.Background(), ticker("BTCUSDT", "101", "101.5"))
	require.NoError(t, err)
	assert.Equal(t, 1, r.Value)
	require.Len(t, r.Errors, 1)
	assert.Contains(t, r.Errors[0], failing.ID)

	assert.Nil(t, reloadTrades(t, ledger, failing.ID)[0].ExitOrderID)
	assert.NotNil(t, reloadTrades(t, ledger, healthy.ID)[0].ExitOrderID)
}

func TestExitServiceKeepsSuccessfulPlacementsOnPartialFailure(t *testing.T) {
	ledger := newTestLedger(t)
	gateway := newFakeGateway()
	svc := NewExitService(testConfig(), ledger, gateway, zap.NewNop())

	bot := longBot()
	bot.PlaceOrdersInAdvance = true
	bot.ExitOrdersInAdvance = 1
	bot = createBot(t, ledger, bot)
	trades := seedTrades(t, ledger, bot,
		filledEntry(bot, "97", "1", "0"),
		filledEntry(bot, "98", "1", "0"),
	)
	// 合并平仓单被拒，预挂单成功
	gateway.placeFn = func(account exchange.Account, req exchange.OrderRequest) error {
		if req.Price.Equal(d("98.5")) {
			return exchange.ErrOrderRejected
		}
		return nil
	}

	r, err := svc.OnTicker(context.Background(), ticker("BTCUSDT", "98", "98.5"))
	require.NoError(t, err)
	assert.Equal(t, 1, r.Value)
	require.Len(t, r.Errors, 1)
	assert.Contains(t, r.Errors[0], bot.ID)

	placed := gateway.Placed()
	require.Len(t, placed, 1)
	assertDecimal(t, "99", placed[0].Price)
	assert.Equal(t, exchange.OrderTypeLimit, placed[0].Type)

	byID := make(map[string]models.Trade)
	for _, trade := range reloadTrades(t, ledger, bot.ID) {
		byID[trade.ID] = trade
	}
	assert.Nil(t, byID[trades[0].ID].ExitOrderID)
	require.NotNil(t, byID[trades[1].ID].ExitOrderID)
	require.NotNil(t, byID[trades[1].ID].ExitOrder)
	assertDecimal(t, "99", byID[trades[1].ID].ExitOrder.Price)

	// 下一次行情重试失败的交易
	gateway.placeFn = nil
	r, err = svc.OnTicker(context.Background(), ticker("BTCUSDT", "98", "98.5"))
	require.NoError(t, err)
	assert.True(t, r.Succeeded())
	assert.Equal(t, 1, r.Value)
	for _, trade := range reloadTrades(t, ledger, bot.ID) {
		assert.NotNil(t, trade.ExitOrderID)
	}
}

func TestExitServiceRejectsNonPositiveExitStep(t *testing.T) {
	ledger := newTestLedger(t)
	gateway := newFakeGateway()
	svc := NewExitService(testConfig(), ledger, gateway, zap.NewNop())

	broken := longBot()
	broken.ExitStep = decimal.Zero
	broken = createBot(t, ledger, broken)
	healthy := createBot(t, ledger, longBot())
	seedTrades(t, ledger, broken, filledEntry(broken, "100", "1", "0"))
	seedTrades(t, ledger, healthy, filledEntry(healthy, "100", "1", "0"))

	r, err := svc.OnTicker(context.Background(), ticker("BTCUSDT", "101", "101.5"))
	require.NoError(t, err)
	assert.Equal(t, 1, r.Value)
	require.Len(t, r.Errors, 1)
	assert.Contains(t, r.Errors[0], broken.ID)
	assert.Contains(t, r.Errors[0], "exit step")

	assert.Nil(t, reloadTrades(t, ledger, broken.ID)[0].ExitOrderID)
	assert.NotNil(t, reloadTrades(t, ledger, healthy.ID)[0].ExitOrderID)
}
