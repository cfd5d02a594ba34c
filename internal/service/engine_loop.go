package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dushixiang/stepbot/internal/config"
	"github.com/dushixiang/stepbot/pkg/exchange"
	"github.com/dushixiang/stepbot/pkg/result"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// EngineLoop 引擎调度器：行情驱动规划器，定时任务负责余额核对与订单同步
type EngineLoop struct {
	conf      config.EngineConf
	ledger    *LedgerService
	venue     exchange.Venue
	handlers  []TickerHandler
	balance   *BalanceService
	orderSync *OrderSyncService
	logger    *zap.Logger

	mu        sync.Mutex
	startTime time.Time
	isRunning bool
	stopChan  chan struct{}
	cron      *cron.Cron
	ctx       context.Context
	cancel    context.CancelFunc

	streamsLock sync.Mutex
	streams     map[string]func() // symbol -> stop
	busy        sync.Map           // symbol -> *atomic.Bool

	ticks      atomic.Int64
	dropped    atomic.Int64
	lastTickAt atomic.Int64 // unix ms
}

// EngineStatus 引擎运行状态
type EngineStatus struct {
	IsRunning      bool      `json:"is_running"`
	StartTime      time.Time `json:"start_time"`
	ElapsedHours   float64   `json:"elapsed_hours"`
	PaperTrading   bool      `json:"paper_trading"`
	Symbols        []string  `json:"symbols"`
	TicksProcessed int64     `json:"ticks_processed"`
	TicksDropped   int64     `json:"ticks_dropped"`
	LastTickAt     time.Time `json:"last_tick_at"`
}

// NewEngineLoop 创建引擎，行情处理顺序为 止损 -> 止盈 -> 开仓
func NewEngineLoop(
	conf *config.Config,
	ledger *LedgerService,
	venue exchange.Venue,
	stopLoss *StopLossService,
	exit *ExitService,
	entry *EntryService,
	balance *BalanceService,
	orderSync *OrderSyncService,
	logger *zap.Logger,
) *EngineLoop {
	return &EngineLoop{
		conf:      conf.Engine.WithDefaults(),
		ledger:    ledger,
		venue:     venue,
		handlers:  []TickerHandler{stopLoss, exit, entry},
		balance:   balance,
		orderSync: orderSync,
		logger:    logger,
		startTime: time.Now(),
		stopChan:  make(chan struct{}),
		streams:   make(map[string]func()),
	}
}

// Start 启动引擎，阻塞直到 Stop 或 ctx 结束
func (l *EngineLoop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.isRunning {
		l.mu.Unlock()
		return fmt.Errorf("engine loop is already running")
	}
	l.isRunning = true
	l.startTime = time.Now()
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	l.mu.Unlock()

	jobs := []struct {
		name string
		spec string
		fn   func()
	}{
		{"balance check", l.conf.BalanceCheckCron, l.verifyBalances},
		{"stale order sync", l.conf.OrderSyncCron, l.syncStaleOrders},
		{"stream refresh", l.conf.StreamRefreshCron, l.refreshStreams},
	}
	for _, job := range jobs {
		if _, err := l.cron.AddFunc(job.spec, job.fn); err != nil {
			l.cancel()
			l.mu.Lock()
			l.isRunning = false
			l.mu.Unlock()
			return fmt.Errorf("failed to add cron job %s: %w", job.name, err)
		}
	}

	l.logger.Info("engine loop started",
		zap.Bool("paper_trading", l.conf.PaperTrading),
		zap.Int("workers", l.conf.Workers),
		zap.String("balance_check_cron", l.conf.BalanceCheckCron),
		zap.String("order_sync_cron", l.conf.OrderSyncCron),
		zap.String("stream_refresh_cron", l.conf.StreamRefreshCron))

	l.cron.Start()

	// 立即建立行情与订单订阅
	go l.refreshStreams()

	select {
	case <-l.stopChan:
		l.logger.Info("engine loop stopped by user")
		return nil
	case <-ctx.Done():
		l.logger.Info("engine loop stopped by context")
		l.Stop()
		return ctx.Err()
	}
}

// Stop 停止定时任务、行情流与订单推送
func (l *EngineLoop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.isRunning {
		return
	}

	l.logger.Info("stopping engine loop...")

	if l.cancel != nil {
		l.cancel()
	}
	if l.cron != nil {
		<-l.cron.Stop().Done()
		l.logger.Info("cron scheduler stopped")
	}

	l.streamsLock.Lock()
	for symbol, stop := range l.streams {
		stop()
		delete(l.streams, symbol)
	}
	l.streamsLock.Unlock()
	l.venue.Close()

	l.isRunning = false
	close(l.stopChan)
	l.logger.Info("engine loop stopped")
}

// HandleTicker 依次执行所有规划器，返回下单总数与汇总的错误
func (l *EngineLoop) HandleTicker(ctx context.Context, ticker exchange.Ticker) (result.Result[int], error) {
	var (
		placed int
		errs   []string
	)
	for _, h := range l.handlers {
		r, err := h.OnTicker(ctx, ticker)
		if err != nil {
			if ctx.Err() != nil {
				return result.Result[int]{}, ctx.Err()
			}
			errs = append(errs, fmt.Sprintf("%s: %v", h.Name(), err))
			continue
		}
		placed += r.Value
		for _, e := range r.Errors {
			errs = append(errs, fmt.Sprintf("%s: %s", h.Name(), e))
		}
	}
	return result.Result[int]{Value: placed, Errors: errs}, nil
}

// onTicker 行情回调，同一交易对上一次处理未结束时丢弃本次行情
func (l *EngineLoop) onTicker(ticker exchange.Ticker) {
	v, _ := l.busy.LoadOrStore(ticker.Symbol, new(atomic.Bool))
	flag := v.(*atomic.Bool)
	if !flag.CompareAndSwap(false, true) {
		l.dropped.Add(1)
		return
	}

	go func() {
		defer flag.Store(false)
		ctx := l.ctx
		if ctx == nil || ctx.Err() != nil {
			return
		}

		l.ticks.Add(1)
		l.lastTickAt.Store(time.Now().UnixMilli())
		r, err := l.HandleTicker(ctx, ticker)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				l.logger.Error("ticker handling failed", zap.String("symbol", ticker.Symbol), zap.Error(err))
			}
			return
		}
		if !r.Succeeded() {
			l.logger.Warn("ticker handled with failures",
				zap.String("symbol", ticker.Symbol),
				zap.Int("placed", r.Value),
				zap.Strings("errors", r.Errors))
			return
		}
		if r.Value > 0 {
			l.logger.Info("ticker handled",
				zap.String("symbol", ticker.Symbol),
				zap.String("bid", ticker.Bid.String()),
				zap.String("ask", ticker.Ask.String()),
				zap.Int("placed", r.Value))
		}
	}()
}

func (l *EngineLoop) verifyBalances() {
	r, err := l.balance.VerifyAll(l.ctx)
	if err != nil {
		l.logger.Error("balance check failed", zap.Error(err))
		return
	}
	if !r.Succeeded() {
		l.logger.Warn("balance check finished with failures", zap.Strings("errors", r.Errors))
	}
}

func (l *EngineLoop) syncStaleOrders() {
	r, err := l.orderSync.SyncStaleOrders(l.ctx)
	if err != nil {
		l.logger.Error("stale order sync failed", zap.Error(err))
		return
	}
	if !r.Succeeded() {
		l.logger.Warn("stale order sync finished with failures", zap.Int("updated", r.Value), zap.Strings("errors", r.Errors))
	}
}

// refreshStreams 按启用机器人的交易对增减行情流，并补齐订单推送订阅
func (l *EngineLoop) refreshStreams() {
	ctx := l.ctx
	if ctx == nil || ctx.Err() != nil {
		return
	}

	if err := l.fundPaperAccounts(ctx); err != nil {
		l.logger.Error("failed to fund paper accounts", zap.Error(err))
	}

	symbols, err := l.ledger.BotRepo.FindEnabledSymbols(ctx)
	if err != nil {
		l.logger.Error("failed to load enabled symbols", zap.Error(err))
		return
	}
	wanted := make(map[string]struct{}, len(symbols))
	for _, symbol := range symbols {
		wanted[symbol] = struct{}{}
	}

	l.streamsLock.Lock()
	for symbol, stop := range l.streams {
		if _, ok := wanted[symbol]; !ok {
			stop()
			delete(l.streams, symbol)
			l.logger.Info("ticker stream closed", zap.String("symbol", symbol))
		}
	}
	for _, symbol := range symbols {
		if _, ok := l.streams[symbol]; ok {
			continue
		}
		stop, err := l.venue.StreamTickers(ctx, symbol, l.onTicker, l.streamErrorHandler(symbol))
		if err != nil {
			l.logger.Error("failed to start ticker stream", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		l.streams[symbol] = stop
		l.logger.Info("ticker stream started", zap.String("symbol", symbol))
	}
	l.streamsLock.Unlock()

	if err := l.orderSync.EnsureSubscriptions(ctx); err != nil {
		l.logger.Error("failed to ensure order subscriptions", zap.Error(err))
	}
}

// streamErrorHandler 行情流出错后移除，下次刷新时重建
func (l *EngineLoop) streamErrorHandler(symbol string) func(error) {
	return func(err error) {
		l.logger.Warn("ticker stream error", zap.String("symbol", symbol), zap.Error(err))
		l.streamsLock.Lock()
		if stop, ok := l.streams[symbol]; ok {
			stop()
			delete(l.streams, symbol)
		}
		l.streamsLock.Unlock()
	}
}

// fundPaperAccounts 模拟盘下为尚未注资的机器人按初始数量注资
func (l *EngineLoop) fundPaperAccounts(ctx context.Context) error {
	funder, ok := l.venue.(exchange.Funder)
	if !ok {
		return nil
	}
	bots, err := l.ledger.BotRepo.FindEnabled(ctx)
	if err != nil {
		return err
	}
	for _, bot := range bots {
		if funder.Funded(bot.Account(), bot.BaseAsset) {
			continue
		}
		funder.Fund(bot.Account(), bot.BaseAsset, bot.StartingBaseAmount)
		l.logger.Info("paper account funded",
			zap.String("bot_id", bot.ID),
			zap.String("asset", bot.BaseAsset),
			zap.String("amount", bot.StartingBaseAmount.String()))
	}
	return nil
}

// GetStatus 获取状态信息
func (l *EngineLoop) GetStatus() EngineStatus {
	l.mu.Lock()
	status := EngineStatus{
		IsRunning:      l.isRunning,
		StartTime:      l.startTime,
		ElapsedHours:   time.Since(l.startTime).Hours(),
		PaperTrading:   l.conf.PaperTrading,
		TicksProcessed: l.ticks.Load(),
		TicksDropped:   l.dropped.Load(),
	}
	l.mu.Unlock()

	if ms := l.lastTickAt.Load(); ms > 0 {
		status.LastTickAt = time.UnixMilli(ms)
	}

	l.streamsLock.Lock()
	status.Symbols = make([]string, 0, len(l.streams))
	for symbol := range l.streams {
		status.Symbols = append(status.Symbols, symbol)
	}
	l.streamsLock.Unlock()
	sort.Strings(status.Symbols)
	return status
}

// StatusText 状态的文本形式
func (l *EngineLoop) StatusText() string {
	s := l.GetStatus()
	var b strings.Builder
	fmt.Fprintf(&b, "running: %v\n", s.IsRunning)
	fmt.Fprintf(&b, "paper trading: %v\n", s.PaperTrading)
	fmt.Fprintf(&b, "uptime: %.1fh\n", s.ElapsedHours)
	fmt.Fprintf(&b, "symbols: %s\n", strings.Join(s.Symbols, ", "))
	fmt.Fprintf(&b, "ticks: %d processed, %d dropped", s.TicksProcessed, s.TicksDropped)
	if !s.LastTickAt.IsZero() {
		fmt.Fprintf(&b, "\nlast tick: %s", s.LastTickAt.Format(time.RFC3339))
	}
	return b.String()
}
