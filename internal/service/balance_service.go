package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dushixiang/stepbot/internal/config"
	"github.com/dushixiang/stepbot/internal/metrics"
	"github.com/dushixiang/stepbot/internal/models"
	"github.com/dushixiang/stepbot/pkg/exchange"
	"github.com/dushixiang/stepbot/pkg/result"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrBalanceMismatch = errors.New("balance mismatch")

// BalanceMismatch 最后一次核对的结果
type BalanceMismatch struct {
	Expected decimal.Decimal
	Actual   decimal.Decimal
	Err      error
}

// BalanceService 余额核对：账本推算的持仓与交易所余额持续不一致时停用机器人
type BalanceService struct {
	logger   *zap.Logger
	conf     config.EngineConf
	ledger   *LedgerService
	gateway  exchange.Gateway
	notifier *NotifyService

	delay time.Duration // 两次尝试之间的等待
}

// NewBalanceService 创建余额核对服务
func NewBalanceService(conf *config.Config, ledger *LedgerService, gateway exchange.Gateway, notifier *NotifyService, logger *zap.Logger) *BalanceService {
	return &BalanceService{
		logger:   logger,
		conf:     conf.Engine.WithDefaults(),
		ledger:   ledger,
		gateway:  gateway,
		notifier: notifier,
		delay:    conf.Engine.WithDefaults().BalanceCheckDelay(),
	}
}

// VerifyAll 并发核对所有启用的机器人
func (s *BalanceService) VerifyAll(ctx context.Context) (result.Result[result.Empty], error) {
	bots, err := s.ledger.BotRepo.FindEnabled(ctx)
	if err != nil {
		return result.Result[result.Empty]{}, fmt.Errorf("load enabled bots: %w", err)
	}

	var failures result.Collector
	err = forEachBot(ctx, s.conf.Workers, bots, func(ctx context.Context, bot models.Bot) {
		if err := s.Verify(ctx, bot); err != nil && ctx.Err() == nil {
			failures.Add("bot %s: %v", bot.ID, err)
		}
	})
	if err != nil {
		return result.Result[result.Empty]{}, err
	}
	return result.Collect(&failures, result.Empty{}), nil
}

// Verify 核对单个机器人，重试耗尽仍不一致时停用
// 取消时直接返回 ctx.Err()，不会停用机器人
func (s *BalanceService) Verify(ctx context.Context, bot models.Bot) error {
	attempts := s.conf.BalanceCheckAttempts
	delay := s.delay
	logger := s.logger.With(zap.String("bot_id", bot.ID), zap.String("asset", bot.BaseAsset))

	var last BalanceMismatch
	for attempt := 1; attempt <= attempts; attempt++ {
		expected, actual, err := s.check(ctx, bot)
		if ctx.Err() != nil {
			metrics.BalanceChecks.WithLabelValues(metrics.OutcomeCanceled).Inc()
			return ctx.Err()
		}
		if err == nil && actual.Equal(expected) {
			outcome := metrics.OutcomeMatched
			if attempt > 1 {
				outcome = metrics.OutcomeRecovered
			}
			metrics.BalanceChecks.WithLabelValues(outcome).Inc()
			logger.Debug("balance verified", zap.Int("attempt", attempt), zap.String("balance", actual.String()))
			return nil
		}

		last = BalanceMismatch{Expected: expected, Actual: actual, Err: err}
		if attempt == attempts {
			break
		}
		logger.Warn("balance check failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.String("expected", expected.String()),
			zap.String("actual", actual.String()),
			zap.Error(err))

		select {
		case <-ctx.Done():
			metrics.BalanceChecks.WithLabelValues(metrics.OutcomeCanceled).Inc()
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	metrics.BalanceChecks.WithLabelValues(metrics.OutcomeMismatch).Inc()
	// 停用必须落库，不受调用方取消影响
	if _, err := s.ledger.BotRepo.UpdateEnabled(context.WithoutCancel(ctx), bot.ID, false); err != nil {
		logger.Error("failed to disable bot", zap.Error(err))
		return fmt.Errorf("%w after %d attempts, disable failed: %v", ErrBalanceMismatch, attempts, err)
	}
	metrics.BotsDisabled.Inc()
	logger.Error("bot disabled after balance mismatch",
		zap.Int("attempts", attempts),
		zap.String("expected", last.Expected.String()),
		zap.String("actual", last.Actual.String()),
		zap.Error(last.Err))
	if s.notifier != nil {
		s.notifier.BotDisabled(bot, last)
	}

	if last.Err != nil {
		return fmt.Errorf("%w after %d attempts: %v", ErrBalanceMismatch, attempts, last.Err)
	}
	return fmt.Errorf("%w after %d attempts: expected %s %s, actual %s",
		ErrBalanceMismatch, attempts, last.Expected, bot.BaseAsset, last.Actual)
}

func (s *BalanceService) check(ctx context.Context, bot models.Bot) (expected, actual decimal.Decimal, err error) {
	expected, err = s.ExpectedBalance(ctx, bot)
	if err != nil {
		return expected, actual, err
	}
	actual, err = s.gateway.GetBalance(ctx, bot.Account(), bot.BaseAsset)
	if err != nil {
		return expected, actual, fmt.Errorf("get balance: %w", err)
	}
	return expected, actual, nil
}

// ExpectedBalance 账本推算的基础资产余额
func (s *BalanceService) ExpectedBalance(ctx context.Context, bot models.Bot) (decimal.Decimal, error) {
	trades, err := s.ledger.TradeRepo.FindByBotID(ctx, bot.ID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load trades: %w", err)
	}
	return ExpectedBalance(bot, trades), nil
}

// ExpectedBalance 初始数量加上账本中每个订单对基础资产的影响
// 在“初始数量 + 未平仓交易带符号成交量”的基础上计入以基础资产扣除的手续费
// 共享的合并平仓单只计一次；已平仓交易的开仓与平仓相互抵消，只留下取整余量
func ExpectedBalance(bot models.Bot, trades []models.Trade) decimal.Decimal {
	expected := bot.StartingBaseAmount
	seen := make(map[string]struct{})
	for _, t := range trades {
		if t.EntryOrder != nil {
			expected = expected.Add(t.EntryOrder.BaseDelta())
		}
		if t.ExitOrder == nil {
			continue
		}
		if _, ok := seen[t.ExitOrder.ID]; ok {
			continue
		}
		seen[t.ExitOrder.ID] = struct{}{}
		expected = expected.Add(t.ExitOrder.BaseDelta())
	}
	return expected
}
