package config

import (
	"runtime"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	Telegram TelegramConf `json:"telegram"`
	Binance  BinanceConf  `json:"binance"`
	Engine   EngineConf   `json:"engine"`
}

type TelegramConf struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  string `json:"chat_id"`
}

type BinanceConf struct {
	APIKey   string `json:"api_key"`
	Secret   string `json:"secret"`
	ProxyURL string `json:"proxy_url"` // 代理地址，例如: http://127.0.0.1:7890
	Testnet  bool   `json:"testnet"`   // 是否使用测试网
}

type EngineConf struct {
	PaperTrading             bool    `json:"paper_trading"`               // 使用模拟撮合，不向交易所下单
	PaperFeeRate             float64 `json:"paper_fee_rate"`              // 模拟撮合手续费率，默认0.001
	Workers                  int     `json:"workers"`                     // 并发处理机器人的协程数，默认CPU核数
	BalanceCheckCron         string  `json:"balance_check_cron"`          // 余额核对周期，默认每5分钟
	BalanceCheckAttempts     int     `json:"balance_check_attempts"`      // 余额核对最大尝试次数，默认5
	BalanceCheckDelaySeconds int     `json:"balance_check_delay_seconds"` // 两次尝试之间的等待秒数，默认5
	OrderSyncCron            string  `json:"order_sync_cron"`             // 过期订单同步周期，默认每分钟
	StaleOrderMinutes        int     `json:"stale_order_minutes"`         // 订单多久未刷新视为过期，默认10
	StreamRefreshCron        string  `json:"stream_refresh_cron"`         // 行情/订单推送订阅刷新周期，默认每分钟
}

// WithDefaults 补齐未配置的项
func (c EngineConf) WithDefaults() EngineConf {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.PaperFeeRate <= 0 {
		c.PaperFeeRate = 0.001
	}
	if c.BalanceCheckCron == "" {
		c.BalanceCheckCron = "*/5 * * * *"
	}
	if c.BalanceCheckAttempts <= 0 {
		c.BalanceCheckAttempts = 5
	}
	if c.BalanceCheckDelaySeconds <= 0 {
		c.BalanceCheckDelaySeconds = 5
	}
	if c.OrderSyncCron == "" {
		c.OrderSyncCron = "* * * * *"
	}
	if c.StaleOrderMinutes <= 0 {
		c.StaleOrderMinutes = 10
	}
	if c.StreamRefreshCron == "" {
		c.StreamRefreshCron = "@every 1m"
	}
	return c
}

func (c EngineConf) BalanceCheckDelay() time.Duration {
	return time.Duration(c.BalanceCheckDelaySeconds) * time.Second
}

func (c EngineConf) StaleOrderThreshold() time.Duration {
	return time.Duration(c.StaleOrderMinutes) * time.Minute
}

func (c EngineConf) PaperFee() decimal.Decimal {
	return decimal.NewFromFloat(c.PaperFeeRate)
}
