package metrics

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	PlannerEntry    = "entry"
	PlannerExit     = "exit"
	PlannerStopLoss = "stop_loss"

	OutcomeMatched   = "matched"
	OutcomeMismatch  = "mismatch"
	OutcomeCanceled  = "canceled"
	OutcomeRecovered = "recovered" // 重试后一致
)

var (
	OrdersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepbot_orders_placed_total",
			Help: "Orders accepted by the exchange",
		},
		[]string{"planner", "side"},
	)

	OrderFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepbot_order_failures_total",
			Help: "Order placements rejected or failed",
		},
		[]string{"planner"},
	)

	BalanceChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepbot_balance_checks_total",
			Help: "Balance verifications by outcome",
		},
		[]string{"outcome"},
	)

	BotsDisabled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stepbot_bots_disabled_total",
			Help: "Bots disabled after a persistent balance mismatch",
		},
	)

	StaleOrdersSynced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stepbot_stale_orders_synced_total",
			Help: "Stale orders whose state changed after re-polling the exchange",
		},
	)
)

func init() {
	prometheus.MustRegister(OrdersPlaced, OrderFailures, BalanceChecks, BotsDisabled, StaleOrdersSynced)
}

// Side 订单方向标签
func Side(isBuy bool) string {
	if isBuy {
		return "buy"
	}
	return "sell"
}

// RegisterRoutes 暴露 /metrics
func RegisterRoutes(e *echo.Echo) {
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}
