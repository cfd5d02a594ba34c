package handler

import (
	"net/http"

	"github.com/dushixiang/stepbot/internal/service"
	"github.com/dushixiang/stepbot/internal/xe"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// EngineHandler 引擎命令接口
type EngineHandler struct {
	engineLoop       *service.EngineLoop
	botService       *service.BotService
	balanceService   *service.BalanceService
	orderSyncService *service.OrderSyncService
	logger           *zap.Logger
}

// NewEngineHandler 创建引擎处理器
func NewEngineHandler(
	engineLoop *service.EngineLoop,
	botService *service.BotService,
	balanceService *service.BalanceService,
	orderSyncService *service.OrderSyncService,
	logger *zap.Logger,
) *EngineHandler {
	return &EngineHandler{
		engineLoop:       engineLoop,
		botService:       botService,
		balanceService:   balanceService,
		orderSyncService: orderSyncService,
		logger:           logger,
	}
}

type botIDParam struct {
	ID string `param:"id" validate:"required"`
}

// ListBots 机器人列表
// GET /api/bots
func (h *EngineHandler) ListBots(c echo.Context) error {
	bots, err := h.botService.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"count": len(bots),
		"bots":  bots,
	})
}

// EnableBot 校验配置后启用机器人
// POST /api/bots/:id/enable
func (h *EngineHandler) EnableBot(c echo.Context) error {
	var param botIDParam
	if err := c.Bind(&param); err != nil {
		return xe.ErrInvalidParams
	}
	if err := c.Validate(&param); err != nil {
		return err
	}
	bot, err := h.botService.Enable(c.Request().Context(), param.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, bot)
}

// DisableBot 停用机器人
// POST /api/bots/:id/disable
func (h *EngineHandler) DisableBot(c echo.Context) error {
	var param botIDParam
	if err := c.Bind(&param); err != nil {
		return xe.ErrInvalidParams
	}
	if err := c.Validate(&param); err != nil {
		return err
	}
	bot, err := h.botService.Disable(c.Request().Context(), param.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, bot)
}

// VerifyBalances 立即执行一次余额核对
// POST /api/engine/balances/verify
func (h *EngineHandler) VerifyBalances(c echo.Context) error {
	r, err := h.balanceService.VerifyAll(c.Request().Context())
	if err != nil {
		if c.Request().Context().Err() != nil {
			h.logger.Warn("manual balance check aborted", zap.Error(err))
			return xe.ErrEngineCanceled
		}
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"succeeded": r.Succeeded(),
		"errors":    r.Errors,
	})
}

// SyncOrders 立即同步过期订单
// POST /api/engine/orders/sync
func (h *EngineHandler) SyncOrders(c echo.Context) error {
	r, err := h.orderSyncService.SyncStaleOrders(c.Request().Context())
	if err != nil {
		if c.Request().Context().Err() != nil {
			h.logger.Warn("manual order sync aborted", zap.Error(err))
			return xe.ErrEngineCanceled
		}
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"succeeded": r.Succeeded(),
		"updated":   r.Value,
		"errors":    r.Errors,
	})
}

// GetStatus 引擎状态
// GET /api/engine/status
func (h *EngineHandler) GetStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.engineLoop.GetStatus())
}

// RegisterRoutes 注册路由
func (h *EngineHandler) RegisterRoutes(g *echo.Group) {
	bots := g.Group("/bots")
	{
		bots.GET("", h.ListBots)
		bots.POST("/:id/enable", h.EnableBot)
		bots.POST("/:id/disable", h.DisableBot)
	}

	engine := g.Group("/engine")
	{
		engine.GET("/status", h.GetStatus)
		engine.POST("/balances/verify", h.VerifyBalances)
		engine.POST("/orders/sync", h.SyncOrders)
	}
}
