package service

import (
	"time"

	"github.com/dushixiang/stepbot/internal/models"
	"github.com/valyala/fasttemplate"
	"go.uber.org/zap"
)

const botDisabledTemplate = `[stepbot] bot {{name}} ({{bot_id}}) disabled
symbol: {{symbol}}
expected {{asset}}: {{expected}}
actual {{asset}}: {{actual}}
reason: {{reason}}
time: {{time}}`

// Sender 消息通道
type Sender interface {
	Notify(msg string) error
}

// NotifyService 运维通知，发送失败只记录日志
type NotifyService struct {
	logger *zap.Logger
	sender Sender
	tmpl   *fasttemplate.Template
}

// NewNotifyService sender 为 nil 时不发送
func NewNotifyService(sender Sender, logger *zap.Logger) *NotifyService {
	return &NotifyService{
		logger: logger,
		sender: sender,
		tmpl:   fasttemplate.New(botDisabledTemplate, "{{", "}}"),
	}
}

// BotDisabled 余额核对失败导致机器人停用
func (s *NotifyService) BotDisabled(bot models.Bot, mismatch BalanceMismatch) {
	msg := s.RenderBotDisabled(bot, mismatch)
	s.logger.Warn("bot disabled", zap.String("bot_id", bot.ID), zap.String("notification", msg))

	if s.sender == nil {
		return
	}
	if err := s.sender.Notify(msg); err != nil {
		s.logger.Error("failed to send notification", zap.String("bot_id", bot.ID), zap.Error(err))
	}
}

// RenderBotDisabled 渲染停用通知
func (s *NotifyService) RenderBotDisabled(bot models.Bot, mismatch BalanceMismatch) string {
	reason := "balance mismatch"
	if mismatch.Err != nil {
		reason = mismatch.Err.Error()
	}
	return s.tmpl.ExecuteString(map[string]interface{}{
		"name":     bot.Name,
		"bot_id":   bot.ID,
		"symbol":   bot.Symbol,
		"asset":    bot.BaseAsset,
		"expected": mismatch.Expected.String(),
		"actual":   mismatch.Actual.String(),
		"reason":   reason,
		"time":     time.Now().Format(time.RFC3339),
	})
}
