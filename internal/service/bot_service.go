package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/dushixiang/stepbot/internal/models"
	"github.com/dushixiang/stepbot/internal/xe"
	"github.com/dushixiang/stepbot/pkg/nostd"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// BotService 机器人启停管理
type BotService struct {
	logger    *zap.Logger
	ledger    *LedgerService
	validator *nostd.CustomValidator
}

// NewBotService 创建机器人服务
func NewBotService(ledger *LedgerService, validator *nostd.CustomValidator, logger *zap.Logger) *BotService {
	return &BotService{
		logger:    logger,
		ledger:    ledger,
		validator: validator,
	}
}

// List 全部机器人
func (s *BotService) List(ctx context.Context) ([]models.Bot, error) {
	return s.ledger.BotRepo.FindAll(ctx)
}

// Get 按ID获取机器人
func (s *BotService) Get(ctx context.Context, id string) (models.Bot, error) {
	bot, err := s.ledger.BotRepo.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return bot, xe.ErrBotNotFound
	}
	return bot, err
}

// Validate 校验机器人配置
func (s *BotService) Validate(bot models.Bot) error {
	if err := s.validator.Validator.Struct(bot); err != nil {
		return fmt.Errorf("%w: %s", xe.ErrInvalidBot, s.validator.Translate(err))
	}
	return nil
}

// Enable 重新校验配置后启用，用于余额核对停用后的人工恢复
func (s *BotService) Enable(ctx context.Context, id string) (models.Bot, error) {
	bot, err := s.Get(ctx, id)
	if err != nil {
		return bot, err
	}
	if err := s.Validate(bot); err != nil {
		return bot, err
	}
	if _, err := s.ledger.BotRepo.UpdateEnabled(ctx, id, true); err != nil {
		return bot, err
	}
	bot.Enabled = true
	s.logger.Info("bot enabled", zap.String("bot_id", id))
	return bot, nil
}

// Disable 停用机器人
func (s *BotService) Disable(ctx context.Context, id string) (models.Bot, error) {
	bot, err := s.Get(ctx, id)
	if err != nil {
		return bot, err
	}
	if _, err := s.ledger.BotRepo.UpdateEnabled(ctx, id, false); err != nil {
		return bot, err
	}
	bot.Enabled = false
	s.logger.Info("bot disabled", zap.String("bot_id", id))
	return bot, nil
}
