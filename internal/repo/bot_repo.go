package repo

import (
	"context"

	"github.com/dushixiang/stepbot/internal/models"
	"github.com/go-orz/orz"
	"gorm.io/gorm"
)

func NewBotRepo(db *gorm.DB) *BotRepo {
	return &BotRepo{
		Repository: orz.NewRepository[models.Bot, string](db),
	}
}

type BotRepo struct {
	orz.Repository[models.Bot, string]
}

// FindByID 按ID查找机器人
func (r BotRepo) FindByID(ctx context.Context, id string) (m models.Bot, err error) {
	db := r.GetDB(ctx)
	err = db.Table(r.GetTableName()).
		Where("id = ?", id).
		First(&m).Error
	return m, err
}

// FindByIDs 批量查找机器人
func (r BotRepo) FindByIDs(ctx context.Context, ids []string) ([]models.Bot, error) {
	var bots []models.Bot
	if len(ids) == 0 {
		return bots, nil
	}
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("id IN ?", ids).
		Find(&bots).Error
	return bots, err
}

// FindEnabled 查找所有启用的机器人
func (r BotRepo) FindEnabled(ctx context.Context) ([]models.Bot, error) {
	var bots []models.Bot
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("enabled = ?", true).
		Order("created_at ASC").
		Find(&bots).Error
	return bots, err
}

// FindEnabledBySymbol 查找交易对下启用的机器人
func (r BotRepo) FindEnabledBySymbol(ctx context.Context, symbol string) ([]models.Bot, error) {
	var bots []models.Bot
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("enabled = ? AND symbol = ?", true, symbol).
		Order("created_at ASC").
		Find(&bots).Error
	return bots, err
}

// FindEnabledSymbols 启用的机器人涉及的交易对
func (r BotRepo) FindEnabledSymbols(ctx context.Context) ([]string, error) {
	var symbols []string
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("enabled = ?", true).
		Distinct().
		Order("symbol").
		Pluck("symbol", &symbols).Error
	return symbols, err
}

// UpdateEnabled 启用/停用机器人
func (r BotRepo) UpdateEnabled(ctx context.Context, id string, enabled bool) (int64, error) {
	db := r.GetDB(ctx)
	tx := db.Model(&models.Bot{}).
		Where("id = ?", id).
		Update("enabled", enabled)
	return tx.RowsAffected, tx.Error
}
