package service

import (
	"context"

	"github.com/dushixiang/stepbot/internal/models"
	"github.com/dushixiang/stepbot/pkg/exchange"
	"github.com/dushixiang/stepbot/pkg/result"
	"golang.org/x/sync/errgroup"
)

// TickerHandler 行情驱动的规划器
type TickerHandler interface {
	Name() string
	OnTicker(ctx context.Context, ticker exchange.Ticker) (result.Result[int], error)
}

// forEachBot 以最多 workers 个协程并发处理机器人
// fn 自行记录单个机器人的失败，返回值只反映取消
func forEachBot(ctx context.Context, workers int, bots []models.Bot, fn func(ctx context.Context, bot models.Bot)) error {
	if workers <= 0 {
		workers = 1
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for _, bot := range bots {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			fn(ctx, bot)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}
