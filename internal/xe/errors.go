package xe

import "github.com/go-orz/orz"

var (
	ErrInvalidParams  = orz.NewError(10400, "参数无效")
	ErrBotNotFound    = orz.NewError(10404, "机器人不存在")
	ErrInvalidBot     = orz.NewError(10001, "机器人配置无效")
	ErrEngineCanceled = orz.NewError(10002, "操作已取消")
)
