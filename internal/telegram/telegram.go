package telegram

import (
	"net/http"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
	"gopkg.in/telebot.v3/middleware"
)

type Settings struct {
	Token  string
	ChatID string
	Client *http.Client
}

type Telegram struct {
	logger   *zap.Logger
	settings Settings
	client   *tele.Bot
}

type Option func(telegram *Telegram)

func NewTelegram(logger *zap.Logger, settings Settings, options ...Option) (*Telegram, error) {
	poller := &tele.LongPoller{Timeout: 10 * time.Second}

	// 只响应配置的会话
	chatID := cast.ToInt64(settings.ChatID)
	filtered := tele.NewMiddlewarePoller(poller, func(u *tele.Update) bool {
		if u.Message == nil {
			return true
		}
		return chatID == 0 || u.Message.Chat.ID == chatID
	})

	client, err := tele.NewBot(tele.Settings{
		ParseMode: tele.ModeMarkdownV2,
		Token:     settings.Token,
		Poller:    filtered,
		Client:    settings.Client,
	})
	if err != nil {
		return nil, err
	}

	client.Use(middleware.AutoRespond())

	err = client.SetCommands([]tele.Command{
		{Text: "/status", Description: "查看引擎状态"},
	})
	if err != nil {
		return nil, err
	}

	bot := &Telegram{
		logger:   logger,
		settings: settings,
		client:   client,
	}

	for _, option := range options {
		option(bot)
	}

	return bot, nil
}

// HandleStatus /status 命令的回复内容
func (r *Telegram) HandleStatus(status func() string) {
	r.client.Handle("/status", func(c tele.Context) error {
		return c.Send(escapeMarkdownV2(status()))
	})
}

func (r *Telegram) Start() {
	go r.client.Start()
}

func (r *Telegram) Stop() {
	r.client.Stop()
}

// Notify 向配置的会话发送消息
func (r *Telegram) Notify(msg string) error {
	_chatId := cast.ToInt64(r.settings.ChatID)
	_, err := r.client.Send(tele.ChatID(_chatId), escapeMarkdownV2(msg), &tele.SendOptions{ParseMode: tele.ModeMarkdownV2})
	return err
}
