package internal

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dushixiang/stepbot/internal/config"
	"github.com/dushixiang/stepbot/internal/handler"
	"github.com/dushixiang/stepbot/internal/metrics"
	"github.com/dushixiang/stepbot/internal/models"
	"github.com/dushixiang/stepbot/internal/service"
	"github.com/dushixiang/stepbot/internal/telegram"
	"github.com/dushixiang/stepbot/pkg/nostd"
	"github.com/go-orz/orz"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

func Run(configPath string) error {
	app := NewStepbotApp()

	framework, err := orz.NewFramework(
		orz.WithConfig(configPath),
		orz.WithLoggerFromConfig(),
		orz.WithDatabase(),
		orz.WithHTTP(),
		orz.WithApplication(app),
	)
	if err != nil {
		return err
	}

	return framework.Run()
}

func NewStepbotApp() orz.Application {
	return &StepbotApp{}
}

var _ orz.Application = (*StepbotApp)(nil)

type AppComponents struct {
	EngineHandler *handler.EngineHandler

	EngineLoop *service.EngineLoop
	Validator  *nostd.CustomValidator

	tg *telegram.Telegram
}

type StepbotApp struct {
	components *AppComponents
	conf       *config.Config
}

// GetComponents 获取应用组件
func (r *StepbotApp) GetComponents() *AppComponents {
	return r.components
}

func (r *StepbotApp) Configure(app *orz.App) error {
	logger := app.Logger()
	e := app.GetEcho()
	db := app.GetDatabase()

	var conf config.Config
	err := app.GetConfig().App.Unmarshal(&conf)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config: %v", err)
	}

	if err := db.AutoMigrate(
		models.Bot{}, models.Order{}, models.Trade{},
	); err != nil {
		logger.Fatal("database auto migrate failed", zap.Error(err))
	}

	components, err := InitializeApp(logger, db, &conf)
	if err != nil {
		return fmt.Errorf("failed to initialize app: %v", err)
	}
	r.components = components
	r.conf = &conf

	if err := r.Init(logger); err != nil {
		logger.Fatal("app init failed", zap.Error(err))
	}

	e.HidePort = true
	e.HideBanner = true

	e.Use(middleware.Gzip())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		Skipper:      middleware.DefaultSkipper,
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost},
	}))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			sugar := logger.Sugar()
			sugar.Error(fmt.Sprintf("[PANIC RECOVER] %v %s\n", err, stack))
			return err
		},
	}))
	e.Use(WithErrorHandler(logger))
	e.Validator = r.components.Validator

	metrics.RegisterRoutes(e)

	api := e.Group("/api")
	{
		r.components.EngineHandler.RegisterRoutes(api)
	}

	return nil
}

func (r *StepbotApp) Init(logger *zap.Logger) error {
	logger.Info("=================================================")
	logger.Info("Stepbot Engine Starting...")
	logger.Info("=================================================")

	components := r.GetComponents()
	if components == nil {
		return fmt.Errorf("components not initialized")
	}

	if components.tg != nil {
		components.tg.HandleStatus(components.EngineLoop.StatusText)
		components.tg.Start()
	}

	go func() {
		if err := components.EngineLoop.Start(context.Background()); err != nil {
			logger.Error("engine loop error", zap.Error(err))
		}
	}()
	return nil
}
