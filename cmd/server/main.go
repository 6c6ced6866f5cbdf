package main

import (
	"context"
	"log"

	"go.uber.org/zap"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/config"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := logger.Init(cfg.Logs.Style, logger.LogLevel(cfg.Logs.Level)); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Get().Sync()

	if err := app.Init(context.Background(), cfg); err != nil {
		logger.Get().Fatal("failed to initialize integrations", zap.Error(err))
	}
	app.MustInitDB()

	router, err := app.NewRouter()
	if err != nil {
		logger.Get().Fatal("failed to initialize router", zap.Error(err))
	}
	addr := "0.0.0.0:" + cfg.Server.Port
	logger.Get().Info("listening", zap.String("addr", addr))
	if err := router.Run(addr); err != nil {
		logger.Get().Fatal("server stopped", zap.Error(err))
	}
}
