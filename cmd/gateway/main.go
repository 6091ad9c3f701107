package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"form-gateway/internal/app"
	"form-gateway/internal/config"
	"form-gateway/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// sem config ainda não há nível/formato; usa o padrão
		logger.New("info", "json").WithError(err).Fatal("config error")
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	gw, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}
	if err := gw.Run(ctx); err != nil {
		log.WithError(err).Error("gateway stopped with error")
		os.Exit(1)
	}
	log.Info("gateway stopped")
}
