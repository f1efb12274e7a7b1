package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/markdave123-py/lexkb/internal/app"
	"github.com/markdave123-py/lexkb/internal/config"
	"github.com/markdave123-py/lexkb/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.New("main")

	application, err := app.NewApp(ctx, cfg)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	log.Info("lexkb is running", "port", cfg.Port)
	if err := application.Run(ctx); err != nil {
		log.Error("server stopped with error", "error", err)
		return
	}
	log.Info("shut down cleanly")
}
