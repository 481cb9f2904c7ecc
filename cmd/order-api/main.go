package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aq2208/gorder-fulfillment/cmd/order-api/app"
	"github.com/aq2208/gorder-fulfillment/configs"
	"github.com/aq2208/gorder-fulfillment/internal/logging"
)

func main() {
	env := os.Getenv("APP_ENV") // dev | staging | prod
	if env == "" {
		env = "dev"
	}

	cfg, err := configs.Load("configs", env)
	if err != nil {
		log.Fatal(err)
	}
	logger := logging.Init(cfg.App.Name, cfg.App.LogFile, cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.InitWithConfig(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}

	logger.Info("fulfillment starting", "env", env, "storage", cfg.App.Storage)
	err = a.Run(ctx)
	a.Close()
	if err != nil {
		logger.Error("fulfillment stopped", "err", err)
		os.Exit(1)
	}
}
