package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/canopy-network/ingestx/app/ingestor"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// .env is optional; real environment variables take precedence.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := ingestor.Initialize(ctx)

	if err := ingestor.NewServer(app); err != nil {
		app.Logger.Fatal("Unable to initialize server", zap.Error(err))
	}

	if err := app.Start(ctx); err != nil {
		app.Logger.Fatal("Ingestor stopped with error", zap.Error(err))
	}
}
