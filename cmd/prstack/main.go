package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prstack/prstack/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.NewRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
