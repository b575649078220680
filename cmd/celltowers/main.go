package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/canopy-network/celltowers/app/celltowers"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	defer cancel()

	app := celltowers.Initialize(ctx)

	app.Start(ctx)
}
