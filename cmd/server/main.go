package main

import (
	"context"
	"log"

	"github.com/cipherdrop/cipherdrop/internal/server"
	"github.com/cipherdrop/cipherdrop/internal/server/config"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("init error: %v", err)
	}

	app.Run(ctx)
}
