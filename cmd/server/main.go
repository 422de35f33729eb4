// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Corphon/AdScriptStudio/internal/app"
	"github.com/Corphon/AdScriptStudio/internal/config"
)

func main() {
	baseConfig, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := config.InitConfig(baseConfig.DataDir); err != nil {
		log.Fatalf("init config: %v", err)
	}
	cfg := config.GetCurrentConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := app.New(cfg)
	if err := server.Initialize(ctx); err != nil {
		if errors.Is(err, app.ErrAlreadyRunning) {
			log.Printf("%v: %s", err, cfg.DataDir)
			os.Exit(2)
		}
		log.Fatalf("initialize: %v", err)
	}

	log.Printf("AdScript server on http://localhost:%s", cfg.Port)
	runErr := server.Run(ctx)
	if err := server.Close(); err != nil {
		log.Printf("close: %v", err)
	}
	if runErr != nil {
		log.Fatalf("server stopped: %v", runErr)
	}
	log.Println("server stopped")
}
