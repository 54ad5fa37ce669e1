package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/heatcheck/internal/config"
	"github.com/heatcheck/internal/logging"
	"github.com/heatcheck/internal/web"
)

func main() {
	// Load configuration from heatcheck.yaml, .env and HEATCHECK_* variables
	cfg, err := config.Load(os.Getenv("HEATCHECK_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	fmt.Println("=== Heatcheck Web API ===")
	fmt.Printf("Server: http://%s\n", cfg.Server.Addr())
	fmt.Printf("Cache: %s\n", cfg.Cache.Backend)
	if cfg.Database.URL != "" {
		fmt.Printf("Review queue: %s\n", cfg.Database.ReviewTable)
	}

	ctx := context.Background()
	server, err := web.NewServer(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if err := server.Start(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
