// Command api serves the published allocations and run history without
// running optimizations.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/stratalloc/internal/api"
	"github.com/ajitpratap0/stratalloc/internal/archive"
	"github.com/ajitpratap0/stratalloc/internal/config"
	"github.com/ajitpratap0/stratalloc/internal/db"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	log.Info().Str("version", config.Version).Msg("Starting StratAlloc API server")

	if !cfg.Database.Enabled {
		log.Fatal().Msg("The API server requires database.enabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	database, err := db.New(ctx, cfg.Database.GetDSN(), cfg.Database.PoolSize)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer database.Close()

	apiCfg := api.Config{
		Host:           cfg.API.Host,
		Port:           cfg.API.Port,
		Allocations:    db.NewAllocationRepository(database),
		Runs:           db.NewRunRepository(database),
		Health:         database.Health,
		RequestsPerSec: cfg.API.RequestsPerSec,
		Burst:          cfg.API.Burst,
	}

	if cfg.Archive.Enabled {
		store, err := archive.Connect(ctx, cfg.Archive.URI, cfg.Archive.Database, cfg.Archive.Collection)
		if err != nil {
			log.Error().Err(err).Msg("Failed to connect to archive, window history disabled")
		} else {
			apiCfg.Archive = store
			defer func() { _ = store.Close(context.Background()) }()
		}
	}

	server := api.NewServer(apiCfg)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	}

	log.Info().Msg("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Server stopped")
}
