// Database migration CLI tool
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/stratalloc/internal/config"
	"github.com/ajitpratap0/stratalloc/internal/db"
)

func main() {
	command := flag.String("command", "migrate", "Command to run: migrate or status")
	dbURL := flag.String("db", "", "Database connection URL (defaults to the configured database)")
	configPath := flag.String("config", "", "Path to config file")
	migrationsDir := flag.String("migrations", "migrations", "Path to migrations directory")
	flag.Parse()

	_ = godotenv.Load()
	config.InitLogger("info", "console")

	if *dbURL == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
		*dbURL = cfg.Database.GetDSN()
	}

	ctx := context.Background()

	database, err := db.Open(ctx, *dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to close database connection: %v\n", err)
		}
	}()

	migrator := db.NewMigrator(database, *migrationsDir)

	switch *command {
	case "migrate":
		applied, err := migrator.Migrate(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
			os.Exit(1)
		}
		version, _ := migrator.CurrentVersion(ctx)
		log.Info().Int("applied", applied).Int("version", version).Msg("Migration complete")
	case "status":
		statuses, err := migrator.Status(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status check failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("VERSION | STATUS  | DESCRIPTION")
		fmt.Println("--------|---------|-----------------------------------")
		for _, s := range statuses {
			status := "pending"
			if s.Applied {
				status = "applied"
			}
			fmt.Printf("%-7d | %-7s | %s\n", s.Version, status, s.Description)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", *command)
		fmt.Fprintf(os.Stderr, "Usage: migrate -command=[migrate|status]\n")
		os.Exit(1)
	}
}
