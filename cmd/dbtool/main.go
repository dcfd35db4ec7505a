package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"route-decomposition-service/internal/adapters/repositories"
	"route-decomposition-service/internal/config"
	"route-decomposition-service/internal/platform/db"
	"route-decomposition-service/internal/ports"
	"strings"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (using environment variables)")
	}

	cfg, err := config.Load(config.Get("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal(err)
	}
	if strings.TrimSpace(cfg.Database.URL) == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	seedPath := config.Get("SEED_PATH", "")
	if err := initAndSeed(ctx, conn, cfg.Database.Driver, seedPath); err != nil {
		log.Fatal(err)
	}
}

// initAndSeed creates the tables and optionally stores a sample problem under
// the job id "seed".
func initAndSeed(ctx context.Context, conn *sql.DB, driver, seedPath string) error {
	log.Println("Initializing database schema...")
	if err := repositories.InitSchema(ctx, conn); err != nil {
		return fmt.Errorf("schema initialization failed: %w", err)
	}
	log.Println("Schema ready.")

	if seedPath == "" {
		return nil
	}

	log.Println("Seeding database...")
	inst, err := repositories.LoadInstanceJSON(seedPath)
	if err != nil {
		return fmt.Errorf("seeding failed: %w", err)
	}
	var repo ports.ProblemRepository
	if driver == db.DriverSQLite {
		repo = repositories.NewSqliteProblemRepository(conn)
	} else {
		repo = repositories.NewSQLProblemRepository(conn)
	}
	if err := repo.SaveProblem(ctx, "seed", inst); err != nil {
		return fmt.Errorf("seeding failed: %w", err)
	}
	log.Println("Seeding complete.")

	return nil
}
