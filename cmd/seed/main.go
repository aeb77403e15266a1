package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	demoAccountID   = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	highRollerID    = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	startingBalance = "1000.00"
)

func main() {
	env := getEnv("SPINBANK_ENV", "dev")
	if env != "dev" && env != "test" {
		log.Fatalf("refusing to seed: SPINBANK_ENV must be 'dev' or 'test' (got '%s')", env)
	}

	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	db := getEnv("POSTGRES_DB", "spinbank")
	user := getEnv("POSTGRES_USER", "spinbank")
	password := getEnv("POSTGRES_PASSWORD", "spinbank")
	sslmode := getEnv("POSTGRES_SSLMODE", "disable")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, db, sslmode)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	fmt.Println("Seeding database...")

	if err := seedAccounts(ctx, pool); err != nil {
		log.Fatalf("seed accounts: %v", err)
	}
	fmt.Println("✓ Accounts seeded")

	if os.Getenv("SEED_TESTDATA") == "1" {
		if err := seedTestData(ctx, pool); err != nil {
			log.Fatalf("seed test data: %v", err)
		}
		fmt.Println("✓ Test data seeded")
	}

	fmt.Println("\n=== Seed Complete ===")
	fmt.Println("\nDemo Accounts:")
	fmt.Printf("  player:      %s (balance %s)\n", demoAccountID, startingBalance)
	fmt.Printf("  high roller: %s (balance %s)\n", highRollerID, startingBalance)
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func seedAccounts(ctx context.Context, pool *pgxpool.Pool) error {
	now := time.Now().UTC()

	for _, id := range []uuid.UUID{demoAccountID, highRollerID} {
		_, err := pool.Exec(ctx, `
			INSERT INTO accounts (id, balance, active, version, created_at, updated_at)
			VALUES ($1, $2, TRUE, 1, $3, $3)
			ON CONFLICT (id) DO UPDATE
			SET balance = EXCLUDED.balance,
			    active = TRUE,
			    version = accounts.version + 1,
			    updated_at = EXCLUDED.updated_at
		`, id, startingBalance, now)
		if err != nil {
			return err
		}
	}

	return nil
}
