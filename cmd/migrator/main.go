package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"

	"github.com/lalithlochan/beacon/migrations"
)

const (
	exitOK      = 0
	exitUsage   = 2
	exitConfig  = 3
	exitMigrate = 4
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	_ = godotenv.Load()

	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	subcmd := "up"
	if len(args) > 0 {
		subcmd = args[0]
	}
	switch subcmd {
	case "up", "down", "status":
	case "help", "-h", "--help":
		printHelp()
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown migrate subcommand: %s\n", subcmd)
		printHelp()
		return exitUsage
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		return exitConfig
	}

	start := time.Now()
	if err := migrate(subcmd, databaseURL); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s failed: %v\n", subcmd, err)
		return exitMigrate
	}
	log.Printf("migrate %s complete in %s", subcmd, time.Since(start).Round(time.Millisecond))
	return exitOK
}

func migrate(subcmd, databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	switch subcmd {
	case "up":
		return goose.Up(db, ".")
	case "down":
		return goose.Down(db, ".")
	case "status":
		return goose.Status(db, ".")
	default:
		return fmt.Errorf("unsupported migrate subcommand %q", subcmd)
	}
}

func printHelp() {
	fmt.Println("Usage:")
	fmt.Println("  migrator           Apply all pending migrations")
	fmt.Println("  migrator up        Apply all pending migrations")
	fmt.Println("  migrator down      Roll back one migration")
	fmt.Println("  migrator status    Show migration status")
}
