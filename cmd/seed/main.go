package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/config"
	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/observ"
)

const (
	exitOK     = 0
	exitUsage  = 2
	exitConfig = 3
	exitSeed   = 4
)

func main() {
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	path := fs.String("file", "seed.yaml", "seed file with channels, targets and templates")
	dryRun := fs.Bool("dry-run", false, "parse and validate without writing")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return exitConfig
	}
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		return exitConfig
	}
	defer func() { _ = logger.Sync() }()

	data, err := os.ReadFile(*path)
	if err != nil {
		logger.Error("read seed file", zap.String("path", *path), zap.Error(err))
		return exitUsage
	}
	file, err := parse(data)
	if err != nil {
		logger.Error("invalid seed file", zap.String("path", *path), zap.Error(err))
		return exitUsage
	}
	if *dryRun {
		logger.Info("seed file valid",
			zap.Int("channels", len(file.Channels)),
			zap.Int("targets", len(file.Targets)),
			zap.Int("templates", len(file.Templates)),
		)
		return exitOK
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	database, err := db.New(ctx, db.Config{
		URL:      cfg.DatabaseURL,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		logger.Error("connect database", zap.Error(err))
		return exitConfig
	}
	defer database.Close()

	sum, err := apply(ctx, db.NewRepository(database, logger), file, logger)
	if err != nil {
		logger.Error("seed failed", zap.Error(err))
		return exitSeed
	}

	logger.Info("seed complete",
		zap.Int("channels", sum.Channels),
		zap.Int("targets", sum.Targets),
		zap.Int("templates", sum.Templates),
		zap.Int("skipped", sum.Skipped),
	)
	return exitOK
}
