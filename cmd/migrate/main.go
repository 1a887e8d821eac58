package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/dorofeevb1/sodrugestvobot/internal/config"
	"github.com/dorofeevb1/sodrugestvobot/internal/database"
	"github.com/dorofeevb1/sodrugestvobot/internal/logger"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [up|down|status|reset]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cmd := database.MigrateUp
	if flag.NArg() > 0 {
		cmd = database.MigrateCommand(flag.Arg(0))
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	if err := database.RunMigrations(context.Background(), cfg.Database.Postgres().DSN(), cmd, log); err != nil {
		log.Error("migration failed", "command", cmd, "error", err)
		os.Exit(1)
	}

	log.Info("migrations completed successfully", "command", cmd)
}
