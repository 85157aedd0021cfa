// Command migrate applies pending schema migrations to the window store
// without starting the monitor.
package main

import (
	"context"
	"fmt"
	"os"

	"iotdrone-monitor/internal/config"
	"iotdrone-monitor/internal/db"
	"iotdrone-monitor/internal/logging"
	"iotdrone-monitor/internal/migrate"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <command>\n  up  apply pending schema migrations\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, cfg, version, "migrate")

	switch os.Args[1] {
	case "up":
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	conn, err := db.Open(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "db open: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := db.Close(conn); closeErr != nil {
			logger.Error("db close", "error", closeErr)
		}
	}()

	if err := migrate.Run(context.Background(), conn, logger); err != nil {
		logger.Error("migrate failed", "error", err)
		os.Exit(1)
	}
	fmt.Println("migrations applied")
}
