// Command migrate applies the cloud store schema without starting the bridge.
package main

import (
	"context"
	"fmt"
	"os"

	"cloudpico-bridge/internal/config"
	"cloudpico-bridge/internal/db"
	"cloudpico-bridge/internal/db/migrate"
	"cloudpico-bridge/internal/logging"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <command>\n  migrate  apply pending schema migrations\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg, version, "cloudpico-bridge-migrate")

	switch os.Args[1] {
	case "migrate":
		conn, err := db.Open(cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "db open: %v\n", err)
			os.Exit(1)
		}
		applied, err := migrate.Run(context.Background(), conn, logger)
		if closeErr := db.Close(conn); closeErr != nil {
			logger.Error("db close", "err", closeErr)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%d migrations applied\n", len(applied))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}
