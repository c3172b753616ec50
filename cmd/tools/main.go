package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Errorf("failed to set up logger: %w", err))
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "check-definitions":
		if err := runCheckDefinitions(os.Args[2:], os.Stdout); err != nil {
			sugar.Fatalf("check-definitions: %v", err)
		}
	case "init-db":
		if err := runInitDB(os.Args[2:], os.Stdout); err != nil {
			sugar.Fatalf("init-db: %v", err)
		}
	case "archive":
		if err := runArchive(os.Args[2:], os.Stdout); err != nil {
			sugar.Fatalf("archive: %v", err)
		}
	default:
		sugar.Errorf("unknown command %q", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	logger := zap.S()
	logger.Info("Usage: ingest-tools <command> [options]")
	logger.Info("")
	logger.Info("Commands:")
	logger.Info("  check-definitions   Validate table definition files and print their layout")
	logger.Info("  init-db             Create provider stores, tables and indexes from a definitions directory")
	logger.Info("  archive             Upload provider store files under the data directory to S3")
}
