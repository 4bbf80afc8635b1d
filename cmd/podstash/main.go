package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"podstash/internal/app"
	"podstash/internal/config"
	"podstash/internal/logging"
	"podstash/internal/repl"
	"podstash/internal/storage"
)

func main() {
	importOPML := flag.String("import-opml", "", "import subscriptions from an OPML file and exit")
	exportOPML := flag.String("export-opml", "", "export subscriptions to an OPML file and exit")
	refresh := flag.Bool("refresh", false, "refresh all subscriptions and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	baseDir := os.Getenv("PODSTASH_HOME")
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("failed to resolve home directory: %v", err)
		}
		baseDir = filepath.Join(home, ".podstash")
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		log.Fatalf("failed to create config directory: %v", err)
	}

	if err := godotenv.Load(filepath.Join(baseDir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("failed to read .env: %v", err)
	}

	logging.Configure(filepath.Join(baseDir, "podstash.log"), os.Getenv("PODSTASH_LOG_LEVEL"))

	configPath := filepath.Join(baseDir, "config.yaml")
	cfg, err := config.Ensure(ctx, configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if os.Getenv("PODSTASH_LOG_LEVEL") == "" {
		logging.SetLevel(cfg.LogLevel)
	}

	db, err := storage.Open(filepath.Join(baseDir, "app.db"))
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}

	application := app.New(cfg, configPath, db)
	defer application.Close()

	if err := application.Initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *importOPML != "" && *exportOPML != "" {
		fmt.Fprintln(os.Stderr, "error: --import-opml and --export-opml cannot be used together")
		os.Exit(1)
	}

	switch {
	case *exportOPML != "":
		count, err := application.ExportOPML(ctx, *exportOPML)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error exporting OPML: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stdout, "Exported %d subscriptions to %s.\n", count, *exportOPML)
	case *importOPML != "":
		result, err := application.ImportOPML(ctx, *importOPML)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error importing OPML: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stdout, "Imported %d subscriptions, skipped %d already subscribed.\n", result.Imported, result.Skipped)
		if len(result.Errors) > 0 {
			fmt.Fprintln(os.Stdout, "Errors encountered:")
			for _, msg := range result.Errors {
				fmt.Fprintf(os.Stdout, "  %s\n", msg)
			}
		}
	case *refresh:
		result, err := application.RefreshAll(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error refreshing: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintln(os.Stdout, result.Message)
	default:
		if err := repl.Run(ctx, application); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}
}
