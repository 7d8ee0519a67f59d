package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	_ "github.com/lib/pq"

	"dmarcwatch/internal/config"
	"dmarcwatch/internal/ingest"
	"dmarcwatch/internal/logging"
	"dmarcwatch/internal/store"
)

func main() {
	debug := flag.Bool("debug", false, "Print debug output")
	dbURL := flag.String("db-url", "", "Database connection string (overrides DATABASE_URL)")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] file-or-directory ...\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}

	logger := logging.New(*debug)

	conf := config.Load()
	if *dbURL != "" {
		conf.DatabaseURL = *dbURL
	}
	if err := conf.ValidateImporter(); err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	st, err := store.New("postgres", conf.DatabaseURL, logger)
	if err != nil {
		logger.Error("could not open store", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.EnsureSchema(ctx); err != nil {
		logger.Error("could not ensure schema", "err", err)
		os.Exit(1)
	}

	pipeline := ingest.NewPipeline(st, logger)
	total, err := pipeline.ImportPaths(ctx, flag.Args())
	if err != nil {
		logger.Error("import failed", "err", err)
		os.Exit(1)
	}

	logger.Info("import finished", "inserted", total)
}
