package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"time"

	_ "github.com/lib/pq"

	"dmarcwatch/internal/config"
	"dmarcwatch/internal/dns"
	"dmarcwatch/internal/logging"
	"dmarcwatch/internal/store"
	"dmarcwatch/internal/web"
)

func main() {
	debug := flag.Bool("debug", false, "Print debug output")
	flag.Parse()

	logger := logging.New(*debug)

	conf := config.Load()
	if err := conf.ValidateWeb(); err != nil {
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

	resolver := dns.NewCachedDNSResolver(ctx, "", 1*time.Second, 10*time.Second, 1*time.Hour, logger)

	server, err := web.NewServer(st, resolver, conf.Web, logger)
	if err != nil {
		logger.Error("could not set up server", "err", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              conf.Web.ListenAddr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "err", err)
		}
	}()

	logger.Info("dashboard listening", "addr", conf.Web.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
