// Command threatfeed aggregates cybersecurity news feeds into a local
// database and serves them over an HTTP API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"threatfeed/internal/analysis"
	"threatfeed/internal/config"
	"threatfeed/internal/database"
	"threatfeed/internal/feed"
	"threatfeed/internal/server"
)

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Fatal("exiting")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	log.WithField("driver", store.DatabaseType()).Info("storage ready")

	analyzer := analysis.New(analysis.DefaultConfig())
	processor := feed.NewProcessor(store, analyzer, log.WithField("component", "processor"))
	fetcher := feed.NewFetcher(store, processor, cfg.UserAgent, cfg.FetchTimeout, log.WithField("component", "fetcher"))
	service := feed.NewService(store, fetcher, cfg.BatchSize, cfg.BatchDelay, log.WithField("component", "sync"))

	poller := feed.NewPoller(service, cfg.SyncInterval, log.WithField("component", "poller"))
	poller.Start()

	srv := server.New(store, service, cfg, log.WithField("component", "http"))
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: srv.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", httpServer.Addr).Info("server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("shutting down")
	}

	if cfg.SyncInterval > 0 {
		poller.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openStore(cfg *config.Config) (database.Store, error) {
	switch cfg.DatabaseDriver {
	case "postgres":
		return database.NewPostgres(cfg.DatabaseURL)
	default:
		return database.NewSQLite(cfg.SQLitePath)
	}
}
