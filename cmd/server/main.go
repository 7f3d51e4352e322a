/*
main.go - Application entry point

STARTUP SEQUENCE:
  1. Load configuration from the environment
  2. Open the configured ledger store (sqlite, postgres, or memory)
  3. Wire engine, queries, wallet service, handler, router
  4. Start the idempotency janitor
  5. Serve HTTP with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the janitor and close the store
*/
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kwachapay/wallet-engine/api"
	"github.com/kwachapay/wallet-engine/config"
	"github.com/kwachapay/wallet-engine/ledger"
	memstore "github.com/kwachapay/wallet-engine/ledger/store"
	"github.com/kwachapay/wallet-engine/store/postgres"
	"github.com/kwachapay/wallet-engine/store/sqlite"
	"github.com/kwachapay/wallet-engine/wallet"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	store, cleanup, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open ledger store: %v", err)
	}
	defer cleanup()

	engine := ledger.NewEngine(store)
	queries := ledger.NewQueries(store)
	service := wallet.NewService(engine, queries, wallet.NewRegistry())

	handler := api.NewHandler(service)
	auth := api.NewAuthenticator(cfg.AuthSecret)
	router := api.NewRouter(handler, auth, cfg.CORSOrigins)

	janitor := ledger.NewJanitor(store)
	janitor.Interval = time.Duration(cfg.IdempotencySweepHours) * time.Hour
	janitor.Retention = time.Duration(cfg.IdempotencyRetentionHours) * time.Hour
	janitor.Start()
	defer janitor.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s (store=%s)", cfg.ServerPort, cfg.StoreDriver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// openStore returns the configured ledger.Store and a cleanup func.
func openStore(cfg config.Config) (ledger.Store, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		log.Println("Using in-memory store; state will not survive a restart")
		return memstore.NewMemory(), func() {}, nil

	case "sqlite":
		st, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { st.Close() }, nil

	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		st, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return st, func() { st.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
