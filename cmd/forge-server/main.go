package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"atlasforge/internal/config"
	"atlasforge/internal/forge"
	"atlasforge/internal/httpapi"
	"atlasforge/internal/indicator"
	"atlasforge/internal/store"
	"atlasforge/internal/telemetry"
	"atlasforge/internal/util"
)

func main() {
	cfgPath := "config/forge.yaml"
	if p := os.Getenv("FORGE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg = config.Default()
		} else {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	prices := store.NewParquetPriceStore(cfg.Storage.PriceDir, cfg.Forge.PriceCacheSize)
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	registry := indicator.NewRegistry()
	recorder := telemetry.New()
	hub := httpapi.NewHub()
	go hub.Run()

	controller := forge.NewController(prices, db, db, registry, hub, recorder, logger)
	server := httpapi.NewServer(controller, db, db, prices, registry, hub, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Handler(),
	}

	go func() {
		logger.Info("forge-server listening", "addr", addr, "priceDir", cfg.Storage.PriceDir)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "err", err)
	}
}
