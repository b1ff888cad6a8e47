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

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/qontinui/treeline/internal/config"
	"github.com/qontinui/treeline/internal/hub"
	"github.com/qontinui/treeline/internal/ledger"
	"github.com/qontinui/treeline/internal/metadata"
	"github.com/qontinui/treeline/internal/service"
	v1 "github.com/qontinui/treeline/internal/transport/http/v1"
	"github.com/qontinui/treeline/internal/transport/ws"
	"github.com/qontinui/treeline/policy"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Printf("Starting treeline...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("Definitions dir: %s", cfg.DefinitionsDir)
	log.Printf("Gap timeout: %s", cfg.GapTimeout)

	// Initialize ledger
	store, err := ledger.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize ledger: %v", err)
	}
	defer store.Close()

	// Initialize workflow definition registry + watcher
	registry := metadata.NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher, err := metadata.NewWatcher(registry, cfg.DefinitionsDir)
	if err != nil {
		log.Fatalf("Failed to create definition watcher: %v", err)
	}
	if err := watcher.Start(ctx); err != nil {
		log.Printf("Definition watching disabled: %v", err)
	} else {
		defer watcher.Stop()
	}

	// Initialize ingest admission policy
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize live stream hub
	streamHub := hub.NewHub()
	go streamHub.Run()

	// Initialize service
	svc := service.New(store, registry, policyEngine, streamHub, cfg)

	// Initialize handlers
	h := v1.NewHandler(svc)
	wsServer := ws.NewServer(streamHub)

	// Create Echo server
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Register routes
	h.RegisterRoutes(e)
	wsServer.RegisterRoutes(e)

	// Start server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("API started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down treeline...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Shutdown complete")
}
