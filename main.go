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

	"github.com/safegate/safegate/api"
	"github.com/safegate/safegate/config"
	"github.com/safegate/safegate/store"
)

func main() {
	// Load configuration
	cfg := config.Load()
	mockMode := config.MockMode()

	log.Printf("Starting safegate...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Generation URL: %s", cfg.GenerationURL)
	if cfg.SafetyURL != "" {
		log.Printf("Safety URL: %s", cfg.SafetyURL)
	} else {
		log.Printf("Safety gating disabled (no SAFETY_URL)")
	}
	if mockMode {
		log.Printf("Mock mode enabled, backends are simulated")
	}

	// Initialize transcript sink
	var sink store.Sink = store.NopSink{}
	if cfg.TranscriptDB != "" {
		sqlSink, err := store.NewSQLiteSink(cfg.TranscriptDB)
		if err != nil {
			log.Fatalf("Failed to initialize transcript store: %v", err)
		}
		defer sqlSink.Close()
		sink = sqlSink
		log.Printf("Transcript DB: %s", cfg.TranscriptDB)
	}

	// Initialize handler (prepares the gate policies)
	ctx := context.Background()
	h, err := api.NewHandler(ctx, cfg, sink, mockMode)
	if err != nil {
		log.Fatalf("Failed to initialize handler: %v", err)
	}

	// Create Echo server
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Register routes
	h.RegisterRoutes(e)

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

	log.Println("Shutting down safegate...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Shutdown complete")
}
