// Conveyor broker - persists jobs in an embedded SQLite store and dispatches
// them to long-polling workers under an atomic claim/lease/requeue scheme.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/conveyor/pkg/api"
	"github.com/codeready-toolchain/conveyor/pkg/config"
	"github.com/codeready-toolchain/conveyor/pkg/database"
	"github.com/codeready-toolchain/conveyor/pkg/services"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
		log.Printf("Continuing with existing environment variables...")
	}

	gin.SetMode(os.Getenv("GIN_MODE"))
	cfg := config.LoadBrokerFromEnv()

	log.Printf("Starting conveyor broker")
	log.Printf("Listen address: %s", cfg.Addr())
	log.Printf("Store: %s", cfg.DBPath)

	ctx := context.Background()

	dbClient, err := database.New(ctx, cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open job store: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.Printf("Error closing store: %v", err)
		}
	}()
	log.Println("✓ Job store opened and migrated")

	jobs := services.NewJobService(dbClient.DB(), cfg.LeaseSeconds)
	server := api.NewServer(jobs, dbClient.DB(), cfg.BotToken, cfg.WorkerToken)

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()
	log.Printf("✓ Broker listening on %s", cfg.Addr())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Forced shutdown: %v", err)
	}
}
