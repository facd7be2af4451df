// Conveyor worker - long-polls the broker for jobs, executes the command
// vocabulary (repo tools, plan scaffolds, LLM tool loop) and posts outcomes.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/conveyor/pkg/config"
	"github.com/codeready-toolchain/conveyor/pkg/worker"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
		log.Printf("Continuing with existing environment variables...")
	}

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		log.Fatalf("Invalid worker configuration: %v", err)
	}
	llmCfg := config.LoadLLMFromEnv()

	log.Printf("Starting conveyor worker")
	log.Printf("Broker: %s", cfg.BrokerURL)
	log.Printf("Worker ID: %s", cfg.WorkerID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := worker.New(cfg, llmCfg)
	runner.Start(ctx)
	log.Println("✓ Worker polling for jobs")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	cancel()
	runner.Stop()
}
