package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"ai-context-pipeline/internal/bootstrap"
	"ai-context-pipeline/internal/config"
	"ai-context-pipeline/internal/tracer"
	"ai-context-pipeline/pkg/database"
)

func main() {
	// 0. Initialize Tracer
	shutdownTracer := tracer.InitTracer()
	defer shutdownTracer(context.Background())

	// 1. Load Configuration
	cfg := config.Load()

	// 2. Initialize Database
	gormDB, err := database.NewGormDBFromDSN(cfg.Database.Connection)
	if err != nil {
		log.Panicf("Unable to connect to GORM DB: %v", err)
	}

	// 3. Bootstrap Dependencies (Container)
	container := bootstrap.NewContainer(gormDB, cfg)
	defer container.Close()

	// 4. Start Background Services
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := container.Start(ctx); err != nil {
		log.Panicf("Unable to start background services: %v", err)
	}
	log.Println("Context pipeline worker running")

	<-ctx.Done()
	log.Println("Shutting down")
}
