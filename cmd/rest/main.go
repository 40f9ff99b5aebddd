package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"brokerage-client/internal/bootstrap"
	"brokerage-client/internal/config"
	"brokerage-client/internal/server"
	"brokerage-client/internal/tracer"
	"brokerage-client/pkg/database"

	"gorm.io/gorm"
)

func main() {
	// 1. Load Configuration (.env included)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// 2. Initialize Tracer
	shutdownTracer := tracer.InitTracer("brokerage-client-gateway", cfg.Tracing)
	defer shutdownTracer(context.Background())

	// 3. Optional direct database access
	var gormDB *gorm.DB
	if cfg.Backend.DBDSN != "" {
		gormDB, err = database.NewGormDBFromDSN(cfg.Backend.DBDSN, !cfg.IsProduction())
		if err != nil {
			log.Panicf("Unable to connect to GORM DB: %v", err)
		}
	}

	// 4. Bootstrap Dependencies (Container)
	container := bootstrap.NewContainer(gormDB, cfg)
	defer container.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. Start Background Services
	if err := container.Start(ctx); err != nil {
		log.Fatalf("Unable to start background services: %v", err)
	}

	// 6. Initialize Server
	srv := server.New(cfg, container)

	go func() {
		<-ctx.Done()
		log.Println("Shutting down...")
		_ = srv.Shutdown()
	}()

	// 7. Run Server
	if err := srv.Run(); err != nil {
		log.Printf("Server stopped: %v", err)
	}
}
