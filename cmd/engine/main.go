package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowgraph-go/internal/execution/server"
	"github.com/flowgraph-go/pkg/config"
	"github.com/flowgraph-go/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (defaults to configs/engine.yaml)")
	flag.Parse()

	// Load configuration
	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load("engine")
	}
	if err != nil {
		panic(err)
	}

	// Initialize logger
	log := logger.New(cfg.Logger.ToLoggerConfig())

	// Create and start server
	srv, err := server.New(context.Background(), cfg, log)
	if err != nil {
		log.Fatal("Failed to create server", "error", err)
	}

	go func() {
		log.Info("Starting workflow engine", "port", cfg.Server.Port)
		if err := srv.Start(); err != nil {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down workflow engine...")

	timeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Workflow engine exited")
}
