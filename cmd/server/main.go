package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"optcond-backend/internal/config"
	"optcond-backend/internal/logger"
	"optcond-backend/internal/server"
	"optcond-backend/internal/store"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("config loaded", "port", cfg.Server.Port, "driver", cfg.Database.Driver, "database", cfg.Database.Name)

	// 2. Connect to database
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal("failed to connect to database", "error", err)
	}
	defer db.Close()

	// 3. Bootstrap tables and the default admin
	seed := store.AdminSeed{Email: cfg.Auth.AdminEmail, Password: cfg.Auth.AdminPassword}
	if err := db.Bootstrap(ctx, seed, log); err != nil {
		log.Fatal("failed to bootstrap tables", "error", err)
	}
	log.Info("tables ready")

	// 4. Build the HTTP app
	srv, err := server.New(cfg, db, log)
	if err != nil {
		log.Fatal("failed to build server", "error", err)
	}
	defer srv.Close()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		log.Info("shutting down")
		if err := srv.App.Shutdown(); err != nil {
			log.Error("shutdown failed", "error", err)
		}
	}()

	// 5. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Info("starting server", "addr", addr)
	if err := srv.App.Listen(addr); err != nil {
		log.Error("server stopped", "error", err)
	}
}
