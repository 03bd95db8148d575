// Command wirechatd runs the WireChat reference daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/wirechat/wirechat-go/server"
	"github.com/wirechat/wirechat-go/server/sqlstore"
)

var configPath = flag.String("config", "wirechatd.yaml", "path to the YAML config file")

func main() {
	flag.Parse()

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wirechatd: %v\n", err)
		os.Exit(1)
	}
	log := cfg.Logger()

	store, err := sqlstore.New(cfg.DBPath)
	if err != nil {
		log.Error("failed to open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, store, log)
	if err := srv.Run(ctx); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
