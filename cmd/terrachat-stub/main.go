// Command terrachat-stub is a self-contained development backend for the
// terrachat client: it persists threads and messages, fakes the Terraform
// generation pipeline with a scripted event sequence and exposes the same
// REST and websocket surface the production service does.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"terrachat/internal/stub"
	"terrachat/pkg/banner"
	"terrachat/pkg/config"
	"terrachat/pkg/logger"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", "", "path to YAML config file")
		addr       = flag.String("addr", "", "listen address (overrides config)")
		dbPath     = flag.String("db", "", "pebble database path (overrides config)")
	)
	flag.Parse()

	eff, err := config.LoadEffective(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	cfg := eff.Config
	if *addr != "" {
		host, port, ok := splitAddr(*addr)
		if ok {
			cfg.Stub.Address = host
			cfg.Stub.Port = port
		}
	}
	if *dbPath != "" {
		cfg.Stub.DBPath = *dbPath
	}
	if cfg.Stub.DBPath == "" {
		cfg.Stub.DBPath = "./terrachat-stub.db"
	}

	logger.InitWithLevel(cfg.Logging.Level)
	banner.PrintStub(cfg.Addr(), cfg.Stub.DBPath, eff.Source, version)

	store, err := stub.OpenStore(cfg.Stub.DBPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "store:", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := stub.NewServer(*cfg, store)

	cancelRetention, err := stub.StartRetention(ctx, cfg.Retention, store, srv.ProjectIDs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "retention:", err)
		os.Exit(1)
	}
	defer cancelRetention()

	err = srv.ListenAndServe(ctx)
	srv.Drain()
	if err != nil {
		logger.Error("stub_stopped", "error", err)
		store.Close()
		os.Exit(1)
	}
	logger.Info("stub_stopped")
}

// splitAddr parses host:port, tolerating a bare ":port".
func splitAddr(s string) (string, int, bool) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, false
	}
	return host, port, true
}
