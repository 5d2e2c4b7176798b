package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "listen address")
	dbPath := flag.String("db", "chatsync-backend.db", "sqlite database path")
	heartbeat := flag.Duration("heartbeat", backend.DefaultHeartbeat, "presence heartbeat interval")
	pageSize := flag.Int("page-size", 50, "messages per history page")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	logger, err := logging.New("", "backend", logging.ParseLevel(*logLevel))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(*addr, *dbPath, backend.Options{Heartbeat: *heartbeat, MessagePageSize: *pageSize}, logger); err != nil {
		logger.Error("backend failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(addr, dbPath string, opts backend.Options, logger *zap.Logger) error {
	db, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	result, err := db.Migrate()
	if err != nil {
		return err
	}
	logger.Info("store initialized", zap.String("path", db.Path()), zap.Uint("version", result.Version))

	srv := backend.New(db, opts, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(addr) }()

	select {
	case err := <-errCh:
		srv.Close()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
