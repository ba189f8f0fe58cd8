package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/omochice/tine/internal/logger"
	"github.com/omochice/tine/internal/transport/ws"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:3000", "Address to listen on (e.g., 127.0.0.1:3000)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	l, err := logger.New(logger.Config{Level: *logLevel})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer l.Sync()

	srv := ws.NewServer(*addr, ws.EchoHandler(l), l)
	if err := srv.Start(); err != nil {
		l.Fatal("Server error", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	l.Info("Shutting down", zap.Stringer("signal", sig))
	srv.Stop()

	l.Info("Echo server stopped")
}
