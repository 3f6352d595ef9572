// Command peeredit-server runs the collaborative-editing server: a single
// central rga.Replica (id 0) that every connecting client is tied to over
// a WebSocket, per spec.md §6. Generalizes the teacher's own main.go
// (http.ServeMux + signal.NotifyContext graceful shutdown).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jorendorff/peeredit/server"
)

func main() {
	addr := flag.String("addr", ":8080", "address to listen on")
	logFormat := flag.String("log-format", "text", "log output format: text|json")
	flag.Parse()

	logger, err := newLogger(*logFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	srv, err := server.New(server.WithLogger(logger))
	if err != nil {
		logger.Error("create server", "err", err)
		os.Exit(1)
	}

	httpSrv := &http.Server{
		Addr:    *addr,
		Handler: srv.Mux(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("peeredit server listening", "addr", *addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "err", err)
	}
}

func newLogger(format string) (*slog.Logger, error) {
	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, nil)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stderr, nil)), nil
	default:
		return nil, fmt.Errorf("unknown --log-format %q (want text or json)", format)
	}
}
