package server

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// HandleSignals starts the HTTP server, blocks until SIGINT or SIGTERM,
// then shuts it down gracefully. The stop func is invoked first so the
// dispatcher can settle its in-flight executions before the listener
// closes.
func HandleSignals(srv *http.Server, shutdownTimeout time.Duration, stop func(), logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("Received shutdown signal", "signal", sig.String())
	}

	if stop != nil {
		stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Forced shutdown after timeout", "error", err)
		return err
	}
	logger.Info("Server shut down cleanly")
	return nil
}
