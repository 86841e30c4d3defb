package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/session"
)

// runGateway is the "gateway" mode (6): it builds the same core runtime as
// bot mode and runs its scheduler, but reads no Host Protocol events; the
// HTTP server on GATEWAY_PORT serves only a /healthz endpoint, so no
// session or client event is reachable over the network. Channel adapters (Discord/Telegram/...) and the browser-facing
// multi-client gateway the teacher ships are out of scope here — §1's
// Non-goals exclude distributed execution and multi-tenant isolation
// beyond per-workspace confinement, which is what that surface serves.
func runGateway(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, func(sessionID string, msg session.StreamMessage) {})
	if err != nil {
		return err
	}
	rt.scheduler.Start(ctx)
	defer rt.scheduler.Stop()

	port := os.Getenv("GATEWAY_PORT")
	if port == "" {
		port = "8080"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: ":" + port, Handler: mux}

	rt.logger.Info("gateway starting", "port", port)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}
