// Package api exposes the subscriber endpoint: decoded record batches
// streamed over WebSocket, plus a health probe.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"nsefeed/internal/bus"
)

// Server is the HTTP listener hosting /ws and /healthz.
type Server struct {
	addr string
	bus  *bus.Bus
	log  *slog.Logger

	httpServer *http.Server
}

// NewServer creates a server bound to addr.
func NewServer(addr string, b *bus.Bus, log *slog.Logger) *Server {
	s := &Server{addr: addr, bus: b, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWS)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("subscriber endpoint listening", "addr", s.addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
