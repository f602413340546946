package web

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Server holds the HTTP server and its handlers.
type Server struct {
	mux           *http.ServeMux
	turnHandler   *TurnHandler
	healthHandler *HealthHandler
}

// NewServer creates a web server over the given handlers.
func NewServer(turnHandler *TurnHandler, healthInfo HealthInfo) *Server {
	s := &Server{
		mux:           http.NewServeMux(),
		turnHandler:   turnHandler,
		healthHandler: NewHealthHandler(healthInfo),
	}
	s.registerRoutes()
	return s
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/api/turn", s.turnHandler.HandleTurn)
	s.mux.HandleFunc("/api/turn/abort", s.turnHandler.HandleAbort)
	s.mux.HandleFunc("/api/health", s.healthHandler.ServeHTTP)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start begins listening on the configured port with graceful shutdown.
// On SIGINT/SIGTERM it waits up to 10s for in-flight requests, ensuring
// deferred cleanup (transport shutdown) runs reliably.
func (s *Server) Start() error {
	port := os.Getenv("WEB_PORT")
	if port == "" {
		port = "8080"
	}

	// Default to localhost to avoid unintentional LAN exposure for a local
	// tool. Override via WEB_HOST for container or multi-host deployments.
	host := os.Getenv("WEB_HOST")
	if host == "" {
		host = "127.0.0.1"
	}
	addr := host + ":" + port
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown goroutine
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Printf("[Web] Received signal %v, shutting down gracefully...", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[Web] Graceful shutdown error: %v", err)
		}
	}()

	log.Printf("[Web] agentcore server running at http://%s", addr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		log.Println("[Web] Server stopped gracefully")
		return nil
	}
	return err
}
