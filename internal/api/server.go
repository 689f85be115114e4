package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	cangrpc "telemetry-ingest/internal/grpc"

	"telemetry-ingest/internal/batch"
	"telemetry-ingest/internal/decoder"
	"telemetry-ingest/internal/models"
)

const apiPrefix = "/api/v1"

// HealthCheck reports whether a downstream service is reachable
type HealthCheck func(ctx context.Context) error

// Server represents the HTTP API server
type Server struct {
	server     *http.Server
	grpcServer *GRPCServer
	decoder    *decoder.Decoder
	points     batch.Submitter[models.Point]
	checks     map[string]HealthCheck
	token      string
}

// ServerConfig holds API server configuration
type ServerConfig struct {
	Port     int
	GRPCPort int
	// Token enables bearer authentication when set
	Token string
}

// NewServer creates a new API server instance. ingest may be nil when the
// gRPC endpoint is not served.
func NewServer(config ServerConfig, dec *decoder.Decoder, points batch.Submitter[models.Point], ingest *cangrpc.IngestService, checks map[string]HealthCheck) (*Server, error) {
	server := &Server{
		decoder: dec,
		points:  points,
		checks:  checks,
		token:   config.Token,
	}

	// Create gRPC server if port is specified
	if config.GRPCPort > 0 && ingest != nil {
		grpcServer, err := NewGRPCServer(config.GRPCPort, ingest)
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC server: %w", err)
		}
		server.grpcServer = grpcServer
	}

	// Create HTTP server
	server.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server, nil
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.setupRoutes(mux)
	return loggingMiddleware(corsMiddleware(mux))
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Root endpoint
	mux.HandleFunc("/", s.handleRoot)

	mux.Handle("GET "+apiPrefix+"/health", s.authMiddleware(http.HandlerFunc(s.handleHealth)))
	mux.Handle("POST "+apiPrefix+"/parse", s.authMiddleware(http.HandlerFunc(s.handleParse)))
	mux.Handle("POST "+apiPrefix+"/parse/write", s.authMiddleware(http.HandlerFunc(s.handleParseWrite)))
	mux.Handle("POST "+apiPrefix+"/points", s.authMiddleware(http.HandlerFunc(s.handlePoints)))
}

// handleRoot returns API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	info := map[string]any{
		"name":    "Telemetry Ingest Server",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health": "GET " + apiPrefix + "/health",
			"parse":  "POST " + apiPrefix + "/parse (body: {message: <hex record>})",
			"write":  "POST " + apiPrefix + "/parse/write (body: {message: <hex record>})",
			"points": "POST " + apiPrefix + "/points (body: {batch_id, points})",
		},
	}

	respondWithJSON(w, http.StatusOK, info)
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	services := map[string]string{"api": "UP"}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			services[name] = "DOWN"
			status = "degraded"
			continue
		}
		services[name] = "UP"
	}

	health := map[string]any{
		"status":    status,
		"timestamp": time.Now(),
		"services":  services,
	}

	respondWithJSON(w, http.StatusOK, health)
}

// Start starts the API server
func (s *Server) Start() error {
	// Start gRPC server in background if configured
	if s.grpcServer != nil {
		go func() {
			if err := s.grpcServer.Start(); err != nil {
				log.Printf("gRPC server error: %v", err)
			}
		}()
	}

	log.Printf("Starting HTTP API server on %s", s.server.Addr)
	return s.server.ListenAndServe()
}

// Stop gracefully stops the API server
func (s *Server) Stop(ctx context.Context) error {
	log.Println("Stopping API server...")

	err := s.server.Shutdown(ctx)

	// Stop gRPC server if running
	if s.grpcServer != nil {
		s.grpcServer.Stop(ctx)
	}
	return err
}

// authMiddleware requires "Authorization: Bearer <token>" when a token is configured
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}

		given, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(given), []byte(s.token)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="telemetry"`)
			respondWithError(w, http.StatusUnauthorized, "Unauthorized Access")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Log request
		log.Printf("[%s] %s %s", r.Method, r.URL.Path, r.RemoteAddr)

		// Call next handler
		next.ServeHTTP(w, r)

		// Log duration
		duration := time.Since(start)
		log.Printf("[%s] %s completed in %v", r.Method, r.URL.Path, duration)
	})
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		// Handle preflight requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
