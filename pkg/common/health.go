package common

import (
	"encoding/json"
	"net/http"
	"os"
	"sync/atomic"
	"time"
)

// HealthServer exposes liveness and readiness endpoints for orchestration
// platforms. Liveness always succeeds while the process runs; readiness flips
// once the engine's dependencies are wired.
type HealthServer struct {
	server *http.Server
	ready  *atomic.Bool
}

// NewHealthServer starts an HTTP server serving /v1/health and /v1/readiness
// on HEALTH_PORT (default 8081). The returned server is already listening.
func NewHealthServer(ready *atomic.Bool) *HealthServer {
	port := os.Getenv("HEALTH_PORT")
	if port == "" {
		port = "8081"
	}

	h := &HealthServer{ready: ready}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", h.handleHealth)
	mux.HandleFunc("/v1/readiness", h.handleReadiness)

	h.server = &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() { _ = h.server.ListenAndServe() }()

	return h
}

// Server returns the underlying HTTP server for shutdown control.
func (h *HealthServer) Server() *http.Server { return h.server }

func (h *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthServer) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
