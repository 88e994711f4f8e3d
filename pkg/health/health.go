// Package health implements the thin liveness/readiness/metrics HTTP
// listener every node runs: a /health, /ready, /metrics mux whose
// readiness check requires a known Raft leader and a reachable store.
package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/graftio/ingestify/pkg/cluster"
	"github.com/graftio/ingestify/pkg/metrics"
)

// Server provides HTTP health check endpoints.
type Server struct {
	node *cluster.Node
	mux  *http.ServeMux
}

// NewServer creates a new health check HTTP server over node.
func NewServer(node *cluster.Node) *Server {
	mux := http.NewServeMux()
	hs := &Server{node: node, mux: mux}

	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Start runs the HTTP server on addr until it errors or the process exits.
func (hs *Server) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// HealthResponse is the /health liveness payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse is the /ready readiness payload.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

func (hs *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Timestamp: time.Now()})
}

func (hs *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if hs.node.IsLeader() {
		checks["raft"] = "leader"
	} else if leader := hs.node.LeaderAddr(); leader != "" {
		checks["raft"] = fmt.Sprintf("follower (leader: %s)", leader)
	} else {
		checks["raft"] = "no leader elected"
		ready = false
		message = "waiting for leader election"
	}

	if _, err := hs.node.Store().ListNamespaces(); err != nil {
		checks["storage"] = fmt.Sprintf("error: %v", err)
		ready = false
		if message == "" {
			message = "storage not accessible"
		}
	} else {
		checks["storage"] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, ReadyResponse{Status: status, Timestamp: time.Now(), Checks: checks, Message: message})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
