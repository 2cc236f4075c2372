package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/tandem-vcs/tandem/internal/coordinator"
	"github.com/tandem-vcs/tandem/internal/metrics"
)

// Server exposes /health (liveness) and /ready (readiness) HTTP
// endpoints for a tandemd process, plus /metrics for Prometheus.
type Server struct {
	coord   *coordinator.Coordinator
	checker *TCPChecker
	status  *Status
	config  Config
	version string
	mux     *http.ServeMux
}

// NewServer builds a health Server. rpcAddr is the tandemd RPC
// listener address, probed by Run; /ready requires both that probe's
// Status to be healthy and coord to answer GetHeads without error. /health
// always reports healthy while the process serves HTTP.
func NewServer(coord *coordinator.Coordinator, rpcAddr, version string) *Server {
	mux := http.NewServeMux()
	s := &Server{
		coord:   coord,
		checker: NewTCPChecker(rpcAddr),
		status:  NewStatus(),
		config:  DefaultConfig(),
		version: version,
		mux:     mux,
	}

	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/ready", s.readyHandler)
	mux.Handle("/metrics", metrics.Handler())

	return s
}

// Run periodically probes the RPC listener and folds the result into
// the tracked Status, until ctx is cancelled. Call it in its own
// goroutine alongside Start.
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.status.InStartPeriod(s.config) {
				continue
			}
			checkCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
			result := s.checker.Check(checkCtx)
			cancel()
			s.status.Update(result, s.config)
		}
	}
}

// Start runs the HTTP server and blocks until it returns an error
// (including on graceful Shutdown via the caller's context).
func (s *Server) Start(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   s.version,
	})
}

type readyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if s.status.Healthy {
		checks["rpc_listener"] = "ok"
	} else {
		checks["rpc_listener"] = s.status.LastResult.Message
		ready = false
		message = "RPC listener not accepting connections"
	}

	if s.coord != nil {
		if _, err := s.coord.GetHeads(); err != nil {
			checks["storage"] = "error: " + err.Error()
			ready = false
			if message == "" {
				message = "storage not accessible"
			}
		} else {
			checks["storage"] = "ok"
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, readyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
