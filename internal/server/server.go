package server

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/snapledger/snapledger/internal/batch"
	"github.com/snapledger/snapledger/internal/capture"
	"github.com/snapledger/snapledger/internal/resilience"
	"github.com/snapledger/snapledger/internal/scan"
	"github.com/snapledger/snapledger/internal/staging"
	"github.com/snapledger/snapledger/internal/transaction"
)

// BasicAuth holds optional basic authentication credentials.
type BasicAuth struct {
	Username string
	Password string
}

// SyncFunc delivers one queued payload to its sync target during a drain.
type SyncFunc func(ctx context.Context, item resilience.Item) error

// Server exposes the capture-to-transaction pipeline over HTTP.
type Server struct {
	scans        *scan.Service
	store        *staging.Store
	materializer *transaction.Materializer
	orchestrator *batch.Orchestrator
	layer        *resilience.Layer
	images       capture.Store
	files        *capture.FileSource
	syncFn       SyncFunc
	basicAuth    BasicAuth
	mux          *http.ServeMux
}

// NewServer creates a Server and registers its routes.
func NewServer(
	scans *scan.Service,
	store *staging.Store,
	materializer *transaction.Materializer,
	orchestrator *batch.Orchestrator,
	layer *resilience.Layer,
	images capture.Store,
	syncFn SyncFunc,
	basicAuth BasicAuth,
) *Server {
	s := &Server{
		scans:        scans,
		store:        store,
		materializer: materializer,
		orchestrator: orchestrator,
		layer:        layer,
		images:       images,
		files:        capture.NewFileSource(capture.MaxSingleBytes),
		syncFn:       syncFn,
		basicAuth:    basicAuth,
		mux:          http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials; no credentials configured means
// no auth required.
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}
	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}
	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="snapledger"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all API routes, most specific paths first.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/scans", s.requireAuth(s.handleSubmitScan))

	s.mux.HandleFunc("GET /api/receipts/{id}/file", s.requireAuth(s.handleGetReceiptFile))
	s.mux.HandleFunc("GET /api/receipts/{id}", s.requireAuth(s.handleGetReceipt))
	s.mux.HandleFunc("PATCH /api/receipts/{id}", s.requireAuth(s.handleEditReceipt))
	s.mux.HandleFunc("DELETE /api/receipts/{id}", s.requireAuth(s.handleClearReceipt))
	s.mux.HandleFunc("GET /api/receipts", s.requireAuth(s.handleListReceipts))
	s.mux.HandleFunc("POST /api/receipts/{id}/transaction", s.requireAuth(s.handleMaterialize))

	s.mux.HandleFunc("POST /api/batch/files", s.requireAuth(s.handleBatchAddFiles))
	s.mux.HandleFunc("POST /api/batch/process", s.requireAuth(s.handleBatchProcess))
	s.mux.HandleFunc("POST /api/batch/transactions", s.requireAuth(s.handleBatchTransactions))
	s.mux.HandleFunc("POST /api/batch/reset", s.requireAuth(s.handleBatchReset))
	s.mux.HandleFunc("GET /api/batch", s.requireAuth(s.handleBatchStatus))

	s.mux.HandleFunc("POST /api/queue/drain", s.requireAuth(s.handleQueueDrain))
	s.mux.HandleFunc("GET /api/errors", s.requireAuth(s.handleErrorLog))
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	return http.ListenAndServe(addr, s.corsMiddleware(s.mux))
}

// ServeHTTP implements http.Handler for tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.corsMiddleware(s.mux).ServeHTTP(w, r)
}
