// Package web exposes reconciliation over HTTP.
package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vadiminshakov/vaultpnl/internal/domain"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

const maxBodyBytes = 1 << 16

type reconciler interface {
	Reconcile(ctx context.Context, user, chain string) ([]domain.PositionSnapshot, error)
	ReconcileVault(ctx context.Context, user, chain, vault string) (domain.PositionSnapshot, error)
	Vaults(ctx context.Context, chain string) ([]domain.VaultDescriptor, error)
}

// Server HTTP surface of the reconciliation service.
// A nil Reconciler means the cache store was not configured; every reconciliation request then fails with 500.
type Server struct {
	Addr       string
	Reconciler reconciler
	Gatherer   prometheus.Gatherer
	l          *zap.Logger
}

// NewServer creates a new web server instance. gatherer may be nil to serve the default registry.
func NewServer(addr string, r reconciler, gatherer prometheus.Gatherer, l *zap.Logger) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{Addr: addr, Reconciler: r, Gatherer: gatherer, l: l}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestID)
	r.HandleFunc("/positions", s.handlePositions).Methods(http.MethodPost)
	r.HandleFunc("/positions/{vault}", s.handleVaultPosition).Methods(http.MethodPost)
	r.HandleFunc("/vaults/{chain}", s.handleVaults).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.l.Info("http server listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type positionsRequest struct {
	User  string `json:"user"`
	Chain string `json:"chain"`
}

type response struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if s.Reconciler == nil {
		s.writeError(w, r, &domain.ConfigurationError{Setting: "cache"})
		return
	}
	req, err := decodeRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	snapshots, err := s.Reconciler.Reconcile(r.Context(), req.User, req.Chain)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Status: "ok", Data: snapshots})
}

func (s *Server) handleVaultPosition(w http.ResponseWriter, r *http.Request) {
	if s.Reconciler == nil {
		s.writeError(w, r, &domain.ConfigurationError{Setting: "cache"})
		return
	}
	req, err := decodeRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	snapshot, err := s.Reconciler.ReconcileVault(r.Context(), req.User, req.Chain, mux.Vars(r)["vault"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Status: "ok", Data: snapshot})
}

func (s *Server) handleVaults(w http.ResponseWriter, r *http.Request) {
	if s.Reconciler == nil {
		s.writeError(w, r, &domain.ConfigurationError{Setting: "cache"})
		return
	}

	vaults, err := s.Reconciler.Vaults(r.Context(), mux.Vars(r)["chain"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Status: "ok", Data: vaults})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.Reconciler == nil {
		writeJSON(w, http.StatusServiceUnavailable, response{Status: "error", Error: "cache store not configured"})
		return
	}
	writeJSON(w, http.StatusOK, response{Status: "ok"})
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(HeaderRequestID, id)
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r)
	})
}

func decodeRequest(r *http.Request) (positionsRequest, error) {
	var req positionsRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return positionsRequest{}, &domain.ValidationError{Field: "body", Err: err}
	}
	return req, nil
}

// statusFor maps error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case domain.IsConfiguration(err):
		return http.StatusInternalServerError
	case domain.IsUpstream(err):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	l := s.l.With(
		zap.String("request_id", r.Header.Get(HeaderRequestID)),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err))
	if status >= http.StatusInternalServerError {
		l.Error("request failed")
	} else {
		l.Info("request rejected")
	}

	msg := err.Error()
	if status == http.StatusInternalServerError && !domain.IsConfiguration(err) {
		msg = "internal error"
	}
	writeJSON(w, status, response{Status: "error", Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
