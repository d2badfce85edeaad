package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"PerpEngine/internal/ingestion"
	"PerpEngine/internal/observability"
	"PerpEngine/internal/persistence"
	"PerpEngine/internal/projection"
	"PerpEngine/internal/query"
)

// Server bundles the gRPC endpoint (health, reflection) and the JSON
// HTTP API served through a gRPC-Gateway mux over the query service.
type Server struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	deps          *Deps
	healthChecker *observability.HealthChecker
	logger        zerolog.Logger
}

// Deps holds everything the API routes need. ActionChan feeds manually
// injected actions into the same shell loop as NATS.
type Deps struct {
	DB             *sql.DB
	QueryService   *query.Service
	SnapshotMgr    *persistence.SnapshotManager
	ActionChan     chan<- ingestion.RawAction
	HealthChecker  *observability.HealthChecker
	MetricsHandler http.Handler
	StartTime      time.Time
	Logger         zerolog.Logger
}

func New(grpcAddr, httpAddr string, deps *Deps) *Server {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &Server{
		grpcServer:    grpcServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		deps:          deps,
		healthChecker: deps.HealthChecker,
		logger:        deps.Logger,
	}
}

// StartGRPC starts the gRPC server (blocking).
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTP starts the JSON API and operational endpoints (blocking).
func (s *Server) StartHTTP(ctx context.Context) error {
	mux := runtime.NewServeMux()
	if err := s.registerRoutes(mux); err != nil {
		return fmt.Errorf("register routes: %w", err)
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	}
	if s.deps.MetricsHandler != nil {
		httpMux.Handle("/metrics", s.deps.MetricsHandler)
	}
	httpMux.Handle("/", mux)

	s.httpServer = &http.Server{
		Addr:    s.httpAddr,
		Handler: httpMux,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) registerRoutes(mux *runtime.ServeMux) error {
	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{"GET", "/v1/balances/{address}", s.handleGetBalances},
		{"GET", "/v1/balances/{address}/{denom}", s.handleGetBalance},
		{"GET", "/v1/positions/{trader}", s.handleGetPositions},
		{"GET", "/v1/curves/{curve_id}/positions/{trader}", s.handleGetPosition},
		{"GET", "/v1/curves/{curve_id}/premium-fractions", s.handleGetPremiumFractions},
		{"GET", "/v1/curves/{curve_id}/funding", s.handleGetFundingHistory},
		{"GET", "/v1/journal/{address}", s.handleGetJournalHistory},
		{"POST", "/v1/ingest/{action_type}", s.handleInject},
		{"GET", "/v1/admin/integrity", s.handleVerifyIntegrity},
		{"GET", "/v1/admin/log", s.handleLogInfo},
		{"POST", "/v1/admin/projections/rebuild", s.handleRebuildProjections},
	}

	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.handler); err != nil {
			return fmt.Errorf("route %s %s: %w", r.method, r.pattern, err)
		}
	}
	return nil
}

// --- route handlers ---

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	balances, err := s.deps.QueryService.GetBalances(r.Context(), pathParams["address"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]interface{}{"balances": balances})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	bal, err := s.deps.QueryService.GetBalance(r.Context(), pathParams["address"], pathParams["denom"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, bal)
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	positions, err := s.deps.QueryService.GetPositions(r.Context(), pathParams["trader"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]interface{}{"positions": positions})
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	pos, err := s.deps.QueryService.GetPosition(r.Context(), pathParams["curve_id"], pathParams["trader"])
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, fmt.Errorf("no position for %s on %s", pathParams["trader"], pathParams["curve_id"]))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, pos)
}

func (s *Server) handleGetPremiumFractions(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	limit := queryLimit(r, 50, 500)
	entries, err := s.deps.QueryService.GetPremiumFractions(r.Context(), pathParams["curve_id"], limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]interface{}{"premium_fractions": entries})
}

func (s *Server) handleGetFundingHistory(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	limit := queryLimit(r, 50, 500)
	after := queryCursor(r)
	history, err := s.deps.QueryService.GetFundingHistory(r.Context(), pathParams["curve_id"], limit, after)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]interface{}{"funding_history": history})
}

func (s *Server) handleGetJournalHistory(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	limit := queryLimit(r, 100, 500)
	after := queryCursor(r)
	entries, err := s.deps.QueryService.GetJournalHistory(r.Context(), pathParams["address"], limit, after)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]interface{}{"journal": entries})
}

// handleInject accepts an action payload over HTTP for admin use and
// backfills. High-throughput producers go through NATS instead.
func (s *Server) handleInject(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	if s.deps.ActionChan == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("ingestion not wired"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	raw := ingestion.RawAction{
		Subject:    "http-inject",
		ActionType: pathParams["action_type"],
		Data:       body,
		Timestamp:  time.Now(),
		AckFunc:    func() {},
		NakFunc:    func() {},
	}

	// Validate before queueing so the caller gets a synchronous error.
	if _, err := ingestion.ParseRawAction(raw); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	select {
	case s.deps.ActionChan <- raw:
		writeJSON(w, map[string]bool{"accepted": true})
	case <-r.Context().Done():
		writeError(w, http.StatusRequestTimeout, r.Context().Err())
	}
}

func (s *Server) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	report, err := s.deps.QueryService.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, report)
}

func (s *Server) handleLogInfo(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	latestSeq, err := s.deps.SnapshotMgr.LatestSequence(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"last_sequence":  latestSeq,
		"uptime_seconds": int64(time.Since(s.deps.StartTime).Seconds()),
	})
}

func (s *Server) handleRebuildProjections(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	if err := projection.RebuildProjections(r.Context(), s.deps.DB, s.logger); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]interface{}{"rebuilt": true})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func queryLimit(r *http.Request, def, max int) int {
	limit := def
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

func queryCursor(r *http.Request) *int64 {
	if raw := r.URL.Query().Get("after"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v > 0 {
			return &v
		}
	}
	return nil
}
