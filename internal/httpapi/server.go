// Package httpapi serves the alert status, history, health and metrics
// endpoints of the serve command.
package httpapi

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"nmhealth-go/internal/contracts"
	"nmhealth-go/internal/observability"
	"nmhealth-go/internal/reqcontext"
	"nmhealth-go/internal/storage"
)

// requestTimeout bounds API handlers, including on-demand evaluations.
const requestTimeout = 60 * time.Second

// StatusProvider exposes the scheduler's view of the targets.
type StatusProvider interface {
	Status() []contracts.TargetStatus
	TargetStatus(name string) (contracts.TargetStatus, bool)
	RunOnce(ctx context.Context, name string) (*contracts.AlertRecord, error)
}

// HistoryReader lists stored alert records.
type HistoryReader interface {
	ListAlerts(filter storage.HistoryFilter) ([]*contracts.AlertRecord, int, error)
}

// Server provides HTTP API endpoints with chi router
type Server struct {
	status        StatusProvider
	history       HistoryReader
	logger        *zap.SugaredLogger
	router        *chi.Mux
	observability *observability.Manager
	tlsConfig     *tls.Config
}

// NewServer creates a new HTTP API server. history and obs may be nil.
func NewServer(status StatusProvider, history HistoryReader, logger *zap.SugaredLogger, obs *observability.Manager) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		status:        status,
		history:       history,
		logger:        logger.Named("httpapi"),
		router:        chi.NewRouter(),
		observability: obs,
	}

	s.setupRoutes()
	return s
}

// SetTLSConfig makes ListenAndServe serve HTTPS.
func (s *Server) SetTLSConfig(cfg *tls.Config) {
	s.tlsConfig = cfg
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on listen until ctx is cancelled, then shuts down
// gracefully. ready, when not nil, receives the bound address.
func (s *Server) ListenAndServe(ctx context.Context, listen string, ready func(addr string)) error {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	scheme := "http"
	serve := srv.Serve
	if s.tlsConfig != nil {
		scheme = "https"
		serve = func(ln net.Listener) error {
			return srv.Serve(tls.NewListener(ln, s.tlsConfig))
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- serve(ln)
	}()

	s.logger.Infow("HTTP API listening", "address", ln.Addr().String(), "scheme", scheme)
	if ready != nil {
		ready(ln.Addr().String())
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) setupRoutes() {
	if s.observability != nil {
		s.router.Use(s.observability.HTTPMiddleware())
	}
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLoggerMiddleware(s.logger))
	s.router.Use(middleware.Recoverer)

	if s.observability != nil {
		s.router.Get("/healthz", s.observability.Health().HealthzHandler())
		s.router.Get("/readyz", s.observability.Health().ReadyzHandler())
		s.router.Handle("/metrics", s.observability.MetricsHandler())
	} else {
		s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			s.writeJSON(w, http.StatusOK, map[string]string{"status": observability.StatusHealthy})
		})
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/alerts", s.handleListAlerts)
		r.Get("/alerts/{target}", s.handleGetAlert)
		r.Post("/alerts/{target}/evaluate", s.handleEvaluate)
		r.Get("/alerts/{target}/history", s.handleHistory)
	})

	s.router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "not found")
	})
}

func (s *Server) handleListAlerts(w http.ResponseWriter, _ *http.Request) {
	s.writeSuccess(w, s.status.Status())
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "target")
	status, ok := s.status.TargetStatus(name)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown target: "+name)
		return
	}
	s.writeSuccess(w, status)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "target")
	if _, ok := s.status.TargetStatus(name); !ok {
		s.writeError(w, http.StatusNotFound, "unknown target: "+name)
		return
	}

	record, err := s.status.RunOnce(r.Context(), name)
	if err != nil {
		reqcontext.Logger(r.Context()).Warnw("On-demand evaluation failed", "target", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if record == nil {
		s.writeError(w, http.StatusServiceUnavailable, "evaluation cancelled")
		return
	}
	s.writeSuccess(w, record)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "target")
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "alert history is disabled")
		return
	}
	if _, ok := s.status.TargetStatus(name); !ok {
		s.writeError(w, http.StatusNotFound, "unknown target: "+name)
		return
	}

	filter, err := parseHistoryFilter(name, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, total, err := s.history.ListAlerts(filter)
	if err != nil {
		reqcontext.Logger(r.Context()).Errorw("Failed to list alert history", "target", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read alert history")
		return
	}
	if records == nil {
		records = []*contracts.AlertRecord{}
	}

	s.writeSuccess(w, contracts.HistoryResponse{
		Target:  name,
		Records: records,
		Total:   total,
		Limit:   filter.Limit,
	})
}

// parseHistoryFilter reads limit, state (comma separated), since, until
// (RFC 3339) and include_skipped from the query string.
func parseHistoryFilter(target string, r *http.Request) (storage.HistoryFilter, error) {
	q := r.URL.Query()
	filter := storage.HistoryFilter{Target: target}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return filter, errInvalidQuery("limit", v)
		}
		filter.Limit = limit
	}

	if v := q.Get("state"); v != "" {
		for _, part := range strings.Split(v, ",") {
			state, err := contracts.ParseAlertState(strings.TrimSpace(part))
			if err != nil {
				return filter, errInvalidQuery("state", part)
			}
			filter.States = append(filter.States, state)
		}
	}

	for key, dst := range map[string]*time.Time{"since": &filter.Since, "until": &filter.Until} {
		if v := q.Get(key); v != "" {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return filter, errInvalidQuery(key, v)
			}
			*dst = ts
		}
	}

	if v := q.Get("include_skipped"); v != "" {
		include, err := strconv.ParseBool(v)
		if err != nil {
			return filter, errInvalidQuery("include_skipped", v)
		}
		filter.IncludeSkipped = include
	}

	filter.Validate()
	return filter, nil
}

type queryError struct {
	param, value string
}

func (e *queryError) Error() string {
	return "invalid " + e.param + " parameter: " + strconv.Quote(e.value)
}

func errInvalidQuery(param, value string) error {
	return &queryError{param: param, value: value}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorw("Failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, contracts.NewErrorResponse(message))
}

func (s *Server) writeSuccess(w http.ResponseWriter, data interface{}) {
	s.writeJSON(w, http.StatusOK, contracts.NewSuccessResponse(data))
}
