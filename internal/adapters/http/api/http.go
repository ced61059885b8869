// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	repository "github.com/okian/facequiz/internal/adapters/repository"
	"github.com/okian/facequiz/internal/domain/batch"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	RunDependencies
	AssociationDependencies
	LookupDependencies
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler       *HealthHandler
	statsHandler        *StatsHandler
	runHandler          *RunHandler
	associationsHandler *AssociationsHandler
	lookupHandler       *LookupHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...RunOption) *Server {
	return &Server{
		healthHandler:       NewHealthHandler(),
		statsHandler:        NewStatsHandler(statsProvider),
		runHandler:          NewRunHandler(deps, opts...),
		associationsHandler: NewAssociationsHandler(deps),
		lookupHandler:       NewLookupHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("POST /run", MetricsMiddleware(s.runHandler.HandleRun, "run"))
	mux.HandleFunc("GET /associations", MetricsMiddleware(s.associationsHandler.HandleExport, "associations_export"))
	mux.HandleFunc("POST /associations", MetricsMiddleware(s.associationsHandler.HandleImport, "associations_import"))
	mux.HandleFunc("GET /fingerprints/{fp}", MetricsMiddleware(s.lookupHandler.HandleFingerprint, "fingerprint"))
	mux.HandleFunc("GET /identities/{name}/fingerprints", MetricsMiddleware(s.lookupHandler.HandleIdentity, "identity"))
	mux.HandleFunc("GET /letters/{letter}/identities", MetricsMiddleware(s.lookupHandler.HandleLetter, "letter"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeStoreError maps store and runner errors to HTTP responses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, repository.ErrInvalidFingerprint), errors.Is(err, repository.ErrInvalidIdentity), errors.Is(err, ErrBadRequest):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, repository.ErrCorruptDurableState):
		writeError(w, http.StatusBadRequest, "corrupt_document", err)
	case errors.Is(err, batch.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "busy", err)
	case errors.Is(err, repository.ErrDurableWrite):
		writeError(w, http.StatusInternalServerError, "durable_write_failed", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
