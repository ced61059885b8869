package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/okian/facequiz/internal/domain/model"
)

const (
	defaultSessions = 1
	maxSessions     = 100
)

// RunDependencies defines the interface for running quiz batches.
type RunDependencies interface {
	RunBatch(ctx context.Context, n int) (model.BatchOutcome, error)
}

// RunOption configures the run handler.
type RunOption func(*RunHandler)

// WithDefaultSessions sets the batch size used when the query omits it.
func WithDefaultSessions(n int) RunOption {
	return func(h *RunHandler) {
		if n > 0 {
			h.defaultSessions = n
		}
	}
}

// WithMaxSessions caps the batch size a request may ask for.
func WithMaxSessions(n int) RunOption {
	return func(h *RunHandler) {
		if n > 0 {
			h.maxSessions = n
		}
	}
}

// RunHandler handles batch run requests.
type RunHandler struct {
	deps            RunDependencies
	defaultSessions int
	maxSessions     int
}

// NewRunHandler creates a new run handler.
func NewRunHandler(deps RunDependencies, opts ...RunOption) *RunHandler {
	h := &RunHandler{deps: deps, defaultSessions: defaultSessions, maxSessions: maxSessions}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleRun handles POST /run?sessions=N. The batch runs synchronously and
// its outcome, including the narrative log, is the response body.
func (h *RunHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	const op = "api.run"
	n := h.defaultSessions
	if raw := r.URL.Query().Get("sessions"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > h.maxSessions {
			writeError(w, http.StatusBadRequest, "bad_request",
				wrapKind(op, ErrBadRequest, errors.New("sessions must be between 1 and "+strconv.Itoa(h.maxSessions))))
			return
		}
		n = v
	}

	out, err := h.deps.RunBatch(r.Context(), n)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
