package api

import (
	"context"
	"net/http"

	"github.com/okian/facequiz/internal/domain/model"
)

// LookupDependencies defines the interface for association queries.
type LookupDependencies interface {
	Lookup(ctx context.Context, fp string) (model.Identity, error)
	SearchByIdentity(ctx context.Context, name string) ([]model.Fingerprint, error)
	SearchByLetter(ctx context.Context, letter string) ([]model.Identity, error)
}

// LookupHandler answers association queries.
type LookupHandler struct {
	deps LookupDependencies
}

// NewLookupHandler creates a new lookup handler.
func NewLookupHandler(deps LookupDependencies) *LookupHandler {
	return &LookupHandler{deps: deps}
}

type fingerprintResponse struct {
	Fingerprint string         `json:"fingerprint"`
	Identity    model.Identity `json:"identity"`
}

type identityResponse struct {
	Identity     string              `json:"identity"`
	Fingerprints []model.Fingerprint `json:"fingerprints"`
}

type letterResponse struct {
	Letter     string           `json:"letter"`
	Identities []model.Identity `json:"identities"`
}

// HandleFingerprint handles GET /fingerprints/{fp}.
func (h *LookupHandler) HandleFingerprint(w http.ResponseWriter, r *http.Request) {
	fp := r.PathValue("fp")
	id, err := h.deps.Lookup(r.Context(), fp)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fingerprintResponse{Fingerprint: fp, Identity: id})
}

// HandleIdentity handles GET /identities/{name}/fingerprints.
func (h *LookupHandler) HandleIdentity(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	fps, err := h.deps.SearchByIdentity(r.Context(), name)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if fps == nil {
		fps = []model.Fingerprint{}
	}
	writeJSON(w, http.StatusOK, identityResponse{Identity: name, Fingerprints: fps})
}

// HandleLetter handles GET /letters/{letter}/identities.
func (h *LookupHandler) HandleLetter(w http.ResponseWriter, r *http.Request) {
	letter := r.PathValue("letter")
	ids, err := h.deps.SearchByLetter(r.Context(), letter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if ids == nil {
		ids = []model.Identity{}
	}
	writeJSON(w, http.StatusOK, letterResponse{Letter: letter, Identities: ids})
}
