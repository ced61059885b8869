package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	repository "github.com/okian/facequiz/internal/adapters/repository"
)

const (
	exportFilename = "faces_data.json"
	maxImportBytes = 32 << 20
)

// AssociationDependencies defines the interface for bulk association transfer.
type AssociationDependencies interface {
	ExportDocument(ctx context.Context) ([]byte, error)
	ImportDocument(ctx context.Context, data []byte) (repository.ImportReport, error)
}

// AssociationsHandler handles export and import of the association document.
type AssociationsHandler struct {
	deps AssociationDependencies
}

// NewAssociationsHandler creates a new associations handler.
func NewAssociationsHandler(deps AssociationDependencies) *AssociationsHandler {
	return &AssociationsHandler{deps: deps}
}

// HandleExport handles GET /associations as a file download.
func (h *AssociationsHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	doc, err := h.deps.ExportDocument(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": exportFilename}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

// HandleImport handles POST /associations. The document is either the raw
// body or the "file" field of a multipart form.
func (h *AssociationsHandler) HandleImport(w http.ResponseWriter, r *http.Request) {
	const op = "api.import"
	data, err := readDocument(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}
	report, err := h.deps.ImportDocument(r.Context(), data)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func readDocument(r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxImportBytes)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return io.ReadAll(r.Body)
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, errors.New("no file selected")
		}
		return nil, fmt.Errorf("read form: %w", err)
	}
	defer file.Close()
	return io.ReadAll(file)
}
