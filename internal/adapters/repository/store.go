// Package repository implements the two-tier identity store: a volatile
// key/value tier for fast lookups and a durable JSON file that survives restarts.
package repository

import (
	"context"

	"github.com/okian/facequiz/internal/domain/model"
)

// Store is the learning table shared by every session.
type Store interface {
	// Init loads and reconciles both tiers. It must complete before any other call.
	Init(ctx context.Context) (InitReport, error)

	// Lookup returns the learned identity, or ErrNotFound.
	Lookup(ctx context.Context, fp model.Fingerprint) (model.Identity, error)
	// Learn records fp -> identity, replacing any earlier identity.
	Learn(ctx context.Context, fp model.Fingerprint, identity model.Identity) error

	// SearchByIdentity returns every fingerprint learned for identity.
	SearchByIdentity(ctx context.Context, identity model.Identity) ([]model.Fingerprint, error)
	// SearchByLetter returns the identities whose first letter is letter.
	SearchByLetter(ctx context.Context, letter string) ([]model.Identity, error)

	// Export returns all associations ordered by identity then fingerprint.
	Export(ctx context.Context) ([]model.Association, error)
	// ExportDocument renders the durable document.
	ExportDocument(ctx context.Context) ([]byte, error)
	// Import merges associations; existing entries win.
	Import(ctx context.Context, assocs []model.Association) (ImportReport, error)
	// ImportDocument parses a durable document (either format) and merges it.
	ImportDocument(ctx context.Context, data []byte) (ImportReport, error)

	// Persist flushes pending changes to the durable tier.
	Persist(ctx context.Context) error

	// Count returns the number of known associations.
	Count(ctx context.Context) int

	Close() error
}

// InitReport describes what Init found.
type InitReport struct {
	DurableEntries  int   `json:"durableEntries"`
	VolatileEntries int   `json:"volatileEntries"`
	Total           int   `json:"total"`
	Legacy          bool  `json:"legacy"`
	Restored        bool  `json:"restored"`
	Degraded        bool  `json:"degraded"`
	Corrupt         error `json:"-"`
}

// ImportReport counts the outcome of an import.
type ImportReport struct {
	Added   int  `json:"added"`
	Kept    int  `json:"kept"`
	Skipped int  `json:"skipped"`
	Legacy  bool `json:"legacy"`
}
