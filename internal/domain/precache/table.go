package precache

import (
	"sync"

	"github.com/okian/facequiz/internal/domain/model"
)

// Table holds precached entries for the run that owns it. Entries are
// consumed once: Take removes what it returns.
type Table struct {
	mu      sync.Mutex
	entries map[model.QuestionID]model.PrecacheEntry
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[model.QuestionID]model.PrecacheEntry)}
}

// Merge adds entries, replacing any with the same question id.
func (t *Table) Merge(entries map[model.QuestionID]model.PrecacheEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for qid, e := range entries {
		t.entries[qid] = e
	}
}

// Take returns and discards the entry for qid.
func (t *Table) Take(qid model.QuestionID) (model.PrecacheEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[qid]
	if ok {
		delete(t.entries, qid)
	}
	return e, ok
}

// Len is the number of entries waiting to be taken.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Reset drops everything.
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.entries)
}
