package repository

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/facequiz/internal/domain/keylock"
	"github.com/okian/facequiz/internal/domain/model"
	"github.com/okian/facequiz/pkg/logger"
	"github.com/okian/facequiz/pkg/metrics"
)

const defaultRecoveryInterval = 5 * time.Second

// IdentityStore keeps the volatile tier and an in-memory image of the
// durable file in step. The image always holds every association; the
// volatile tier may lag behind while it is unavailable and is re-synced
// from the image once it answers again.
type IdentityStore struct {
	volatile Volatile
	durable  Durable

	fpLocks *keylock.Locker
	// indexMu serializes volatile writes with the matching image update.
	indexMu sync.Mutex

	imageMu sync.RWMutex
	image   map[model.Fingerprint]model.Identity
	dirty   atomic.Bool

	persistMu sync.Mutex

	available        atomic.Bool
	lastProbe        atomic.Int64
	recoveryInterval time.Duration
	writeThrough     bool

	ready  atomic.Bool
	closed atomic.Bool

	logger logger.Logger
}

var _ Store = (*IdentityStore)(nil)

// NewIdentityStore builds a store over the given tiers. volatile may be nil,
// in which case every operation is served from the durable image.
func NewIdentityStore(volatile Volatile, durable Durable, opts ...Option) *IdentityStore {
	s := &IdentityStore{
		volatile:         volatile,
		durable:          durable,
		fpLocks:          keylock.New(),
		image:            make(map[model.Fingerprint]model.Identity),
		recoveryInterval: defaultRecoveryInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("identity_store")
	}
	return s
}

// Init loads the durable file, merges it with whatever the volatile tier
// already holds (volatile wins on conflict) and pushes durable-only entries
// into the volatile tier.
func (s *IdentityStore) Init(ctx context.Context) (InitReport, error) {
	if s.closed.Load() {
		return InitReport{}, ErrClosed
	}

	loaded, err := s.durable.Load(ctx)
	if err != nil {
		return InitReport{}, fmt.Errorf("load durable tier: %w", err)
	}
	report := InitReport{
		DurableEntries: len(loaded.Entries),
		Legacy:         loaded.Legacy,
		Restored:       loaded.Restored,
		Corrupt:        loaded.Corrupt,
	}

	merged := make(map[model.Fingerprint]model.Identity, len(loaded.Entries))
	maps.Copy(merged, loaded.Entries)
	dirty := loaded.Legacy || loaded.Restored || loaded.Corrupt != nil

	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	if s.volatile != nil {
		current, err := s.volatile.All(ctx)
		if err != nil {
			report.Degraded = true
			s.logger.Warn(ctx, "volatile tier unavailable at startup, serving from durable file", logger.Error(err))
		} else {
			report.VolatileEntries = len(current)
			inVolatile := make(map[model.Fingerprint]struct{}, len(current))
			for _, a := range current {
				inVolatile[a.Fingerprint] = struct{}{}
				if merged[a.Fingerprint] != a.Identity {
					dirty = true
				}
				merged[a.Fingerprint] = a.Identity
			}

			var missing []model.Association
			for fp, id := range loaded.Entries {
				if _, ok := inVolatile[fp]; !ok {
					missing = append(missing, model.Association{Fingerprint: fp, Identity: id})
				}
			}
			if _, err := s.volatile.Load(ctx, missing, false); err != nil {
				report.Degraded = true
				s.logger.Warn(ctx, "could not seed volatile tier", logger.Error(err))
			}
		}
		s.available.Store(!report.Degraded)
		if report.Degraded {
			s.lastProbe.Store(time.Now().UnixNano())
			metrics.RecordVolatileDegraded()
		}
	}

	s.imageMu.Lock()
	s.image = merged
	s.imageMu.Unlock()
	if dirty {
		s.dirty.Store(true)
	}
	report.Total = len(merged)

	s.ready.Store(true)
	metrics.UpdateAssociationCount(report.Total)

	if report.Corrupt != nil {
		s.logger.Warn(ctx, "durable state was corrupt",
			logger.Bool("restored", report.Restored),
			logger.Error(report.Corrupt),
		)
	}
	s.logger.Info(ctx, "identity store ready",
		logger.Int("durable", report.DurableEntries),
		logger.Int("volatile", report.VolatileEntries),
		logger.Int("total", report.Total),
		logger.Bool("legacy", report.Legacy),
		logger.Bool("degraded", report.Degraded),
	)
	return report, nil
}

func (s *IdentityStore) check() error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.ready.Load() {
		return ErrNotInitialized
	}
	return nil
}

// volatileUp reports whether the volatile tier should be used, probing it
// again once per recovery interval after a failure.
func (s *IdentityStore) volatileUp(ctx context.Context) bool {
	if s.volatile == nil {
		return false
	}
	if s.available.Load() {
		return true
	}

	last := s.lastProbe.Load()
	now := time.Now().UnixNano()
	if time.Duration(now-last) < s.recoveryInterval || !s.lastProbe.CompareAndSwap(last, now) {
		return false
	}
	if err := s.volatile.Ping(ctx); err != nil {
		return false
	}
	return s.resync(ctx)
}

func (s *IdentityStore) resync(ctx context.Context) bool {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	if s.available.Load() {
		return true
	}

	assocs := s.snapshotAssociations()
	if _, err := s.volatile.Load(ctx, assocs, true); err != nil {
		s.logger.Warn(ctx, "volatile tier answered but re-sync failed", logger.Error(err))
		return false
	}
	s.available.Store(true)
	metrics.RecordVolatileRecovered()
	s.logger.Info(ctx, "volatile tier recovered", logger.Int("resynced", len(assocs)))
	return true
}

func (s *IdentityStore) markUnavailable(ctx context.Context, err error) {
	if s.available.CompareAndSwap(true, false) {
		s.lastProbe.Store(time.Now().UnixNano())
		metrics.RecordVolatileDegraded()
		s.logger.Warn(ctx, "volatile tier unavailable, degrading to durable image", logger.Error(err))
	}
}

func (s *IdentityStore) fromImage(fp model.Fingerprint) (model.Identity, bool) {
	s.imageMu.RLock()
	defer s.imageMu.RUnlock()
	id, ok := s.image[fp]
	return id, ok
}

func (s *IdentityStore) snapshotAssociations() []model.Association {
	s.imageMu.RLock()
	defer s.imageMu.RUnlock()
	return sortedAssociations(s.image)
}

// Lookup returns the identity learned for fp.
func (s *IdentityStore) Lookup(ctx context.Context, fp model.Fingerprint) (model.Identity, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	fp, ok := model.ParseFingerprint(string(fp))
	if !ok {
		return "", ErrInvalidFingerprint
	}

	if s.volatileUp(ctx) {
		id, err := s.volatile.Get(ctx, fp)
		switch {
		case err == nil:
			metrics.RecordStoreLookup("volatile", "hit")
			return id, nil
		case errors.Is(err, ErrNotFound):
			metrics.RecordStoreLookup("volatile", "miss")
			if id, ok := s.fromImage(fp); ok {
				s.repair(ctx, fp, id)
				metrics.RecordStoreLookup("durable", "hit")
				return id, nil
			}
			return "", ErrNotFound
		default:
			metrics.RecordStoreLookup("volatile", "error")
			s.markUnavailable(ctx, err)
		}
	}

	if id, ok := s.fromImage(fp); ok {
		metrics.RecordStoreLookup("durable", "hit")
		return id, nil
	}
	metrics.RecordStoreLookup("durable", "miss")
	return "", ErrNotFound
}

// repair copies an association the volatile tier is missing back into it.
func (s *IdentityStore) repair(ctx context.Context, fp model.Fingerprint, id model.Identity) {
	unlock := s.fpLocks.Lock(string(fp))
	defer unlock()
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	if current, ok := s.fromImage(fp); !ok || current != id {
		return
	}
	if _, err := s.volatile.Put(ctx, fp, id); err != nil {
		s.markUnavailable(ctx, err)
		return
	}
	s.logger.Debug(ctx, "read-repaired volatile entry", logger.String("fingerprint", string(fp)))
}

// Learn records fp -> identity in the primary map, both indexes and the
// durable image. With write-through the durable file is flushed before
// returning; a flush failure is reported but the association stays learned.
func (s *IdentityStore) Learn(ctx context.Context, fp model.Fingerprint, identity model.Identity) error {
	if err := s.check(); err != nil {
		return err
	}
	fp, ok := model.ParseFingerprint(string(fp))
	if !ok {
		return ErrInvalidFingerprint
	}
	if !identity.Storable() {
		return ErrInvalidIdentity
	}

	unlock := s.fpLocks.Lock(string(fp))
	defer unlock()

	s.learnLocked(ctx, fp, identity)
	metrics.RecordStoreLearn()

	if s.writeThrough {
		return s.Persist(ctx)
	}
	return nil
}

// learnLocked applies one association; the caller holds fp's lock.
func (s *IdentityStore) learnLocked(ctx context.Context, fp model.Fingerprint, identity model.Identity) {
	up := s.volatileUp(ctx)

	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	if up {
		if _, err := s.volatile.Put(ctx, fp, identity); err != nil {
			s.markUnavailable(ctx, err)
		}
	}

	s.imageMu.Lock()
	prev, existed := s.image[fp]
	s.image[fp] = identity
	count := len(s.image)
	s.imageMu.Unlock()

	if existed && prev == identity {
		return
	}
	s.dirty.Store(true)
	metrics.UpdateAssociationCount(count)

	if existed {
		metrics.RecordConflictingOverwrite()
		s.logger.Warn(ctx, "fingerprint re-learned with a different identity",
			logger.String("fingerprint", string(fp)),
			logger.String("previous", string(prev)),
			logger.String("identity", string(identity)),
		)
		return
	}
	s.logger.Debug(ctx, "learned association",
		logger.String("fingerprint", string(fp)),
		logger.String("identity", string(identity)),
	)
}

// SearchByIdentity returns the fingerprints learned for identity, sorted.
func (s *IdentityStore) SearchByIdentity(ctx context.Context, identity model.Identity) ([]model.Fingerprint, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if !identity.Storable() {
		return nil, ErrInvalidIdentity
	}

	if s.volatileUp(ctx) {
		fps, err := s.volatile.Members(ctx, identity)
		if err == nil {
			sort.Slice(fps, func(i, j int) bool { return fps[i] < fps[j] })
			return fps, nil
		}
		s.markUnavailable(ctx, err)
	}

	s.imageMu.RLock()
	defer s.imageMu.RUnlock()
	var fps []model.Fingerprint
	for fp, id := range s.image {
		if id == identity {
			fps = append(fps, fp)
		}
	}
	sort.Slice(fps, func(i, j int) bool { return fps[i] < fps[j] })
	return fps, nil
}

// SearchByLetter returns the identities filed under letter, sorted.
func (s *IdentityStore) SearchByLetter(ctx context.Context, letter string) ([]model.Identity, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	letter = model.NormalizeLetter(letter)
	if letter == "" {
		return nil, ErrInvalidIdentity
	}

	if s.volatileUp(ctx) {
		ids, err := s.volatile.Letter(ctx, letter)
		if err == nil {
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			return ids, nil
		}
		s.markUnavailable(ctx, err)
	}

	s.imageMu.RLock()
	seen := make(map[model.Identity]struct{})
	for _, id := range s.image {
		if id.Letter() == letter {
			seen[id] = struct{}{}
		}
	}
	s.imageMu.RUnlock()

	ids := make([]model.Identity, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Export returns every association ordered by identity then fingerprint.
func (s *IdentityStore) Export(_ context.Context) ([]model.Association, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.snapshotAssociations(), nil
}

// ExportDocument renders the durable document for download.
func (s *IdentityStore) ExportDocument(_ context.Context) ([]byte, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	s.imageMu.RLock()
	defer s.imageMu.RUnlock()
	return encodeDocument(s.image)
}

// Import merges assocs. An association whose fingerprint is already known
// is kept as is.
func (s *IdentityStore) Import(ctx context.Context, assocs []model.Association) (ImportReport, error) {
	if err := s.check(); err != nil {
		return ImportReport{}, err
	}

	var report ImportReport
	for _, a := range assocs {
		fp, ok := model.ParseFingerprint(string(a.Fingerprint))
		if !ok || !a.Identity.Storable() {
			report.Skipped++
			continue
		}
		if s.importOne(ctx, fp, a.Identity) {
			report.Added++
		} else {
			report.Kept++
		}
	}

	metrics.RecordImportedRecords("added", report.Added)
	metrics.RecordImportedRecords("kept", report.Kept)
	metrics.RecordImportedRecords("skipped", report.Skipped)
	s.logger.Info(ctx, "imported associations",
		logger.Int("added", report.Added),
		logger.Int("kept", report.Kept),
		logger.Int("skipped", report.Skipped),
	)

	if report.Added > 0 && s.writeThrough {
		return report, s.Persist(ctx)
	}
	return report, nil
}

func (s *IdentityStore) importOne(ctx context.Context, fp model.Fingerprint, id model.Identity) bool {
	unlock := s.fpLocks.Lock(string(fp))
	defer unlock()
	if _, ok := s.fromImage(fp); ok {
		return false
	}
	s.learnLocked(ctx, fp, id)
	return true
}

// ImportDocument parses data in either durable format and merges it.
// Unparseable input is rejected with ErrCorruptDurableState and changes nothing.
func (s *IdentityStore) ImportDocument(ctx context.Context, data []byte) (ImportReport, error) {
	if err := s.check(); err != nil {
		return ImportReport{}, err
	}
	doc, err := decodeDocument(data)
	if err != nil {
		return ImportReport{}, err
	}
	report, err := s.Import(ctx, sortedAssociations(doc.entries))
	report.Skipped += doc.skipped
	report.Legacy = doc.legacy
	metrics.RecordImportedRecords("skipped", doc.skipped)
	return report, err
}

// Persist writes the durable image when it has unsaved changes.
func (s *IdentityStore) Persist(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if !s.dirty.Swap(false) {
		return nil
	}
	s.imageMu.RLock()
	snapshot := maps.Clone(s.image)
	s.imageMu.RUnlock()

	if err := s.durable.Save(ctx, snapshot); err != nil {
		s.dirty.Store(true)
		s.logger.Error(ctx, "durable write failed", logger.Error(err))
		if errors.Is(err, ErrDurableWrite) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrDurableWrite, err)
	}
	return nil
}

// Count returns the number of known associations.
func (s *IdentityStore) Count(_ context.Context) int {
	s.imageMu.RLock()
	defer s.imageMu.RUnlock()
	return len(s.image)
}

// Degraded reports whether lookups are currently served without the volatile tier.
func (s *IdentityStore) Degraded() bool {
	return s.volatile == nil || !s.available.Load()
}

// Dirty reports whether the durable file lags behind the image.
func (s *IdentityStore) Dirty() bool {
	return s.dirty.Load()
}

// Close releases the volatile tier. Pending changes are not flushed; call Persist first.
func (s *IdentityStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.volatile != nil {
		return s.volatile.Close()
	}
	return nil
}
