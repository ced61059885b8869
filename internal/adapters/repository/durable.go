package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/tidwall/gjson"

	"github.com/okian/facequiz/internal/domain/model"
	"github.com/okian/facequiz/pkg/logger"
	"github.com/okian/facequiz/pkg/metrics"
)

const (
	backupSuffix    = ".bak"
	lockSuffix      = ".lock"
	tmpSuffix       = ".tmp"
	lockRetryDelay  = 25 * time.Millisecond
	durableFileMode = 0o644
)

// Durable is the file-backed tier of the identity store.
type Durable interface {
	Load(ctx context.Context) (LoadResult, error)
	Save(ctx context.Context, entries map[model.Fingerprint]model.Identity) error
}

// LoadResult is the outcome of reading the durable tier.
// Corrupt is set when the main file could not be parsed; Restored tells
// whether the entries came from the last valid backup instead.
type LoadResult struct {
	Entries  map[model.Fingerprint]model.Identity
	Legacy   bool
	Skipped  int
	Restored bool
	Corrupt  error
}

// FileDurable stores associations in a single JSON file. Writes go to a
// temp file renamed over the original, under an in-process mutex and an
// advisory file lock shared with other processes using the same path.
type FileDurable struct {
	path   string
	mu     sync.Mutex
	lock   *flock.Flock
	now    func() time.Time
	logger logger.Logger
}

// NewFileDurable creates a durable tier at path.
func NewFileDurable(path string, l logger.Logger) *FileDurable {
	if l == nil {
		l = logger.Get().Named("durable")
	}
	return &FileDurable{
		path:   path,
		lock:   flock.New(path + lockSuffix),
		now:    time.Now,
		logger: l,
	}
}

// Path returns the file location.
func (d *FileDurable) Path() string { return d.path }

// Load reads the durable file. A missing file is an empty store. A corrupt
// file is moved aside and the backup is used when it parses.
func (d *FileDurable) Load(ctx context.Context) (LoadResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := os.ReadFile(d.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return LoadResult{Entries: map[model.Fingerprint]model.Identity{}}, nil
		}
		return LoadResult{}, fmt.Errorf("read durable file: %w", err)
	}

	doc, err := decodeDocument(data)
	if err == nil {
		d.logger.Debug(ctx, "loaded durable file",
			logger.String("path", d.path),
			logger.Int("entries", len(doc.entries)),
			logger.Bool("legacy", doc.legacy),
			logger.Int("skipped", doc.skipped),
		)
		return LoadResult{Entries: doc.entries, Legacy: doc.legacy, Skipped: doc.skipped}, nil
	}

	return d.recover(ctx, err)
}

func (d *FileDurable) recover(ctx context.Context, cause error) (LoadResult, error) {
	res := LoadResult{Entries: map[model.Fingerprint]model.Identity{}, Corrupt: cause}

	aside := fmt.Sprintf("%s.corrupt-%d", d.path, d.now().Unix())
	if err := os.Rename(d.path, aside); err != nil {
		d.logger.Warn(ctx, "could not move corrupt durable file aside",
			logger.String("path", d.path), logger.Error(err))
	}

	bak, err := os.ReadFile(d.path + backupSuffix)
	if err != nil {
		d.logger.Error(ctx, "durable file corrupt and no backup available, starting empty",
			logger.String("path", d.path), logger.String("moved_to", aside), logger.Error(cause))
		return res, nil
	}
	doc, err := decodeDocument(bak)
	if err != nil {
		d.logger.Error(ctx, "durable file and backup both corrupt, starting empty",
			logger.String("path", d.path), logger.Error(err))
		return res, nil
	}

	if err := writeAtomic(d.path, bak); err != nil {
		d.logger.Warn(ctx, "could not restore backup over durable file",
			logger.String("path", d.path), logger.Error(err))
	}
	d.logger.Warn(ctx, "durable file corrupt, restored last valid backup",
		logger.String("path", d.path),
		logger.String("moved_to", aside),
		logger.Int("entries", len(doc.entries)),
	)
	res.Entries = doc.entries
	res.Legacy = doc.legacy
	res.Skipped = doc.skipped
	res.Restored = true
	return res, nil
}

// Save replaces the durable file with entries. The previous file, when it
// is valid JSON, becomes the backup.
func (d *FileDurable) Save(ctx context.Context, entries map[model.Fingerprint]model.Identity) (err error) {
	defer func() { metrics.RecordDurableWrite(err == nil) }()

	data, err := encodeDocument(entries)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDurableWrite, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if dir := filepath.Dir(d.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: create directory: %w", ErrDurableWrite, err)
		}
	}

	locked, err := d.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("%w: acquire file lock: %w", ErrDurableWrite, err)
	}
	if !locked {
		return fmt.Errorf("%w: file lock not acquired", ErrDurableWrite)
	}
	defer func() { _ = d.lock.Unlock() }()

	if prev, readErr := os.ReadFile(d.path); readErr == nil && len(prev) > 0 && gjson.ValidBytes(prev) {
		if err := writeAtomic(d.path+backupSuffix, prev); err != nil {
			d.logger.Warn(ctx, "could not refresh durable backup", logger.Error(err))
		}
	}

	if err := writeAtomic(d.path, data); err != nil {
		return fmt.Errorf("%w: %w", ErrDurableWrite, err)
	}

	d.logger.Debug(ctx, "saved durable file",
		logger.String("path", d.path),
		logger.Int("entries", len(entries)),
	)
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmpPath := path + tmpSuffix
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, durableFileMode)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
