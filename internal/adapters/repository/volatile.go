package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/okian/facequiz/internal/domain/model"
	"github.com/okian/facequiz/pkg/logger"
)

// Volatile is the fast tier of the identity store. Put must update the
// primary entry and both indexes atomically.
type Volatile interface {
	Get(ctx context.Context, fp model.Fingerprint) (model.Identity, error)
	// Put stores fp -> identity and returns the identity it replaced, if any.
	Put(ctx context.Context, fp model.Fingerprint, identity model.Identity) (model.Identity, error)
	// Load bulk-inserts assocs. Existing entries are replaced only when overwrite is set.
	Load(ctx context.Context, assocs []model.Association, overwrite bool) (int, error)
	Members(ctx context.Context, identity model.Identity) ([]model.Fingerprint, error)
	Letter(ctx context.Context, letter string) ([]model.Identity, error)
	All(ctx context.Context) ([]model.Association, error)
	Ping(ctx context.Context) error
	Close() error
}

// Key layout:
//
//	hash:<fp>                 -> identity
//	name:<identity>\x00<fp>   -> (empty) reverse index member
//	letter:<l>\x00<identity>  -> (empty) prefix index member
var (
	hashPrefix   = []byte("hash:")
	namePrefix   = []byte("name:")
	letterPrefix = []byte("letter:")
	pingKey      = []byte("meta:ping")
)

const (
	keySep        = byte(0)
	loadChunkSize = 500
	maxTxnRetries = 3
)

func hashKey(fp model.Fingerprint) []byte {
	return append(append([]byte{}, hashPrefix...), fp...)
}

func nameSetPrefix(id model.Identity) []byte {
	k := append(append([]byte{}, namePrefix...), id...)
	return append(k, keySep)
}

func nameKey(id model.Identity, fp model.Fingerprint) []byte {
	return append(nameSetPrefix(id), fp...)
}

func letterSetPrefix(letter string) []byte {
	k := append(append([]byte{}, letterPrefix...), letter...)
	return append(k, keySep)
}

func letterKey(id model.Identity) []byte {
	return append(letterSetPrefix(id.Letter()), id...)
}

// BadgerConfig configures the badger database behind the volatile tier.
type BadgerConfig struct {
	// Path is the database directory; ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     logger.Logger
}

type badgerLogger struct {
	logger logger.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(context.Background(), fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(context.Background(), fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(context.Background(), fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(context.Background(), fmt.Sprintf(format, args...))
}

// OpenBadger opens the database for the volatile tier.
func OpenBadger(cfg BadgerConfig) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent volatile store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create volatile directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return db, nil
}

// BadgerVolatile implements Volatile on badger.
type BadgerVolatile struct {
	db *badger.DB
}

// NewBadgerVolatile wraps an open database.
func NewBadgerVolatile(db *badger.DB) *BadgerVolatile {
	return &BadgerVolatile{db: db}
}

func (v *BadgerVolatile) Get(_ context.Context, fp model.Fingerprint) (model.Identity, error) {
	var id model.Identity
	err := v.db.View(func(txn *badger.Txn) error {
		got, err := getIdentity(txn, fp)
		id = got
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %w", ErrVolatileUnavailable, err)
	}
	return id, nil
}

func (v *BadgerVolatile) Put(_ context.Context, fp model.Fingerprint, identity model.Identity) (model.Identity, error) {
	var prev model.Identity
	err := v.update(func(txn *badger.Txn) error {
		p, _, err := putTxn(txn, fp, identity, true)
		prev = p
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrVolatileUnavailable, err)
	}
	return prev, nil
}

func (v *BadgerVolatile) Load(_ context.Context, assocs []model.Association, overwrite bool) (int, error) {
	loaded := 0
	for start := 0; start < len(assocs); start += loadChunkSize {
		end := min(start+loadChunkSize, len(assocs))
		chunk := assocs[start:end]
		n := 0
		err := v.update(func(txn *badger.Txn) error {
			n = 0
			for _, a := range chunk {
				_, wrote, err := putTxn(txn, a.Fingerprint, a.Identity, overwrite)
				if err != nil {
					return err
				}
				if wrote {
					n++
				}
			}
			return nil
		})
		if err != nil {
			return loaded, fmt.Errorf("%w: %w", ErrVolatileUnavailable, err)
		}
		loaded += n
	}
	return loaded, nil
}

func (v *BadgerVolatile) Members(_ context.Context, identity model.Identity) ([]model.Fingerprint, error) {
	prefix := nameSetPrefix(identity)
	var out []model.Fingerprint
	err := v.db.View(func(txn *badger.Txn) error {
		return scanKeys(txn, prefix, func(rest []byte) {
			out = append(out, model.Fingerprint(rest))
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVolatileUnavailable, err)
	}
	return out, nil
}

func (v *BadgerVolatile) Letter(_ context.Context, letter string) ([]model.Identity, error) {
	prefix := letterSetPrefix(letter)
	var out []model.Identity
	err := v.db.View(func(txn *badger.Txn) error {
		return scanKeys(txn, prefix, func(rest []byte) {
			out = append(out, model.Identity(rest))
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVolatileUnavailable, err)
	}
	return out, nil
}

func (v *BadgerVolatile) All(_ context.Context) ([]model.Association, error) {
	var out []model.Association
	err := v.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = hashPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(hashPrefix); it.ValidForPrefix(hashPrefix); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			fp := bytes.TrimPrefix(item.KeyCopy(nil), hashPrefix)
			out = append(out, model.Association{Fingerprint: model.Fingerprint(fp), Identity: model.Identity(val)})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVolatileUnavailable, err)
	}
	return out, nil
}

func (v *BadgerVolatile) Ping(_ context.Context) error {
	err := v.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(pingKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVolatileUnavailable, err)
	}
	return nil
}

func (v *BadgerVolatile) Close() error {
	return v.db.Close()
}

func (v *BadgerVolatile) update(fn func(txn *badger.Txn) error) error {
	var err error
	for range maxTxnRetries {
		err = v.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func getIdentity(txn *badger.Txn, fp model.Fingerprint) (model.Identity, error) {
	item, err := txn.Get(hashKey(fp))
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return model.Identity(val), nil
}

// putTxn writes fp -> identity with its index entries inside txn. When fp
// moves to a new identity it leaves the old identity's set, and the old
// identity leaves the prefix index once its set is empty.
func putTxn(txn *badger.Txn, fp model.Fingerprint, identity model.Identity, overwrite bool) (prev model.Identity, wrote bool, err error) {
	prev, err = getIdentity(txn, fp)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		prev = ""
	case err != nil:
		return "", false, err
	case !overwrite:
		return prev, false, nil
	}

	if prev != "" && prev != identity {
		if err := txn.Delete(nameKey(prev, fp)); err != nil {
			return prev, false, err
		}
		empty, err := setEmpty(txn, nameSetPrefix(prev))
		if err != nil {
			return prev, false, err
		}
		if empty {
			if err := txn.Delete(letterKey(prev)); err != nil {
				return prev, false, err
			}
		}
	}

	if err := txn.Set(hashKey(fp), []byte(identity)); err != nil {
		return prev, false, err
	}
	if err := txn.Set(nameKey(identity, fp), nil); err != nil {
		return prev, false, err
	}
	if err := txn.Set(letterKey(identity), nil); err != nil {
		return prev, false, err
	}
	return prev, true, nil
}

func setEmpty(txn *badger.Txn, prefix []byte) (bool, error) {
	found := false
	err := scanKeys(txn, prefix, func([]byte) { found = true })
	return !found, err
}

func scanKeys(txn *badger.Txn, prefix []byte, fn func(rest []byte)) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		fn(bytes.TrimPrefix(it.Item().KeyCopy(nil), prefix))
	}
	return nil
}
