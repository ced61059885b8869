// Package service wires the quiz runner, the identity store and the remote
// client together and exposes the operations used by the HTTP API and CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/facequiz/internal/adapters/gameclient"
	repository "github.com/okian/facequiz/internal/adapters/repository"
	"github.com/okian/facequiz/internal/domain/batch"
	"github.com/okian/facequiz/internal/domain/model"
	"github.com/okian/facequiz/internal/domain/precache"
	"github.com/okian/facequiz/internal/domain/session"
	"github.com/okian/facequiz/pkg/logger"
	"github.com/okian/facequiz/pkg/metrics"
)

// ErrNotStarted is returned by operations called before Start.
var ErrNotStarted = errors.New("service not started")

// Service implements the API dependencies for the quiz runner.
type Service struct {
	mu    sync.RWMutex
	runMu sync.Mutex

	// Core components
	client    *gameclient.Client
	store     *repository.IdentityStore
	precacher *precache.Scheduler
	runner    *batch.Runner

	// Configuration
	apiBaseURL          string
	headers             map[string]string
	requestTimeout      time.Duration
	questionInterval    time.Duration
	durablePath         string
	volatileEnabled     bool
	volatilePath        string
	writeThrough        bool
	recoveryInterval    time.Duration
	precacheConcurrency int
	questionsPerSession int

	// State
	started bool
	runs    int
	lastRun *model.BatchOutcome
	initRep repository.InitReport

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithAPIBaseURL sets the remote game API root.
func WithAPIBaseURL(u string) Option {
	return func(s *Service) {
		if u != "" {
			s.apiBaseURL = u
		}
	}
}

// WithRemoteHeaders sets headers sent with every remote request.
func WithRemoteHeaders(h map[string]string) Option {
	return func(s *Service) {
		s.headers = h
	}
}

// WithRequestTimeout bounds every remote call.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

// WithQuestionInterval spaces game calls; zero disables pacing.
func WithQuestionInterval(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.questionInterval = d
		}
	}
}

// WithDurablePath sets the association file.
func WithDurablePath(path string) Option {
	return func(s *Service) {
		if path != "" {
			s.durablePath = path
		}
	}
}

// WithVolatile enables the badger tier, on disk when path is set.
func WithVolatile(enabled bool, path string) Option {
	return func(s *Service) {
		s.volatileEnabled = enabled
		s.volatilePath = path
	}
}

// WithDurableWriteThrough flushes the durable file on every learn.
func WithDurableWriteThrough(enabled bool) Option {
	return func(s *Service) {
		s.writeThrough = enabled
	}
}

// WithRecoveryInterval spaces probes of a degraded volatile tier.
func WithRecoveryInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.recoveryInterval = d
		}
	}
}

// WithPrecacheConcurrency caps parallel picture fetches.
func WithPrecacheConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.precacheConcurrency = n
		}
	}
}

// WithQuestionsPerSession sets the precache window of a session.
func WithQuestionsPerSession(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.questionsPerSession = n
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		apiBaseURL:          "https://aramis.ilucca.net/faces/api",
		headers:             map[string]string{},
		requestTimeout:      15 * time.Second,
		durablePath:         "faces_data.json",
		volatileEnabled:     true,
		recoveryInterval:    5 * time.Second,
		precacheConcurrency: 4,
		questionsPerSession: 10,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the store, awaits its initialization and builds the runner.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting facequiz service...")

	clientOpts := []gameclient.Option{
		gameclient.WithTimeout(s.requestTimeout),
		gameclient.WithHeaders(s.headers),
		gameclient.WithLogger(s.logger.Named("gameclient")),
	}
	if s.questionInterval > 0 {
		clientOpts = append(clientOpts, gameclient.WithRateLimit(s.questionInterval))
	}
	client, err := gameclient.New(s.apiBaseURL, clientOpts...)
	if err != nil {
		return err
	}

	var volatile repository.Volatile
	if s.volatileEnabled {
		db, err := repository.OpenBadger(repository.BadgerConfig{
			Path:     s.volatilePath,
			InMemory: s.volatilePath == "",
			Logger:   s.logger.Named("badger"),
		})
		if err != nil {
			// The store runs durable-only without the volatile tier.
			s.logger.Warn(ctx, "volatile tier unavailable", logger.Error(err))
		} else {
			volatile = repository.NewBadgerVolatile(db)
		}
	}

	store := repository.NewIdentityStore(volatile,
		repository.NewFileDurable(s.durablePath, s.logger.Named("durable")),
		repository.WithWriteThrough(s.writeThrough),
		repository.WithRecoveryInterval(s.recoveryInterval),
		repository.WithLogger(s.logger.Named("store")),
	)
	report, err := store.Init(ctx)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("init identity store: %w", err)
	}
	if report.Corrupt != nil {
		s.logger.Warn(ctx, "durable file was corrupt", logger.Error(report.Corrupt), logger.Bool("restored", report.Restored))
	}

	s.client = client
	s.store = store
	s.initRep = report
	s.precacher = precache.New(client, store,
		precache.WithConcurrency(s.precacheConcurrency),
		precache.WithLogger(s.logger.Named("precache")),
	)
	s.runner = batch.New(func(table *precache.Table) batch.Player {
		return session.New(client, store,
			session.WithPrecacher(s.precacher),
			session.WithTable(table),
			session.WithQuestionsPerSession(s.questionsPerSession),
			session.WithLogger(s.logger.Named("session")),
		)
	}, store, batch.WithLogger(s.logger.Named("batch")))

	s.started = true
	s.logger.Info(ctx, "facequiz service started",
		logger.String("durablePath", s.durablePath),
		logger.Bool("volatile", volatile != nil),
		logger.Int("associations", report.Total),
	)
	return nil
}

// Stop flushes pending associations and closes the store.
func (s *Service) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping facequiz service...")

	if err := s.store.Persist(ctx); err != nil {
		s.logger.Error(ctx, "final persist failed", logger.Error(err))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn(ctx, "closing store failed", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "facequiz service stopped")
}

func (s *Service) components() (*repository.IdentityStore, *batch.Runner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, nil, ErrNotStarted
	}
	return s.store, s.runner, nil
}

// RunBatch plays n sessions. Only one batch runs at a time; overlapping
// calls fail with batch.ErrAlreadyRunning.
func (s *Service) RunBatch(ctx context.Context, n int) (model.BatchOutcome, error) {
	if !s.runMu.TryLock() {
		return model.BatchOutcome{}, batch.ErrAlreadyRunning
	}
	defer s.runMu.Unlock()

	store, runner, err := s.components()
	if err != nil {
		return model.BatchOutcome{}, err
	}

	out := runner.Run(ctx, n)
	metrics.UpdateAssociationCount(store.Count(ctx))

	s.mu.Lock()
	s.runs++
	s.lastRun = &out
	s.mu.Unlock()
	return out, nil
}

// Lookup returns the identity learned for a fingerprint.
func (s *Service) Lookup(ctx context.Context, raw string) (model.Identity, error) {
	store, _, err := s.components()
	if err != nil {
		return "", err
	}
	fp, ok := model.ParseFingerprint(raw)
	if !ok {
		return "", repository.ErrInvalidFingerprint
	}
	return store.Lookup(ctx, fp)
}

// SearchByIdentity lists the fingerprints learned for a name.
func (s *Service) SearchByIdentity(ctx context.Context, name string) ([]model.Fingerprint, error) {
	store, _, err := s.components()
	if err != nil {
		return nil, err
	}
	return store.SearchByIdentity(ctx, model.Identity(name))
}

// SearchByLetter lists the identities starting with letter.
func (s *Service) SearchByLetter(ctx context.Context, letter string) ([]model.Identity, error) {
	store, _, err := s.components()
	if err != nil {
		return nil, err
	}
	return store.SearchByLetter(ctx, letter)
}

// ExportDocument renders every association as the durable JSON document.
func (s *Service) ExportDocument(ctx context.Context) ([]byte, error) {
	store, _, err := s.components()
	if err != nil {
		return nil, err
	}
	return store.ExportDocument(ctx)
}

// ImportDocument merges an association document and persists the result.
func (s *Service) ImportDocument(ctx context.Context, data []byte) (repository.ImportReport, error) {
	store, _, err := s.components()
	if err != nil {
		return repository.ImportReport{}, err
	}
	report, err := store.ImportDocument(ctx, data)
	if err != nil {
		return report, err
	}
	metrics.UpdateAssociationCount(store.Count(ctx))
	if err := store.Persist(ctx); err != nil {
		return report, err
	}
	s.logger.Info(ctx, "associations imported",
		logger.Int("added", report.Added),
		logger.Int("kept", report.Kept),
		logger.Int("skipped", report.Skipped),
	)
	return report, nil
}

// Count returns the number of learned associations.
func (s *Service) Count(ctx context.Context) int {
	store, _, err := s.components()
	if err != nil {
		return 0
	}
	return store.Count(ctx)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":             s.started,
		"durablePath":         s.durablePath,
		"volatileEnabled":     s.volatileEnabled,
		"precacheConcurrency": s.precacheConcurrency,
		"questionsPerSession": s.questionsPerSession,
		"runs":                s.runs,
	}

	if s.started {
		count := s.store.Count(context.Background())
		stats["associations"] = count
		stats["degraded"] = s.store.Degraded()
		stats["dirty"] = s.store.Dirty()
		stats["restored"] = s.initRep.Restored
		metrics.UpdateAssociationCount(count)
	}
	if s.lastRun != nil {
		stats["lastRun"] = map[string]interface{}{
			"runId":      s.lastRun.RunID,
			"totalScore": s.lastRun.TotalScore,
			"accuracy":   s.lastRun.Accuracy(),
			"started":    s.lastRun.Started,
			"completed":  s.lastRun.Completed,
			"aborted":    s.lastRun.Aborted,
		}
	}

	return stats
}
