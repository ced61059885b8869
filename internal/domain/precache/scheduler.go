// Package precache prefetches and fingerprints the pictures of upcoming
// questions so guesses can be resolved without waiting on the network.
package precache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/facequiz/internal/domain/fingerprint"
	"github.com/okian/facequiz/internal/domain/model"
	"github.com/okian/facequiz/pkg/logger"
	"github.com/okian/facequiz/pkg/metrics"
)

const defaultConcurrency = 4

// ImageFetcher downloads a question's picture by id.
type ImageFetcher interface {
	FetchQuestionImage(ctx context.Context, sid model.SessionID, qid model.QuestionID) ([]byte, error)
}

// Resolver looks a fingerprint up in the identity store.
type Resolver interface {
	Lookup(ctx context.Context, fp model.Fingerprint) (model.Identity, error)
}

// Scheduler fans picture fetches out with bounded concurrency.
type Scheduler struct {
	fetcher     ImageFetcher
	resolver    Resolver
	concurrency int
	logger      logger.Logger
}

// New creates a Scheduler.
func New(fetcher ImageFetcher, resolver Resolver, opts ...Option) *Scheduler {
	s := &Scheduler{
		fetcher:     fetcher,
		resolver:    resolver,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("precache")
	}
	return s
}

// Precache fetches the pictures of questions start .. start+count-1 and
// returns what it could resolve. It blocks until every fetch has settled.
// Individual failures leave their entry out; the batch itself never fails.
func (s *Scheduler) Precache(ctx context.Context, sid model.SessionID, start model.QuestionID, count int) map[model.QuestionID]model.PrecacheEntry {
	out := make(map[model.QuestionID]model.PrecacheEntry, max(count, 0))
	if count <= 0 {
		return out
	}

	begin := time.Now()
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i := 0; i < count; i++ {
		if gctx.Err() != nil {
			break
		}
		qid := start + model.QuestionID(i)
		g.Go(func() error {
			entry, ok := s.one(gctx, sid, qid)
			if ok {
				mu.Lock()
				out[qid] = entry
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	metrics.RecordPrecacheLatency(float64(time.Since(begin).Milliseconds()))
	s.logger.Debug(ctx, "precache finished",
		logger.String("session", string(sid)),
		logger.Int64("start", int64(start)),
		logger.Int("requested", count),
		logger.Int("cached", len(out)),
	)
	return out
}

func (s *Scheduler) one(ctx context.Context, sid model.SessionID, qid model.QuestionID) (model.PrecacheEntry, bool) {
	data, err := s.fetcher.FetchQuestionImage(ctx, sid, qid)
	if err != nil {
		metrics.RecordPrecacheFetch("fetch_error")
		s.logger.Debug(ctx, "precache fetch failed", logger.Int64("question", int64(qid)), logger.Error(err))
		return model.PrecacheEntry{}, false
	}
	fp, err := fingerprint.Compute(data)
	if err != nil {
		metrics.RecordPrecacheFetch("empty")
		return model.PrecacheEntry{}, false
	}

	entry := model.PrecacheEntry{QuestionID: qid, Fingerprint: fp}
	// A miss and a failed lookup both leave the identity empty; the
	// fingerprint is still worth keeping for learning after the guess.
	if id, err := s.resolver.Lookup(ctx, fp); err == nil {
		entry.Identity = id
		metrics.RecordPrecacheFetch("known")
	} else {
		metrics.RecordPrecacheFetch("unknown")
	}
	return entry, true
}
