// Package batch runs sequences of quiz sessions and aggregates their results.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/facequiz/internal/domain/model"
	"github.com/okian/facequiz/internal/domain/precache"
	"github.com/okian/facequiz/pkg/logger"
)

// Player plays one session.
type Player interface {
	Play(ctx context.Context) model.SessionOutcome
}

// Persister flushes learned associations to durable storage.
type Persister interface {
	Persist(ctx context.Context) error
}

// PlayerFactory builds the player for a run around the run's precache table.
type PlayerFactory func(table *precache.Table) Player

// Runner plays sessions one after another.
type Runner struct {
	newPlayer PlayerFactory
	persister Persister
	newRunID  func() string
	logger    logger.Logger
}

// New creates a Runner.
func New(newPlayer PlayerFactory, persister Persister, opts ...Option) *Runner {
	r := &Runner{
		newPlayer: newPlayer,
		persister: persister,
		newRunID:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Get().Named("batch")
	}
	return r
}

// Run plays n sessions sequentially and persists the store once at the end.
// Session failures and cancellation are recorded in the outcome, never raised.
func (r *Runner) Run(ctx context.Context, n int) model.BatchOutcome {
	begin := time.Now()
	out := model.BatchOutcome{
		RunID:         r.newRunID(),
		Requested:     n,
		BestSession:   -1,
		SessionScores: []int{},
		Sessions:      []model.SessionOutcome{},
		Log:           []string{},
	}
	logf := func(format string, args ...any) {
		out.Log = append(out.Log, fmt.Sprintf(format, args...))
	}

	table := precache.NewTable()
	player := r.newPlayer(table)
	r.logger.Info(ctx, "batch started", logger.String("run", out.RunID), logger.Int("sessions", n))

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			out.Cancelled = true
			logf("cancelled before session %d: %v", i+1, err)
			break
		}
		table.Reset()
		logf("session %d of %d", i+1, n)

		s := player.Play(ctx)
		out.Attempted++
		out.Sessions = append(out.Sessions, s)
		if !s.Started() {
			out.Aborted++
			logf("session %d aborted: %s", i+1, s.Error)
			continue
		}
		out.Started++
		if s.Status == model.SessionCompleted {
			out.Completed++
		} else {
			out.EndedEarly++
		}
		out.TotalScore += s.Score
		out.Correct += s.Correct
		out.Guesses += s.Guesses
		out.SessionScores = append(out.SessionScores, s.Score)
		if out.BestSession < 0 || s.Score > out.Sessions[out.BestSession].Score {
			out.BestSession = len(out.Sessions) - 1
		}
		logf("session %d scored %d (%d/%d correct)", i+1, s.Score, s.Correct, s.Guesses)
	}
	table.Reset()

	// Persist even after cancellation so nothing learned is lost.
	if err := r.persister.Persist(context.WithoutCancel(ctx)); err != nil {
		out.PersistError = err.Error()
		logf("could not persist associations: %v", err)
		r.logger.Error(ctx, "persist failed", logger.Error(err))
	}

	out.Duration = time.Since(begin)
	logf("total score %d over %d sessions, %d/%d correct", out.TotalScore, out.Started, out.Correct, out.Guesses)
	r.logger.Info(ctx, "batch finished",
		logger.String("run", out.RunID),
		logger.Int("attempted", out.Attempted),
		logger.Int("aborted", out.Aborted),
		logger.Int("score", out.TotalScore),
		logger.Float64("accuracy", out.Accuracy()),
		logger.Duration("took", out.Duration),
	)
	return out
}
