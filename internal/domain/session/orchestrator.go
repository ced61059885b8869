// Package session plays one quiz session against the remote game, guessing
// from learned identities and learning from every verdict.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/facequiz/internal/adapters/gameclient"
	"github.com/okian/facequiz/internal/domain/fingerprint"
	"github.com/okian/facequiz/internal/domain/model"
	"github.com/okian/facequiz/internal/domain/precache"
	"github.com/okian/facequiz/pkg/logger"
	"github.com/okian/facequiz/pkg/metrics"
)

const defaultQuestionsPerSession = 10

// Game is the part of the remote API a session needs.
type Game interface {
	StartSession(ctx context.Context) (model.SessionID, error)
	NextQuestion(ctx context.Context, sid model.SessionID) (model.Question, error)
	FetchQuestionImage(ctx context.Context, sid model.SessionID, qid model.QuestionID) ([]byte, error)
	FetchImage(ctx context.Context, locator string) ([]byte, error)
	SubmitGuess(ctx context.Context, sid model.SessionID, q model.Question, s model.Suggestion) (model.Verdict, error)
}

// Store is the part of the identity store a session needs.
type Store interface {
	Lookup(ctx context.Context, fp model.Fingerprint) (model.Identity, error)
	Learn(ctx context.Context, fp model.Fingerprint, identity model.Identity) error
}

// Precacher fetches a window of pictures ahead of time.
type Precacher interface {
	Precache(ctx context.Context, sid model.SessionID, start model.QuestionID, count int) map[model.QuestionID]model.PrecacheEntry
}

// Orchestrator drives sessions. One Orchestrator plays sessions one at a
// time; Play must not be called concurrently on the same instance.
type Orchestrator struct {
	game                Game
	store               Store
	precacher           Precacher
	table               *precache.Table
	questionsPerSession int
	logger              logger.Logger
}

// New creates an Orchestrator.
func New(game Game, store Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		game:                game,
		store:               store,
		questionsPerSession: defaultQuestionsPerSession,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.table == nil {
		o.table = precache.NewTable()
	}
	if o.logger == nil {
		o.logger = logger.Get().Named("session")
	}
	return o
}

// play is the state of one session in progress.
type play struct {
	o       *Orchestrator
	state   State
	sid     model.SessionID
	first   bool
	asked   int
	outcome model.SessionOutcome
}

func (p *play) logf(format string, args ...any) {
	p.outcome.Log = append(p.outcome.Log, fmt.Sprintf(format, args...))
}

func (p *play) enter(ctx context.Context, next State) {
	p.o.logger.Debug(ctx, "session transition",
		logger.String("session", string(p.sid)),
		logger.String("from", p.state.String()),
		logger.String("to", next.String()),
	)
	p.state = next
}

// Play runs one session to completion. It never fails: every problem is
// recorded in the returned outcome.
func (o *Orchestrator) Play(ctx context.Context) model.SessionOutcome {
	begin := time.Now()
	p := &play{o: o, state: StateCreated, first: true}
	defer func() {
		p.outcome.Duration = time.Since(begin)
	}()

	sid, err := o.game.StartSession(ctx)
	if err != nil {
		p.outcome.Status = model.SessionAborted
		p.outcome.Error = err.Error()
		p.logf("could not start session: %v", err)
		o.logger.Warn(ctx, "session start failed", logger.Error(err))
		metrics.RecordSession(string(model.SessionAborted))
		p.enter(ctx, StateTerminal)
		return p.outcome
	}
	p.sid = sid
	p.outcome.SessionID = sid
	p.logf("session %s started", sid)
	p.enter(ctx, StateAwaitingQuestion)

	for p.state == StateAwaitingQuestion {
		p.step(ctx)
	}

	p.finish(ctx)
	return p.outcome
}

// step plays one question, from fetching it to its verdict.
func (p *play) step(ctx context.Context) {
	o := p.o
	if err := ctx.Err(); err != nil {
		p.end(ctx, model.SessionEndedEarly, fmt.Errorf("cancelled: %w", err))
		return
	}
	if p.asked >= o.questionsPerSession {
		p.logf("all %d questions played", p.asked)
		p.end(ctx, model.SessionCompleted, nil)
		return
	}

	q, err := o.game.NextQuestion(ctx, p.sid)
	switch {
	case errors.Is(err, gameclient.ErrNoMoreQuestions):
		p.logf("no more questions")
		p.end(ctx, model.SessionCompleted, nil)
		return
	case err != nil:
		p.end(ctx, model.SessionEndedEarly, err)
		return
	}
	p.asked++
	p.logf("question %d with %d candidates", q.ID, len(q.Suggestions))

	if p.first {
		p.first = false
		if o.precacher != nil {
			entries := o.precacher.Precache(ctx, p.sid, q.ID, o.questionsPerSession)
			o.table.Merge(entries)
			p.logf("precached %d of %d pictures", len(entries), o.questionsPerSession)
		}
	}

	p.enter(ctx, StateResolvingGuess)
	rec := model.GuessRecord{QuestionID: q.ID}
	if len(q.Suggestions) == 0 {
		rec.Error = "question has no candidates"
		p.outcome.Failures++
		p.outcome.Questions = append(p.outcome.Questions, rec)
		p.logf("question %d skipped: no candidates", q.ID)
		p.enter(ctx, StateAwaitingQuestion)
		return
	}

	fp, known, source := p.resolve(ctx, q)
	rec.Fingerprint = string(fp)
	rec.Known = known
	choice, ok := q.SuggestionFor(known)
	if !ok {
		choice = q.Suggestions[0]
		source = "fallback"
	}
	rec.Source = source
	rec.SuggestionID = choice.ID
	rec.Suggestion = choice.Name
	if known.Empty() {
		p.logf("unknown face, guessing %q", choice.Name)
	} else if ok {
		p.logf("recognized %q from %s", known, source)
	} else {
		p.logf("recognized %q but not among candidates, guessing %q", known, choice.Name)
	}

	verdict, err := o.game.SubmitGuess(ctx, p.sid, q, choice)
	p.enter(ctx, StateSubmitted)
	if err != nil {
		rec.Error = err.Error()
		p.outcome.Failures++
		p.outcome.Questions = append(p.outcome.Questions, rec)
		metrics.RecordGuess("failed")
		p.logf("guess for question %d failed: %v", q.ID, err)
		o.logger.Warn(ctx, "guess submission failed",
			logger.String("session", string(p.sid)),
			logger.Int64("question", int64(q.ID)),
			logger.Error(err),
		)
		p.enter(ctx, StateAwaitingQuestion)
		return
	}

	rec.Correct = verdict.Correct
	rec.Score = verdict.Score
	p.outcome.Guesses++
	p.outcome.Score += verdict.Score
	if verdict.Correct {
		p.outcome.Correct++
		metrics.RecordGuess("correct")
		p.logf("correct, +%d", verdict.Score)
	} else {
		metrics.RecordGuess("wrong")
		p.logf("wrong, the answer was %q", verdict.CorrectName)
	}
	p.outcome.Questions = append(p.outcome.Questions, rec)

	p.learn(ctx, fp, verdict.CorrectName)
	p.enter(ctx, StateAwaitingQuestion)
}

// resolve finds the fingerprint and, if learned, the identity behind q's
// picture. The precache table is consulted first, the network second.
// On demand the canonical picture endpoint is read first, as in the
// precache; the question's own locator is only tried when it fails.
func (p *play) resolve(ctx context.Context, q model.Question) (model.Fingerprint, model.Identity, string) {
	o := p.o
	if entry, ok := o.table.Take(q.ID); ok {
		if !entry.Identity.Empty() {
			return entry.Fingerprint, entry.Identity, "precache"
		}
		// Learned since the window was fetched, perhaps earlier in this session.
		id, _ := o.store.Lookup(ctx, entry.Fingerprint)
		return entry.Fingerprint, id, "lookup"
	}

	data, err := o.game.FetchQuestionImage(ctx, p.sid, q.ID)
	if err != nil && q.ImageLocator != "" {
		data, err = o.game.FetchImage(ctx, q.ImageLocator)
	}
	if err != nil {
		p.logf("picture for question %d unavailable: %v", q.ID, err)
		return "", "", "fallback"
	}
	fp, err := fingerprint.Compute(data)
	if err != nil {
		return "", "", "fallback"
	}
	id, _ := o.store.Lookup(ctx, fp)
	return fp, id, "lookup"
}

func (p *play) learn(ctx context.Context, fp model.Fingerprint, identity model.Identity) {
	if fp == "" || identity.Empty() {
		return
	}
	if err := p.o.store.Learn(ctx, fp, identity); err != nil {
		p.logf("could not learn %q: %v", identity, err)
		p.o.logger.Warn(ctx, "learn failed",
			logger.String("fingerprint", string(fp)),
			logger.String("identity", string(identity)),
			logger.Error(err),
		)
		return
	}
	p.outcome.Learned++
}

func (p *play) end(ctx context.Context, status model.SessionStatus, err error) {
	p.outcome.Status = status
	if err != nil {
		p.outcome.Error = err.Error()
		p.logf("session ended early: %v", err)
	}
	p.enter(ctx, StateFinished)
}

func (p *play) finish(ctx context.Context) {
	p.logf("session %s finished: score %d, %d/%d correct", p.sid, p.outcome.Score, p.outcome.Correct, p.outcome.Guesses)
	metrics.RecordSession(string(p.outcome.Status))
	metrics.RecordSessionScore(p.outcome.Score)
	p.o.logger.Info(ctx, "session finished",
		logger.String("session", string(p.sid)),
		logger.String("status", string(p.outcome.Status)),
		logger.Int("score", p.outcome.Score),
		logger.Int("correct", p.outcome.Correct),
		logger.Int("guesses", p.outcome.Guesses),
		logger.Int("learned", p.outcome.Learned),
	)
	p.enter(ctx, StateTerminal)
}
