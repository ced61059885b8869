package batch

import (
	"context"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/facequiz/internal/domain/model"
	"github.com/okian/facequiz/internal/domain/precache"
	"github.com/okian/facequiz/pkg/logger"
)

func init() {
	_ = logger.Init()
	_ = logger.SetLevelString("error")
}

// scriptedPlayer returns prepared outcomes in order and checks the table
// is empty at the start of each session.
type scriptedPlayer struct {
	table    *precache.Table
	outcomes []model.SessionOutcome
	played   int
	dirty    bool
	cancel   func()
}

func (p *scriptedPlayer) Play(context.Context) model.SessionOutcome {
	if p.table.Len() != 0 {
		p.dirty = true
	}
	p.table.Merge(map[model.QuestionID]model.PrecacheEntry{1: {QuestionID: 1}})
	o := p.outcomes[p.played%len(p.outcomes)]
	p.played++
	if p.cancel != nil && p.played == 2 {
		p.cancel()
	}
	return o
}

type recordingPersister struct {
	calls int
	err   error
	ctxOK bool
}

func (p *recordingPersister) Persist(ctx context.Context) error {
	p.calls++
	p.ctxOK = ctx.Err() == nil
	return p.err
}

func TestRun(t *testing.T) {
	Convey("Given a runner over scripted sessions", t, func() {
		player := &scriptedPlayer{outcomes: []model.SessionOutcome{
			{Status: model.SessionCompleted, Score: 30, Correct: 3, Guesses: 10},
			{Status: model.SessionAborted, Error: "start failed"},
			{Status: model.SessionEndedEarly, Score: 50, Correct: 5, Guesses: 6},
		}}
		persister := &recordingPersister{}
		r := New(func(tbl *precache.Table) Player {
			player.table = tbl
			return player
		}, persister, WithRunID(func() string { return "run-1" }))

		Convey("When three sessions run", func() {
			out := r.Run(context.Background(), 3)

			Convey("Then scores aggregate over the started sessions", func() {
				So(out.RunID, ShouldEqual, "run-1")
				So(out.Requested, ShouldEqual, 3)
				So(out.Attempted, ShouldEqual, 3)
				So(out.Started, ShouldEqual, 2)
				So(out.Completed, ShouldEqual, 1)
				So(out.EndedEarly, ShouldEqual, 1)
				So(out.Aborted, ShouldEqual, 1)
				So(out.TotalScore, ShouldEqual, 80)
				So(out.Correct, ShouldEqual, 8)
				So(out.Guesses, ShouldEqual, 16)
				So(out.SessionScores, ShouldResemble, []int{30, 50})
				So(out.BestSession, ShouldEqual, 2)
				So(out.BestScore(), ShouldEqual, 50)
				So(out.Accuracy(), ShouldEqual, 0.5)
			})

			Convey("Then the table is reset between sessions", func() {
				So(player.dirty, ShouldBeFalse)
				So(player.table.Len(), ShouldEqual, 0)
			})

			Convey("Then the store is persisted once", func() {
				So(persister.calls, ShouldEqual, 1)
				So(out.PersistError, ShouldBeEmpty)
			})

			Convey("Then the log closes with the total", func() {
				So(out.Log[len(out.Log)-1], ShouldEqual, "total score 80 over 2 sessions, 8/16 correct")
			})
		})

		Convey("When nothing is requested", func() {
			out := r.Run(context.Background(), 0)

			Convey("Then there is no best session", func() {
				So(out.BestSession, ShouldEqual, -1)
				So(out.BestScore(), ShouldEqual, 0)
				So(out.Accuracy(), ShouldEqual, 0)
				So(persister.calls, ShouldEqual, 1)
			})
		})

		Convey("When persisting fails", func() {
			persister.err = errors.New("disk full")
			out := r.Run(context.Background(), 1)

			Convey("Then the error is recorded, not raised", func() {
				So(out.PersistError, ShouldEqual, "disk full")
				So(out.TotalScore, ShouldEqual, 30)
			})
		})

		Convey("When the run is cancelled after two sessions", func() {
			ctx, cancel := context.WithCancel(context.Background())
			player.cancel = cancel
			out := r.Run(ctx, 3)

			Convey("Then no further session starts and learning is still persisted", func() {
				So(out.Cancelled, ShouldBeTrue)
				So(out.Attempted, ShouldEqual, 2)
				So(persister.calls, ShouldEqual, 1)
				So(persister.ctxOK, ShouldBeTrue)
			})
		})
	})
}

func TestDefaultRunID(t *testing.T) {
	Convey("Run ids are unique uuids by default", t, func() {
		r := New(func(tbl *precache.Table) Player {
			return &scriptedPlayer{table: tbl, outcomes: []model.SessionOutcome{{Status: model.SessionAborted}}}
		}, &recordingPersister{})
		a := r.Run(context.Background(), 0)
		b := r.Run(context.Background(), 0)
		So(a.RunID, ShouldHaveLength, 36)
		So(a.RunID, ShouldNotEqual, b.RunID)
	})
}
